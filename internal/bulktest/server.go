// Package bulktest runs an in-process fake of the bulk job/batch service,
// the OAuth token endpoint and the sObject REST delete endpoint.
package bulktest

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/bulkforce/internal/record"
)

// Credentials accepted by the fake OAuth endpoint.
const (
	Token        = "00Dfake!session"
	ClientID     = "client-id"
	ClientSecret = "client-secret"
	Username     = "user@example.com"
	Password     = "hunter2"
	SecurityKey  = "tok3n"
)

const asyncNS = "http://www.force.com/2009/06/asyncapi/dataload"

// Server is a fake bulk service. Exported fields configure behaviour and
// must be set before the first request.
type Server struct {
	*httptest.Server

	// PollsUntilComplete is the number of status checks a batch reports
	// InProgress before reaching FinalState.
	PollsUntilComplete int

	// BatchPolls overrides PollsUntilComplete for a batch given its
	// submitted rows. A negative result keeps PollsUntilComplete.
	BatchPolls func(rows []record.Row) int

	// FinalState is the terminal batch state, Completed by default.
	FinalState string

	// StateMessage is reported alongside FinalState.
	StateMessage string

	// FailCreateJob, FailCreateBatch and FailCloseJob make the matching
	// call answer 400 with a service error body.
	FailCreateJob   bool
	FailCreateBatch bool
	FailCloseJob    bool

	// FailStatus makes batch status checks answer 500.
	FailStatus bool

	// XMLStatus answers every batch status call in XML.
	XMLStatus bool

	// FailRow returns a non-empty error message for rows the service
	// should reject.
	FailRow func(record.Row) string

	// QueryParts are served as the result parts of every query batch.
	QueryParts [][]record.Row

	// FailPart is the index of a query result part that answers 500.
	// Negative disables it.
	FailPart int

	// ShortResult drops the last outcome from load results.
	ShortResult bool

	// FailDelete lists record ids the REST delete endpoint refuses.
	FailDelete map[string]bool

	mu      sync.Mutex
	seq     int
	jobs    map[string]*job
	batches map[string]*batch
	closes  int
	deleted []string
	done    [][]record.Row
}

type job struct {
	info    jobInfo
	batches []string
}

type batch struct {
	id      string
	jobID   string
	csv     bool
	rows    []record.Row
	query   string
	polls   int
	state   string
	message string
}

type jobInfo struct {
	ID              string  `json:"id"`
	Operation       string  `json:"operation"`
	Object          string  `json:"object"`
	State           string  `json:"state"`
	ContentType     string  `json:"contentType"`
	ExternalIDField string  `json:"externalIdFieldName,omitempty"`
	APIVersion      float64 `json:"apiVersion"`
	NumberBatches   int     `json:"numberBatchesTotal"`
}

type batchInfo struct {
	XMLName      xml.Name `json:"-" xml:"batchInfo"`
	XMLNS        string   `json:"-" xml:"xmlns,attr"`
	ID           string   `json:"id" xml:"id"`
	JobID        string   `json:"jobId" xml:"jobId"`
	State        string   `json:"state" xml:"state"`
	StateMessage string   `json:"stateMessage,omitempty" xml:"stateMessage,omitempty"`
	Processed    int      `json:"numberRecordsProcessed" xml:"numberRecordsProcessed"`
	Failed       int      `json:"numberRecordsFailed" xml:"numberRecordsFailed"`
}

// New starts a fake service that is shut down when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		FinalState: "Completed",
		FailPart:   -1,
		jobs:       make(map[string]*job),
		batches:    make(map[string]*batch),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/services/oauth2/token", s.handleToken)

	r.Route("/services/async/{version}/job", func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/", s.handleCreateJob)
		r.Get("/{jobID}", s.handleGetJob)
		r.Post("/{jobID}", s.handleCloseJob)
		r.Post("/{jobID}/batch", s.handleCreateBatch)
		r.Get("/{jobID}/batch/{batchID}", s.handleBatchStatus)
		r.Get("/{jobID}/batch/{batchID}/request", s.handleBatchRequest)
		r.Get("/{jobID}/batch/{batchID}/result", s.handleBatchResult)
		r.Get("/{jobID}/batch/{batchID}/result/{partID}", s.handleResultPart)
	})

	r.Delete("/services/data/{version}/sobjects/{object}/{id}", s.handleDelete)
	return r
}

// CloseCalls returns how many close-job requests were received.
func (s *Server) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// BatchCount returns the number of batches created across all jobs.
func (s *Server) BatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// JobState returns the state of a job, or "" if unknown.
func (s *Server) JobState(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.info.State
	}
	return ""
}

// CompletedBatches returns the rows of every batch in the order the
// batches reached their final state.
func (s *Server) CompletedBatches() [][]record.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]record.Row(nil), s.done...)
}

// Deleted returns the record ids removed through the REST endpoint.
func (s *Server) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func (s *Server) pollsFor(b *batch) int {
	if s.BatchPolls != nil {
		if n := s.BatchPolls(b.rows); n >= 0 {
			return n
		}
	}
	return s.PollsUntilComplete
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%012d", prefix, s.seq)
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-SFDC-Session") != Token {
			writeServiceError(w, http.StatusUnauthorized, "InvalidSessionId", "Invalid session id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(v)
}

func writeServiceError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"exceptionCode": code, "exceptionMessage": msg})
}

func isCSV(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv")
}
