package bulktest

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bulkforce/internal/csvutil"
	"github.com/JonMunkholm/bulkforce/internal/record"
)

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	ok := r.Form.Get("grant_type") == "password" &&
		r.Form.Get("client_id") == ClientID &&
		r.Form.Get("client_secret") == ClientSecret &&
		r.Form.Get("username") == Username &&
		r.Form.Get("password") == Password+SecurityKey
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "authentication failure",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": Token,
		"instance_url": s.URL,
		"token_type":   "Bearer",
	})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var spec struct {
		Operation       string `json:"operation"`
		Object          string `json:"object"`
		ContentType     string `json:"contentType"`
		ExternalIDField string `json:"externalIdFieldName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeServiceError(w, http.StatusBadRequest, "InvalidJob", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCreateJob {
		writeServiceError(w, http.StatusBadRequest, "InvalidJob", "Unable to create job")
		return
	}
	if spec.Operation == "upsert" && spec.ExternalIDField == "" {
		writeServiceError(w, http.StatusBadRequest, "InvalidJob", "External ID was blank for "+spec.Object)
		return
	}

	j := &job{info: jobInfo{
		ID:              s.nextID("750"),
		Operation:       spec.Operation,
		Object:          spec.Object,
		State:           "Open",
		ContentType:     spec.ContentType,
		ExternalIDField: spec.ExternalIDField,
		APIVersion:      38.0,
	}}
	s.jobs[j.info.ID] = j
	writeJSON(w, http.StatusCreated, j.info)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) *job {
	j, ok := s.jobs[chi.URLParam(r, "jobID")]
	if !ok {
		writeServiceError(w, http.StatusBadRequest, "InvalidJob", "Invalid job id")
		return nil
	}
	return j
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.lookupJob(w, r)
	if j == nil {
		return
	}
	info := j.info
	info.NumberBatches = len(j.batches)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCloseJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State string `json:"state"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closes++
	j := s.lookupJob(w, r)
	if j == nil {
		return
	}
	if s.FailCloseJob {
		writeServiceError(w, http.StatusInternalServerError, "InvalidJobState", "Job could not be closed")
		return
	}
	if body.State != "Closed" {
		writeServiceError(w, http.StatusBadRequest, "InvalidJobState", "Unsupported state "+body.State)
		return
	}
	j.info.State = "Closed"
	writeJSON(w, http.StatusOK, j.info)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeServiceError(w, http.StatusBadRequest, "InvalidBatch", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.lookupJob(w, r)
	if j == nil {
		return
	}
	if s.FailCreateBatch {
		writeServiceError(w, http.StatusBadRequest, "InvalidBatch", "Records not processed")
		return
	}
	if j.info.State != "Open" {
		writeServiceError(w, http.StatusBadRequest, "InvalidJobState", "Job is not open")
		return
	}

	b := &batch{id: s.nextID("751"), jobID: j.info.ID, csv: isCSV(r), state: "Queued"}
	switch {
	case j.info.Operation == "query":
		b.query = string(body)
	case b.csv:
		rows, err := csvutil.ParseRows(body)
		if err != nil {
			writeServiceError(w, http.StatusBadRequest, "InvalidBatch", err.Error())
			return
		}
		b.rows = rows
	default:
		if err := json.Unmarshal(body, &b.rows); err != nil {
			writeServiceError(w, http.StatusBadRequest, "InvalidBatch", err.Error())
			return
		}
	}

	s.batches[b.id] = b
	j.batches = append(j.batches, b.id)
	s.writeBatch(w, http.StatusCreated, b)
}

func (s *Server) writeBatch(w http.ResponseWriter, status int, b *batch) {
	info := batchInfo{
		XMLNS:        asyncNS,
		ID:           b.id,
		JobID:        b.jobID,
		State:        b.state,
		StateMessage: b.message,
	}
	if b.state == "Completed" {
		info.Processed = len(b.rows)
		for _, row := range b.rows {
			if s.failMessage(row) != "" {
				info.Failed++
			}
		}
	}
	if b.csv || s.XMLStatus {
		writeXML(w, status, info)
		return
	}
	writeJSON(w, status, info)
}

func (s *Server) lookupBatch(w http.ResponseWriter, r *http.Request) *batch {
	b, ok := s.batches[chi.URLParam(r, "batchID")]
	if !ok || b.jobID != chi.URLParam(r, "jobID") {
		writeServiceError(w, http.StatusBadRequest, "InvalidBatch", "Invalid batch id")
		return nil
	}
	return b
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailStatus {
		writeServiceError(w, http.StatusInternalServerError, "ServerUnavailable", "Status unavailable")
		return
	}
	b := s.lookupBatch(w, r)
	if b == nil {
		return
	}

	b.polls++
	switch {
	case b.polls > s.pollsFor(b):
		if b.state != s.FinalState {
			s.done = append(s.done, b.rows)
		}
		b.state = s.FinalState
		b.message = s.StateMessage
	default:
		b.state = "InProgress"
	}
	s.writeBatch(w, http.StatusOK, b)
}

func (s *Server) handleBatchRequest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.lookupBatch(w, r)
	if b == nil {
		return
	}
	if b.csv {
		data, _ := csvutil.Encode(b.rows)
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write(data)
		return
	}
	rows := b.rows
	if rows == nil {
		rows = []record.Row{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleBatchResult(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.lookupBatch(w, r)
	if b == nil {
		return
	}
	if !isTerminal(b.state) {
		writeServiceError(w, http.StatusBadRequest, "InvalidBatch", "Batch not completed")
		return
	}

	if s.jobs[b.jobID].info.Operation == "query" {
		list := struct {
			XMLName xml.Name `xml:"result-list"`
			XMLNS   string   `xml:"xmlns,attr"`
			Results []string `xml:"result"`
		}{XMLNS: asyncNS}
		for i := range s.QueryParts {
			list.Results = append(list.Results, partID(i))
		}
		writeXML(w, http.StatusOK, list)
		return
	}

	rows := b.rows
	if s.ShortResult && len(rows) > 0 {
		rows = rows[:len(rows)-1]
	}
	if b.csv {
		s.writeCSVOutcomes(w, b, rows)
		return
	}

	type rowError struct {
		StatusCode string   `json:"statusCode"`
		Message    string   `json:"message"`
		Fields     []string `json:"fields"`
	}
	type outcome struct {
		Success bool       `json:"success"`
		Created bool       `json:"created"`
		ID      *string    `json:"id"`
		Errors  []rowError `json:"errors"`
	}
	out := make([]outcome, len(rows))
	for i, row := range rows {
		if msg := s.failMessage(row); msg != "" {
			code, text := splitMessage(msg)
			out[i] = outcome{Errors: []rowError{{StatusCode: code, Message: text, Fields: []string{}}}}
			continue
		}
		id := recordID(b.id, i)
		out[i] = outcome{Success: true, Created: true, ID: &id, Errors: []rowError{}}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeCSVOutcomes(w http.ResponseWriter, b *batch, rows []record.Row) {
	out := make([]record.Row, len(rows))
	for i, row := range rows {
		o := record.Row{
			{Name: "Id", Value: ""},
			{Name: "Success", Value: "true"},
			{Name: "Created", Value: "true"},
			{Name: "Error", Value: ""},
		}
		if msg := s.failMessage(row); msg != "" {
			o = o.With("Success", "false").With("Created", "false").With("Error", msg)
		} else {
			o = o.With("Id", recordID(b.id, i))
		}
		out[i] = o
	}
	data, _ := csvutil.Encode(out)
	w.Header().Set("Content-Type", "text/csv")
	_, _ = w.Write(data)
}

func (s *Server) handleResultPart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b := s.lookupBatch(w, r); b == nil {
		return
	}
	id := chi.URLParam(r, "partID")
	for i, part := range s.QueryParts {
		if partID(i) != id {
			continue
		}
		if i == s.FailPart {
			writeServiceError(w, http.StatusInternalServerError, "ServerUnavailable", "Result part unavailable")
			return
		}
		data, _ := csvutil.Encode(part)
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write(data)
		return
	}
	writeServiceError(w, http.StatusNotFound, "InvalidBatch", "Unknown result "+id)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+Token {
		writeJSON(w, http.StatusUnauthorized, []map[string]string{{
			"errorCode": "INVALID_SESSION_ID",
			"message":   "Session expired or invalid",
		}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := chi.URLParam(r, "id")
	if s.FailDelete[id] {
		writeJSON(w, http.StatusNotFound, []map[string]string{{
			"errorCode": "ENTITY_IS_DELETED",
			"message":   "entity is deleted",
		}})
		return
	}
	s.deleted = append(s.deleted, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) failMessage(row record.Row) string {
	if s.FailRow == nil {
		return ""
	}
	return s.FailRow(row)
}

func isTerminal(state string) bool {
	return state == "Completed" || state == "Failed" || state == "Not Processed"
}

func partID(i int) string { return fmt.Sprintf("752x0000000%04d", i+1) }

func recordID(batchID string, i int) string {
	return fmt.Sprintf("001%s%03d", strings.TrimPrefix(batchID, "751")[6:], i+1)
}

// splitMessage splits "CODE: message" into its parts.
func splitMessage(msg string) (string, string) {
	code, text, ok := strings.Cut(msg, ": ")
	if !ok {
		return "UNKNOWN_EXCEPTION", msg
	}
	return code, text
}
