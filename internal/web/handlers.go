package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/bulkforce/internal/bulk"
	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
	"github.com/JonMunkholm/bulkforce/internal/csvutil"
	"github.com/JonMunkholm/bulkforce/internal/logging"
	"github.com/JonMunkholm/bulkforce/internal/record"
	"github.com/JonMunkholm/bulkforce/internal/rest"
	"github.com/JonMunkholm/bulkforce/internal/sink"
	"github.com/JonMunkholm/bulkforce/internal/split"
)

const (
	// maxJSONBody bounds query and delete request bodies.
	maxJSONBody = 1 << 20
	// multipartMemory is kept in memory before ParseMultipartForm spills
	// to disk.
	multipartMemory = 32 << 20
)

// DeleteResult is the outcome of a record delete.
type DeleteResult struct {
	Object    string `json:"object"`
	Requested int    `json:"requested"`
	Deleted   int    `json:"deleted"`
}

// objectName matches sObject API names such as Account or Invoice__c.
var objectName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

var (
	errDestinationNeedsKeys = errors.New("result destinations require API_KEYS to be configured")
	errNoOutputDir          = errors.New("local result destinations are disabled; set SERVER_OUTPUT_DIR")
	errDestinationNotLocal  = errors.New("destination must be a relative path inside the output directory")
)

type queryRequest struct {
	Object string `json:"object"`
	SOQL   string `json:"soql"`
	ToFile string `json:"toFile"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

// handleLoad runs a load of the uploaded CSV into {object}. Options come
// from the query string: action (required), externalField, maxBatchSize,
// contentType, toPath and async. A local toPath is relative to OutputDir.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "object")
	q := r.URL.Query()
	if !objectName.MatchString(object) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid object name %q", object))
		return
	}

	toPath, status, err := s.destination(q.Get("toPath"))
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	action := q.Get("action")
	if !bulk.ValidOperation(action) || action == bulk.OpQuery {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported action %q", action))
		return
	}
	if action == bulk.OpUpsert && q.Get("externalField") == "" {
		writeError(w, http.StatusBadRequest, "upsert requires externalField")
		return
	}
	contentType := strings.ToUpper(q.Get("contentType"))
	if contentType != "" && contentType != bulk.ContentJSON && contentType != bulk.ContentCSV {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported content type %q", contentType))
		return
	}

	rows, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	run := s.runs.start(KindLoad, object)
	opts := bulkforce.LoadOptions{
		Action:        action,
		Object:        object,
		ExternalField: q.Get("externalField"),
		MaxBatchSize:  parseIntParam(r, "maxBatchSize", 0),
		ToPath:        toPath,
		ContentType:   contentType,
		Progress:      func(p bulkforce.Progress) { s.runs.report(run.ID, p) },
	}

	s.execute(w, r, run, func(ctx context.Context) (any, error) {
		res, err := s.service.Load(ctx, opts, split.Rows(rows))
		if res == nil {
			return nil, err
		}
		return res, err
	})
}

// handleQuery runs the SOQL in the JSON body.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Object == "" || req.SOQL == "" {
		writeError(w, http.StatusBadRequest, "object and soql are required")
		return
	}
	if !objectName.MatchString(req.Object) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid object name %q", req.Object))
		return
	}
	toFile, status, err := s.destination(req.ToFile)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	run := s.runs.start(KindQuery, req.Object)
	opts := bulkforce.QueryOptions{Object: req.Object, ToFile: toFile}

	s.execute(w, r, run, func(ctx context.Context) (any, error) {
		res, err := s.service.Query(ctx, opts, req.SOQL)
		if res == nil {
			return nil, err
		}
		return res, err
	})
}

// handleDelete deletes records of {object}. Ids come from a JSON body
// {"ids": [...]} or from the id column of an uploaded CSV.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.deleter == nil || s.auth == nil {
		writeError(w, http.StatusNotImplemented, "record deletes are not configured")
		return
	}
	object := chi.URLParam(r, "object")
	if !objectName.MatchString(object) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid object name %q", object))
		return
	}

	var ids []string
	if mediaType(r) == "application/json" {
		var req deleteRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ids = req.IDs
	} else {
		rows, err := s.readUpload(w, r)
		if err != nil {
			s.respondError(w, r, err, 0)
			return
		}
		ids = rest.IDs(rows)
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "no record ids given")
		return
	}

	run := s.runs.start(KindDelete, object)
	s.execute(w, r, run, func(ctx context.Context) (any, error) {
		cred, err := s.auth.Login(ctx)
		if err != nil {
			return nil, err
		}
		n, err := s.deleter.DeleteRecords(ctx, cred, object, ids)
		if err != nil {
			logging.FromContext(ctx, s.logger).Warn("delete incomplete", "deleted", n, "requested", len(ids))
			return nil, err
		}
		return DeleteResult{Object: object, Requested: len(ids), Deleted: n}, nil
	})
}

// execute runs fn as the work of run. A synchronous request gets the
// finished run or the error; with ?async=true the request is answered 202
// and fn keeps running after the client disconnects.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, run Run, fn func(context.Context) (any, error)) {
	ctx := logging.ContextWithRunID(r.Context(), run.ID)

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		ctx = context.WithoutCancel(ctx)
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			res, err := fn(ctx)
			s.runs.finish(run.ID, res, err)
		}()
		w.Header().Set("Location", "/api/runs/"+run.ID)
		writeJSONStatus(w, http.StatusAccepted, run)
		return
	}

	res, err := fn(ctx)
	s.runs.finish(run.ID, res, err)
	if res == nil && err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	finished, _ := s.runs.get(run.ID)
	writeJSON(w, finished)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.runs.list())
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runs.get(chi.URLParam(r, "runID"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, run)
}

// handleRunProgress streams a run's progress via Server-Sent Events. A
// "progress" event is sent per finished batch and a "complete" event with
// the final run closes the stream.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, updates, ok := s.runs.subscribe(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	rc := http.NewResponseController(w)

	send := func(event string, v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		_ = rc.Flush()
	}

	if run.Progress != nil {
		send("progress", run.Progress)
	}
	if updates == nil {
		send("complete", run)
		return
	}

	for {
		select {
		case p, ok := <-updates:
			if !ok {
				final, _ := s.runs.get(runID)
				send("complete", final)
				return
			}
			send("progress", p)
		case <-r.Context().Done():
			return
		}
	}
}

// healthStatus is the /healthz body.
type healthStatus struct {
	Status  string                  `json:"status"`
	Batches bulkforce.LimiterStatus `json:"batches"`
	Running int                     `json:"running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, healthStatus{
		Status:  "ok",
		Batches: s.service.Limiter().Status(),
		Running: s.runs.active(),
	})
}

// readUpload parses the request's CSV, sent either as the "file" field of
// a multipart form or as the raw body. The body is capped at
// MaxUploadSize.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]record.Row, error) {
	if s.cfg.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	}

	var (
		src  io.Reader = r.Body
		name           = "request body"
	)
	if mediaType(r) == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, &split.SplitError{Path: name, Err: err}
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, &split.SplitError{Path: name, Err: err}
		}
		defer file.Close()
		src, name = file, header.Filename
	}

	rows, err := csvutil.ReadRows(src)
	if err != nil {
		return nil, &split.SplitError{Path: name, Err: err}
	}
	return rows, nil
}

// destination resolves a caller supplied toPath or toFile. Object URLs
// pass through; local paths must stay inside OutputDir. The returned status
// goes with the error.
func (s *Server) destination(dest string) (string, int, error) {
	if dest == "" {
		return "", 0, nil
	}
	if len(s.cfg.APIKeys) == 0 {
		return "", http.StatusForbidden, errDestinationNeedsKeys
	}
	if sink.IsObjectURL(dest) {
		return dest, 0, nil
	}
	if s.cfg.OutputDir == "" {
		return "", http.StatusForbidden, errNoOutputDir
	}
	if !filepath.IsLocal(dest) {
		return "", http.StatusBadRequest, errDestinationNotLocal
	}
	return filepath.Join(s.cfg.OutputDir, dest), 0, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func mediaType(r *http.Request) string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// clientIP is the address the rate limiter keys on, after TrustedRealIP.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
