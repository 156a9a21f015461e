package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/bulk"
	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
	"github.com/JonMunkholm/bulkforce/internal/bulktest"
	"github.com/JonMunkholm/bulkforce/internal/config"
	"github.com/JonMunkholm/bulkforce/internal/record"
	"github.com/JonMunkholm/bulkforce/internal/rest"
	"github.com/JonMunkholm/bulkforce/internal/web"
)

type runBody struct {
	RunID    string              `json:"runId"`
	Kind     string              `json:"kind"`
	Object   string              `json:"object"`
	Status   string              `json:"status"`
	Progress *bulkforce.Progress `json:"progress"`
	Result   json.RawMessage     `json:"result"`
	Error    *web.ErrorResponse  `json:"error"`
	Warning  *web.ErrorResponse  `json:"warning"`
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{
		MaxUploadSize: 1 << 20,
		RunRetention:  time.Hour,
	}
}

func newServer(t *testing.T, cfg config.ServerConfig) (*web.Server, *bulktest.Server) {
	t.Helper()
	srv := bulktest.New(t)
	login := auth.Static{InstanceURL: srv.URL, AccessToken: bulktest.Token}

	client := bulk.NewClient(bulk.Config{RateLimit: 1000, RateBurst: 100, Logger: discard()})
	svc := bulkforce.NewService(client,
		bulkforce.WithAuthenticator(login),
		bulkforce.WithPollInterval(2*time.Millisecond),
		bulkforce.WithLogger(discard()),
	)
	deleter := &rest.Client{Workers: 2, Logger: discard()}
	return web.NewServer(svc, cfg, web.WithDeleter(deleter, login), web.WithLogger(discard())), srv
}

func do(s *web.Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func csvUpload(t *testing.T, target, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "accounts.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) runBody {
	t.Helper()
	var run runBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run), rec.Body.String())
	return run
}

func failBad(r record.Row) string {
	if strings.HasPrefix(r.String("Name"), "bad") {
		return "REQUIRED_FIELD_MISSING: Required fields are missing: [Industry]"
	}
	return ""
}

func TestLoad_Multipart(t *testing.T) {
	s, srv := newServer(t, serverConfig())
	srv.FailRow = failBad

	rec := do(s, csvUpload(t, "/api/load/Account?action=insert&maxBatchSize=1", "Name\ngood\nbad\n"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeRun(t, rec)
	assert.Equal(t, web.StatusSucceeded, run.Status)
	assert.Equal(t, web.KindLoad, run.Kind)
	assert.Equal(t, "Account", run.Object)
	require.NotNil(t, run.Progress)
	assert.Equal(t, 2, run.Progress.Done)
	assert.Equal(t, 2, run.Progress.Total)

	var res bulkforce.LoadResult
	require.NoError(t, json.Unmarshal(run.Result, &res))
	assert.Equal(t, 2, res.Batches)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	require.Len(t, res.Error, 1)
	assert.Equal(t, "bad", res.Error[0].String("Name"))
	assert.Equal(t, 1, srv.CloseCalls())
}

func TestLoad_RawBody(t *testing.T) {
	s, srv := newServer(t, serverConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/load/Contact?action=insert&contentType=csv", strings.NewReader("LastName\nDoe\nRoe\n"))
	req.Header.Set("Content-Type", "text/csv")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res bulkforce.LoadResult
	require.NoError(t, json.Unmarshal(decodeRun(t, rec).Result, &res))
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, srv.BatchCount())
}

func TestLoad_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"missing action", "/api/load/Account"},
		{"query is not a load", "/api/load/Account?action=query"},
		{"upsert without external field", "/api/load/Account?action=upsert"},
		{"unknown content type", "/api/load/Account?action=insert&contentType=xml"},
	}

	s, srv := newServer(t, serverConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, csvUpload(t, tt.target, "Name\na\n"))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Zero(t, srv.BatchCount())
}

func TestLoad_UploadTooLarge(t *testing.T) {
	cfg := serverConfig()
	cfg.MaxUploadSize = 16
	s, srv := newServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/load/Account?action=insert", strings.NewReader("Name\n"+strings.Repeat("abcdef\n", 20)))
	req.Header.Set("Content-Type", "text/csv")
	rec := do(s, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	var body web.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FILE001", body.Code)
	assert.Zero(t, srv.CloseCalls())
}

func TestLoad_ResultDestinations(t *testing.T) {
	outDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(outDir, "out"), 0o755))

	tests := []struct {
		name      string
		keys      []string
		outputDir string
		toPath    string
		want      int
	}{
		{"no API keys", nil, outDir, "out", http.StatusForbidden},
		{"no output dir", []string{"secret"}, "", "out", http.StatusForbidden},
		{"absolute path", []string{"secret"}, outDir, "/etc", http.StatusBadRequest},
		{"parent escape", []string{"secret"}, outDir, "../out", http.StatusBadRequest},
		{"inside output dir", []string{"secret"}, outDir, "out", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := serverConfig()
			cfg.APIKeys = tt.keys
			cfg.OutputDir = tt.outputDir
			s, srv := newServer(t, cfg)

			req := csvUpload(t, "/api/load/Account?action=insert&toPath="+tt.toPath, "Name\na\n")
			req.Header.Set("X-API-Key", "secret")
			rec := do(s, req)

			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want != http.StatusOK {
				assert.Zero(t, srv.BatchCount())
			}
		})
	}

	assert.FileExists(t, filepath.Join(outDir, "out", "Account_success.csv"))
}

func TestQuery_ToFileOutsideOutputDir(t *testing.T) {
	cfg := serverConfig()
	cfg.APIKeys = []string{"secret"}
	cfg.OutputDir = t.TempDir()
	s, srv := newServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/query",
		strings.NewReader(`{"object":"Account","soql":"SELECT Id FROM Account","toFile":"/tmp/passwd"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "secret")
	rec := do(s, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, srv.BatchCount())
}

func TestLoad_InvalidObjectName(t *testing.T) {
	s, srv := newServer(t, serverConfig())

	rec := do(s, csvUpload(t, "/api/load/Account..x?action=insert", "Name\na\n"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, srv.BatchCount())
}

func TestLoad_ServiceFailure(t *testing.T) {
	s, srv := newServer(t, serverConfig())
	srv.FailCreateJob = true

	rec := do(s, csvUpload(t, "/api/load/Account?action=insert", "Name\na\n"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body web.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "API002", body.Code)
	assert.Contains(t, body.Error, "unable to load data due to failure to create job")
}

func TestLoad_CloseFailureIsAWarning(t *testing.T) {
	s, srv := newServer(t, serverConfig())
	srv.FailCloseJob = true

	rec := do(s, csvUpload(t, "/api/load/Account?action=insert", "Name\na\n"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeRun(t, rec)
	assert.Equal(t, web.StatusSucceeded, run.Status)
	require.NotNil(t, run.Warning)
	assert.Equal(t, "BATCH004", run.Warning.Code)
	assert.NotEmpty(t, run.Result)
}

func TestLoad_Async(t *testing.T) {
	s, srv := newServer(t, serverConfig())
	srv.PollsUntilComplete = 2

	rec := do(s, csvUpload(t, "/api/load/Account?action=insert&async=true&maxBatchSize=1", "Name\na\nb\nc\n"))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	run := decodeRun(t, rec)
	assert.Equal(t, web.StatusRunning, run.Status)
	assert.Equal(t, "/api/runs/"+run.RunID, rec.Header().Get("Location"))

	var final runBody
	require.Eventually(t, func() bool {
		rec := do(s, httptest.NewRequest(http.MethodGet, "/api/runs/"+run.RunID, nil))
		if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &final) != nil {
			return false
		}
		return final.Status != web.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, web.StatusSucceeded, final.Status)
	require.NotNil(t, final.Progress)
	assert.Equal(t, 3, final.Progress.Done)
	assert.Equal(t, 1, srv.CloseCalls())
}

func TestRunProgress_FinishedRun(t *testing.T) {
	s, _ := newServer(t, serverConfig())
	run := decodeRun(t, do(s, csvUpload(t, "/api/load/Account?action=insert", "Name\na\n")))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/runs/"+run.RunID+"/progress", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: progress\n")
	assert.Contains(t, body, "event: complete\n")
	assert.Contains(t, body, `"status":"succeeded"`)
}

func TestRuns_NotFound(t *testing.T) {
	s, _ := newServer(t, serverConfig())

	for _, target := range []string{"/api/runs/nope", "/api/runs/nope/progress"} {
		rec := do(s, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestRuns_List(t *testing.T) {
	s, _ := newServer(t, serverConfig())
	do(s, csvUpload(t, "/api/load/Account?action=insert", "Name\na\n"))
	do(s, csvUpload(t, "/api/load/Contact?action=insert", "LastName\nb\n"))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var runs []runBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)
}

func TestQuery(t *testing.T) {
	s, srv := newServer(t, serverConfig())
	srv.QueryParts = [][]record.Row{
		{{{Name: "Id", Value: "001A"}, {Name: "Name", Value: "a"}}},
		{{{Name: "Id", Value: "001B"}, {Name: "Name", Value: "b"}}},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"object":"Account","soql":"SELECT Id, Name FROM Account"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeRun(t, rec)
	assert.Equal(t, web.KindQuery, run.Kind)

	var res bulkforce.QueryResult
	require.NoError(t, json.Unmarshal(run.Result, &res))
	assert.Equal(t, 2, res.RecordCount)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "001A", res.Rows[0].String("id"))
	assert.Equal(t, "001B", res.Rows[1].String("id"))
}

func TestQuery_BadBody(t *testing.T) {
	s, _ := newServer(t, serverConfig())

	for _, body := range []string{`{"object":"Account"}`, `not json`, `{"object":"Account","soql":"x","extra":1}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := do(s, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestDelete_JSON(t *testing.T) {
	s, srv := newServer(t, serverConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/delete/Account", strings.NewReader(`{"ids":["001A","001B"]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res web.DeleteResult
	require.NoError(t, json.Unmarshal(decodeRun(t, rec).Result, &res))
	assert.Equal(t, web.DeleteResult{Object: "Account", Requested: 2, Deleted: 2}, res)
	assert.ElementsMatch(t, []string{"001A", "001B"}, srv.Deleted())
}

func TestDelete_CSVAndFailure(t *testing.T) {
	s, srv := newServer(t, serverConfig())
	srv.FailDelete = map[string]bool{"001B": true}

	rec := do(s, csvUpload(t, "/api/delete/Account", "Id,Name\n001A,a\n001B,b\n"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body web.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "REC001", body.Code)
	assert.Equal(t, []string{"001A"}, srv.Deleted())
}

func TestDelete_NoIDs(t *testing.T) {
	s, _ := newServer(t, serverConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/delete/Account", strings.NewReader(`{"ids":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(s, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelete_NotConfigured(t *testing.T) {
	svc := bulkforce.NewService(bulk.NewClient(bulk.Config{Logger: discard()}), bulkforce.WithLogger(discard()))
	s := web.NewServer(svc, serverConfig(), web.WithLogger(discard()))

	req := httptest.NewRequest(http.MethodPost, "/api/delete/Account", strings.NewReader(`{"ids":["001A"]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := do(s, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := serverConfig()
	cfg.APIKeys = []string{"secret"}
	s, _ := newServer(t, cfg)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, do(s, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, do(s, req).Code)

	// health checks stay open
	assert.Equal(t, http.StatusOK, do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestHealth(t *testing.T) {
	s, _ := newServer(t, serverConfig())

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status  string                  `json:"status"`
		Batches bulkforce.LimiterStatus `json:"batches"`
		Running int                     `json:"running"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, -1, body.Batches.Available)
	assert.Zero(t, body.Running)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRateLimit(t *testing.T) {
	cfg := serverConfig()
	cfg.RequestsPerMinute = 2
	s, _ := newServer(t, cfg)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	}
	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
