package web

import (
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
)

func TestRunStore_Finish(t *testing.T) {
	closeOnly := &bulkforce.CloseJobError{JobID: "750x", Err: errors.New("boom")}

	tests := []struct {
		name        string
		res         any
		err         error
		wantStatus  string
		wantResult  bool
		wantError   string
		wantWarning string
	}{
		{"success", "done", nil, StatusSucceeded, true, "", ""},
		{"failure", nil, errors.New("boom"), StatusFailed, false, "ERR000", ""},
		{"result with close failure", "done", closeOnly, StatusSucceeded, true, "", "BATCH004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newRunStore(time.Hour)
			run := store.start(KindLoad, "Account")
			if run.Status != StatusRunning {
				t.Fatalf("start status = %q, want %q", run.Status, StatusRunning)
			}

			store.finish(run.ID, tt.res, tt.err)

			got, ok := store.get(run.ID)
			if !ok {
				t.Fatal("run not found")
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", got.Status, tt.wantStatus)
			}
			if got.FinishedAt == nil {
				t.Error("FinishedAt should be set")
			}
			if (got.Result != nil) != tt.wantResult {
				t.Errorf("Result = %v, want present %v", got.Result, tt.wantResult)
			}
			if code := codeOf(got.Error); code != tt.wantError {
				t.Errorf("Error code = %q, want %q", code, tt.wantError)
			}
			if code := codeOf(got.Warning); code != tt.wantWarning {
				t.Errorf("Warning code = %q, want %q", code, tt.wantWarning)
			}
		})
	}
}

func codeOf(e *ErrorResponse) string {
	if e == nil {
		return ""
	}
	return e.Code
}

func TestRunStore_Subscribe(t *testing.T) {
	store := newRunStore(time.Hour)
	run := store.start(KindLoad, "Account")

	_, updates, ok := store.subscribe(run.ID)
	if !ok || updates == nil {
		t.Fatal("expected a live subscription")
	}

	store.report(run.ID, bulkforce.Progress{JobID: "750x", Total: 2, Done: 1})
	if p := <-updates; p.Done != 1 {
		t.Errorf("Done = %d, want 1", p.Done)
	}

	store.finish(run.ID, "done", nil)
	if _, open := <-updates; open {
		t.Error("updates should be closed when the run finishes")
	}

	got, updates, ok := store.subscribe(run.ID)
	if !ok || updates != nil {
		t.Fatal("finished run should have no update channel")
	}
	if got.Progress == nil || got.Progress.Done != 1 {
		t.Errorf("Progress = %+v, want last report", got.Progress)
	}
}

func TestRunStore_ReportNeverBlocks(t *testing.T) {
	store := newRunStore(time.Hour)
	run := store.start(KindLoad, "Account")
	_, _, _ = store.subscribe(run.ID)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			store.report(run.ID, bulkforce.Progress{Done: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("report blocked on a subscriber that never reads")
	}
}

func TestRunStore_PrunesExpiredRuns(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newRunStore(time.Hour)
	store.now = func() time.Time { return now }

	old := store.start(KindQuery, "Account")
	store.finish(old.ID, "done", nil)
	running := store.start(KindLoad, "Account")

	now = now.Add(2 * time.Hour)
	store.start(KindLoad, "Contact")

	if _, ok := store.get(old.ID); ok {
		t.Error("finished run past retention should be pruned")
	}
	if _, ok := store.get(running.ID); !ok {
		t.Error("running runs are never pruned")
	}
	if n := store.active(); n != 2 {
		t.Errorf("active() = %d, want 2", n)
	}
	if runs := store.list(); len(runs) != 2 || runs[0].Object != "Contact" {
		t.Errorf("list() = %+v, want newest first", runs)
	}
}
