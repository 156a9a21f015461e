package web

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
)

// Run kinds.
const (
	KindLoad   = "load"
	KindQuery  = "query"
	KindDelete = "delete"
)

// Run states.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is the API view of one load, query or delete request.
type Run struct {
	ID         string              `json:"runId"`
	Kind       string              `json:"kind"`
	Object     string              `json:"object"`
	Status     string              `json:"status"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
	Progress   *bulkforce.Progress `json:"progress,omitempty"`
	Result     any                 `json:"result,omitempty"`
	Error      *ErrorResponse      `json:"error,omitempty"`
	Warning    *ErrorResponse      `json:"warning,omitempty"`
}

type runEntry struct {
	run  Run
	subs []chan bulkforce.Progress
}

// runStore keeps runs in memory until they have been finished for longer
// than retention. It is safe for concurrent use.
type runStore struct {
	mu        sync.Mutex
	runs      map[string]*runEntry
	retention time.Duration
	now       func() time.Time
}

func newRunStore(retention time.Duration) *runStore {
	return &runStore{
		runs:      make(map[string]*runEntry),
		retention: retention,
		now:       time.Now,
	}
}

// start registers a running run and prunes expired ones.
func (s *runStore) start(kind, object string) Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	run := Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Object:    object,
		Status:    StatusRunning,
		StartedAt: s.now(),
	}
	s.runs[run.ID] = &runEntry{run: run}
	return run
}

// report records the latest progress and forwards it to subscribers. Slow
// subscribers miss intermediate updates rather than block the load.
func (s *runStore) report(id string, p bulkforce.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.runs[id]
	if !ok {
		return
	}
	e.run.Progress = &p
	for _, ch := range e.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// finish marks the run done. A result returned together with an error is
// a close-only failure: the run succeeded and carries a warning.
func (s *runStore) finish(id string, res any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.runs[id]
	if !ok {
		return
	}
	now := s.now()
	e.run.FinishedAt = &now

	switch {
	case err == nil:
		e.run.Status = StatusSucceeded
		e.run.Result = res
	case res != nil:
		e.run.Status = StatusSucceeded
		e.run.Result = res
		e.run.Warning = newErrorResponse(err)
	default:
		e.run.Status = StatusFailed
		e.run.Error = newErrorResponse(err)
	}

	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}

func (s *runStore) get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return e.run, true
}

// subscribe returns the run's current state and a channel of progress
// updates that is closed when the run finishes. The channel is nil for a
// run that has already finished.
func (s *runStore) subscribe(id string) (Run, <-chan bulkforce.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.runs[id]
	if !ok {
		return Run{}, nil, false
	}
	if e.run.Status != StatusRunning {
		return e.run, nil, true
	}
	ch := make(chan bulkforce.Progress, 16)
	e.subs = append(e.subs, ch)
	return e.run, ch, true
}

// list returns every retained run, newest first.
func (s *runStore) list() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]Run, 0, len(s.runs))
	for _, e := range s.runs {
		runs = append(runs, e.run)
	}
	slices.SortFunc(runs, func(a, b Run) int { return b.StartedAt.Compare(a.StartedAt) })
	return runs
}

// active counts runs still in progress.
func (s *runStore) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.runs {
		if e.run.Status == StatusRunning {
			n++
		}
	}
	return n
}

func (s *runStore) pruneLocked() {
	cutoff := s.now().Add(-s.retention)
	for id, e := range s.runs {
		if e.run.FinishedAt != nil && e.run.FinishedAt.Before(cutoff) {
			delete(s.runs, id)
		}
	}
}
