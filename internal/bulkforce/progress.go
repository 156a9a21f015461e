package bulkforce

import "sync"

// Progress is reported after each batch of a load finishes.
type Progress struct {
	JobID  string `json:"job_id"`
	Total  int    `json:"total"`
	Done   int    `json:"done"`
	Failed int    `json:"failed"`
}

// tracker serializes progress callbacks so Done only ever increases.
type tracker struct {
	mu   sync.Mutex
	fns  []func(Progress)
	last Progress
}

func newTracker(jobID string, total int, fns ...func(Progress)) *tracker {
	return &tracker{fns: fns, last: Progress{JobID: jobID, Total: total}}
}

func (t *tracker) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last.Done++
	if err != nil {
		t.last.Failed++
	}
	for _, fn := range t.fns {
		if fn != nil {
			fn(t.last)
		}
	}
}
