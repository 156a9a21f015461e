package bulkforce

// limiter.go bounds the number of batches in flight across every job a
// Service runs.
//
// The limiter uses a semaphore pattern. A limit of zero means unbounded: slots
// are still counted so WaitForDrain works during shutdown, but Acquire never
// blocks. When maxWait is set, a caller that cannot get a slot in time fails
// with ErrTooManyBatches instead of queueing indefinitely.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyBatches is returned when every batch slot stays occupied for
// longer than the limiter's wait time.
var ErrTooManyBatches = errors.New("too many batches in flight, please try again later")

// BatchLimiter controls how many batches are submitted, polled and fetched
// at the same time.
type BatchLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewBatchLimiter creates a limiter that allows at most maxConcurrent batches
// in flight, or any number when maxConcurrent is zero or negative. A positive
// maxWait bounds how long Acquire queues for a slot.
func NewBatchLimiter(maxConcurrent int, maxWait time.Duration) *BatchLimiter {
	l := &BatchLimiter{maxWait: maxWait}
	if maxConcurrent > 0 {
		l.semaphore = make(chan struct{}, maxConcurrent)
	}
	return l
}

// Acquire takes a batch slot, waiting while the limiter is full.
// The caller MUST call Release() when the batch completes (use defer).
func (l *BatchLimiter) Acquire(ctx context.Context) error {
	if l.semaphore == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.track(1)
		return nil
	}

	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	select {
	case l.semaphore <- struct{}{}:
		l.track(1)
		return nil

	case <-waitCtx.Done():
		// Distinguish the caller giving up from our own wait limit
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyBatches
	}
}

// TryAcquire takes a slot without blocking and reports whether it did.
func (l *BatchLimiter) TryAcquire() bool {
	if l.semaphore == nil {
		l.track(1)
		return true
	}
	select {
	case l.semaphore <- struct{}{}:
		l.track(1)
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
// Must be called exactly once for each successful acquisition.
func (l *BatchLimiter) Release() {
	l.track(-1)
	if l.semaphore != nil {
		<-l.semaphore
	}
}

func (l *BatchLimiter) track(delta int) {
	l.mu.Lock()
	l.active += delta
	l.mu.Unlock()
}

// ActiveCount returns the number of batches currently in flight.
func (l *BatchLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the slot limit, or 0 when unbounded.
func (l *BatchLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots, or -1 when unbounded.
func (l *BatchLimiter) Available() int {
	if l.semaphore == nil {
		return -1
	}
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no batch is in flight or ctx is done.
// Used for graceful shutdown so open jobs get closed before exit.
func (l *BatchLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter's state.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *BatchLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.ActiveCount(),
		Available:     l.Available(),
		MaxConcurrent: l.MaxConcurrent(),
	}
}
