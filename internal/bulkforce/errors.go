package bulkforce

import (
	"errors"
	"fmt"
)

// Actions reported by OpError.
const (
	ActionLoad  = "load data"
	ActionQuery = "query data"
)

// Reasons reported by OpError.
const (
	ReasonLogin  = "log in"
	ReasonSplit  = "split job into multiple batches"
	ReasonCreate = "create job"
	ReasonBatch  = "process batch"
)

// OpError is a failed load or query step.
type OpError struct {
	Action string
	Reason string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("unable to %s due to failure to %s: %v", e.Action, e.Reason, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// BatchError is the failure of one batch's map, submit, poll or fetch step.
// Index is the batch's position in submission order.
type BatchError struct {
	Index   int
	BatchID string
	Err     error
}

func (e *BatchError) Error() string {
	if e.BatchID != "" {
		return fmt.Sprintf("batch %d (%s): %v", e.Index, e.BatchID, e.Err)
	}
	return fmt.Sprintf("batch %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// CloseJobError reports a failed close. Prior holds the error that ended
// the batch phase, if any, so neither failure masks the other.
type CloseJobError struct {
	JobID string
	Err   error
	Prior error
}

func (e *CloseJobError) Error() string {
	msg := fmt.Sprintf("unable to close job: %v", e.Err)
	if e.Prior != nil {
		return e.Prior.Error() + "; " + msg
	}
	return msg
}

func (e *CloseJobError) Unwrap() []error {
	if e.Prior != nil {
		return []error{e.Prior, e.Err}
	}
	return []error{e.Err}
}

// withClose folds a close failure into the error of the batch phase.
func withClose(jobID string, prior, closeErr error) error {
	if closeErr == nil {
		return prior
	}
	return &CloseJobError{JobID: jobID, Err: closeErr, Prior: prior}
}

// IsCloseOnly reports whether err is a close failure after an otherwise
// successful call, in which case the result returned alongside it is valid.
func IsCloseOnly(err error) bool {
	var ce *CloseJobError
	return errors.As(err, &ce) && ce.Prior == nil
}
