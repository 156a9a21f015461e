package bulk

import (
	"errors"
	"fmt"
)

// TransportError reports that no usable response was received for action:
// the connection failed, the body could not be read, or it could not be
// decoded.
type TransportError struct {
	Action string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to %s due to unexpected error: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusCodeError reports a response whose status code was not the one
// expected for action. ExceptionCode and ExceptionMessage carry the
// service's own error fields when the body supplied them.
type StatusCodeError struct {
	Action           string
	Expected         int
	Actual           int
	ExceptionCode    string
	ExceptionMessage string
}

func (e *StatusCodeError) Error() string {
	if e.ExceptionCode == "" && e.ExceptionMessage == "" {
		return fmt.Sprintf("failed to %s: expected status %d, received %d", e.Action, e.Expected, e.Actual)
	}
	return fmt.Sprintf("failed to %s. Error received: %s; %s", e.Action, e.ExceptionCode, e.ExceptionMessage)
}

// BatchStateError reports a batch that reached the Failed state.
type BatchStateError struct {
	BatchID string
	State   string
	Message string
}

func (e *BatchStateError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("batch %s ended in state %s", e.BatchID, e.State)
	}
	return fmt.Sprintf("batch %s ended in state %s: %s", e.BatchID, e.State, e.Message)
}

// IsStatus reports whether err is a StatusCodeError with the given actual
// status code.
func IsStatus(err error, code int) bool {
	var sce *StatusCodeError
	return errors.As(err, &sce) && sce.Actual == code
}
