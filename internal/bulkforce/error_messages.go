package bulkforce

// error_messages.go turns load and query failures into short messages with
// codes that can be quoted when asking for help.
//
// # Error Codes Reference
//
// Cancellation is classified first, then the message text is matched
// against known service exception codes, then typed errors.
//
// # Authentication (AUTH001-AUTH099)
//
//	AUTH001 - Login failed: The login service rejected the credentials
//	          Action: Check SF_USERNAME, SF_PASSWORD and SF_SECURITY_TOKEN
//	AUTH002 - Session invalid: The session id was refused
//	          Action: Log in again or refresh SF_ACCESS_TOKEN
//	          Patterns: "invalidsessionid", "invalid_session_id"
//
// # Remote API (API001-API099)
//
//	API001 - Service unreachable: No response from the service
//	         Action: Check the instance URL and network connectivity
//	API002 - Request refused: The service answered with an error
//	         Action: Review the error detail for the exception code
//	API003 - Limit exceeded: The org's bulk API limits were reached
//	         Action: Wait for running jobs to finish and try again
//	         Patterns: "exceededquota", "request_limit_exceeded"
//
// # Batches (BATCH001-BATCH099)
//
//	BATCH001 - Batch failed: The service could not process a batch
//	           Action: Inspect the batch state message in the job monitor
//	BATCH002 - Results mismatched: Result rows do not line up with the submitted rows
//	           Action: Re-run the load with a smaller batch size
//	BATCH003 - Busy: Too many batches are in flight
//	           Action: Lower BULK_MAX_CONCURRENT or try again later
//	BATCH004 - Close failed: The job could not be closed
//	           Action: Close the job from the job monitor
//
// # Files (FILE001-FILE099)
//
//	FILE001 - Unreadable input: The input file could not be split into batches
//	          Action: Ensure the file is a UTF-8 CSV with a header row
//	FILE002 - Missing file: The input file does not exist
//	          Action: Check the path passed to the command
//
// # Mapping (MAP001-MAP099)
//
//	MAP001 - Bad mapping: The mapping file could not be read
//	         Action: Use key=value lines or a flat YAML map
//
// # Records (REC001-REC099)
//
//	REC001 - Delete failed: One or more records could not be deleted
//	         Action: Check the record ids and the object name
//
// # Output (SINK001-SINK099)
//
//	SINK001 - Save failed: Results could not be written to the destination
//	          Action: Check the destination path or bucket permissions
//
// # Cancellation (RUN001-RUN099)
//
//	RUN001 - Cancelled: The operation was cancelled
//	RUN002 - Timed out: The operation exceeded its time limit
//	         Action: Raise BULK_CALL_TIMEOUT or split the input
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Run with LOG_LEVEL=debug and check the log

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/bulk"
	"github.com/JonMunkholm/bulkforce/internal/mapping"
	"github.com/JonMunkholm/bulkforce/internal/rest"
	"github.com/JonMunkholm/bulkforce/internal/result"
	"github.com/JonMunkholm/bulkforce/internal/sink"
	"github.com/JonMunkholm/bulkforce/internal/split"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgLoginFailed    = UserMessage{"The login service rejected the credentials", "Check SF_USERNAME, SF_PASSWORD and SF_SECURITY_TOKEN", "AUTH001"}
	msgSessionInvalid = UserMessage{"The session id was refused", "Log in again or refresh SF_ACCESS_TOKEN", "AUTH002"}
	msgUnreachable    = UserMessage{"No response from the service", "Check the instance URL and network connectivity", "API001"}
	msgRefused        = UserMessage{"The service answered with an error", "Review the error detail for the exception code", "API002"}
	msgLimitExceeded  = UserMessage{"The org's bulk API limits were reached", "Wait for running jobs to finish and try again", "API003"}
	msgBatchFailed    = UserMessage{"The service could not process a batch", "Inspect the batch state message in the job monitor", "BATCH001"}
	msgMismatch       = UserMessage{"Result rows do not line up with the submitted rows", "Re-run the load with a smaller batch size", "BATCH002"}
	msgBusy           = UserMessage{"Too many batches are in flight", "Lower BULK_MAX_CONCURRENT or try again later", "BATCH003"}
	msgCloseFailed    = UserMessage{"The job could not be closed", "Close the job from the job monitor", "BATCH004"}
	msgUnreadable     = UserMessage{"The input file could not be split into batches", "Ensure the file is a UTF-8 CSV with a header row", "FILE001"}
	msgMissingFile    = UserMessage{"The input file does not exist", "Check the path passed to the command", "FILE002"}
	msgBadMapping     = UserMessage{"The mapping file could not be read", "Use key=value lines or a flat YAML map", "MAP001"}
	msgDeleteFailed   = UserMessage{"One or more records could not be deleted", "Check the record ids and the object name", "REC001"}
	msgSaveFailed     = UserMessage{"Results could not be written to the destination", "Check the destination path or bucket permissions", "SINK001"}
	msgCancelled      = UserMessage{"The operation was cancelled", "Start it again when ready", "RUN001"}
	msgTimedOut       = UserMessage{"The operation exceeded its time limit", "Raise BULK_CALL_TIMEOUT or split the input", "RUN002"}
)

// errorPattern maps a lower-cased substring of an error message to a
// user message. The first match wins.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{pattern: "invalidsessionid", msg: msgSessionInvalid},
	{pattern: "invalid_session_id", msg: msgSessionInvalid},
	{pattern: "exceededquota", msg: msgLimitExceeded},
	{pattern: "request_limit_exceeded", msg: msgLimitExceeded},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Run with LOG_LEVEL=debug and check the log",
	Code:    "ERR000",
}

// MapError converts an error returned by Load, Query or a record delete to
// a user message.
// The innermost recognised cause decides the code, so a mapping failure
// inside a batch reports MAP001 rather than the generic batch code.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		loginErr   *auth.LoginError
		mapErr     *mapping.MappingError
		splitErr   *split.SplitError
		buildErr   *result.BuildError
		stateErr   *bulk.BatchStateError
		statusErr  *bulk.StatusCodeError
		transErr   *bulk.TransportError
		persistErr *sink.PersistError
		deleteErr  *rest.DeleteError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimedOut
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, ErrTooManyBatches):
		return msgBusy
	}

	lower := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(lower, ep.pattern) {
			return ep.msg
		}
	}

	switch {
	case errors.As(err, &loginErr):
		return msgLoginFailed
	case errors.As(err, &mapErr):
		return msgBadMapping
	case errors.As(err, &splitErr):
		if errors.Is(err, fs.ErrNotExist) {
			return msgMissingFile
		}
		return msgUnreadable
	case errors.As(err, &buildErr):
		return msgMismatch
	case errors.As(err, &stateErr):
		return msgBatchFailed
	case errors.As(err, &persistErr):
		return msgSaveFailed
	case errors.As(err, &deleteErr):
		return msgDeleteFailed
	case IsCloseOnly(err):
		return msgCloseFailed
	case errors.As(err, &statusErr):
		return msgRefused
	case errors.As(err, &transErr):
		return msgUnreachable
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
