// Package result reconciles per-row batch outcomes with the submitted rows
// and joins per-batch results into one aggregate.
package result

import (
	"fmt"

	"github.com/JonMunkholm/bulkforce/internal/record"
)

// Field names added to reconciled rows.
const (
	FieldID    = "id"
	FieldError = "error"
)

// OutcomeError is one structured error returned for a failed row.
type OutcomeError struct {
	StatusCode string   `json:"statusCode"`
	Message    string   `json:"message"`
	Fields     []string `json:"fields,omitempty"`
}

// Outcome is the normalized service verdict for one submitted row.
// Decoders for each wire format fill it; Build never looks at raw
// response field names.
type Outcome struct {
	Success bool
	Created bool
	ID      string
	Errors  []OutcomeError
	// Error is the flat error text used when no structured errors exist.
	Error string
}

// Message renders the failure text for a row: the first structured error
// as "{statusCode}: {message}", otherwise the flat error field.
func (o Outcome) Message() string {
	if len(o.Errors) > 0 {
		return fmt.Sprintf("%s: %s", o.Errors[0].StatusCode, o.Errors[0].Message)
	}
	return o.Error
}

// Partition holds the rows of a load split by outcome.
type Partition struct {
	Success []record.Row `json:"success"`
	Error   []record.Row `json:"error"`
}

// Len returns the total number of rows in the partition.
func (p Partition) Len() int { return len(p.Success) + len(p.Error) }

// BuildError reports that request and response rows cannot be matched.
type BuildError struct {
	Requested int
	Returned  int
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("unable to build batch result: %d rows submitted but %d results returned", e.Requested, e.Returned)
}

// Build matches request[i] with outcomes[i]. Successful rows get the
// service id appended as "id"; failed rows get the error text as "error".
// Input rows are never modified.
func Build(request []record.Row, outcomes []Outcome) (Partition, error) {
	if len(request) != len(outcomes) {
		return Partition{}, &BuildError{Requested: len(request), Returned: len(outcomes)}
	}

	var p Partition
	for i, out := range outcomes {
		if out.Success {
			p.Success = append(p.Success, request[i].With(FieldID, out.ID))
			continue
		}
		p.Error = append(p.Error, request[i].With(FieldError, out.Message()))
	}
	return p, nil
}
