package bulk

import (
	"encoding/xml"
	"strings"
)

// Operations accepted by CreateJob.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpUpsert = "upsert"
	OpDelete = "delete"
	OpQuery  = "query"
)

// Job and batch content types.
const (
	ContentJSON = "JSON"
	ContentCSV  = "CSV"
	ContentXML  = "XML"
)

// Batch states reported by the service.
const (
	StateQueued       = "Queued"
	StateInProgress   = "InProgress"
	StateCompleted    = "Completed"
	StateFailed       = "Failed"
	StateNotProcessed = "Not Processed"
)

// ValidOperation reports whether op is a supported job operation.
func ValidOperation(op string) bool {
	switch op {
	case OpInsert, OpUpdate, OpUpsert, OpDelete, OpQuery:
		return true
	}
	return false
}

// JobSpec describes the job to create.
type JobSpec struct {
	Operation       string `json:"operation"`
	Object          string `json:"object"`
	ContentType     string `json:"contentType"`
	ExternalIDField string `json:"externalIdFieldName,omitempty"`
}

// JobInfo is the service's view of a job.
type JobInfo struct {
	ID                      string  `json:"id" xml:"id"`
	Operation               string  `json:"operation" xml:"operation"`
	Object                  string  `json:"object" xml:"object"`
	CreatedByID             string  `json:"createdById" xml:"createdById"`
	CreatedDate             string  `json:"createdDate" xml:"createdDate"`
	State                   string  `json:"state" xml:"state"`
	ExternalIDField         string  `json:"externalIdFieldName" xml:"externalIdFieldName"`
	ConcurrencyMode         string  `json:"concurrencyMode" xml:"concurrencyMode"`
	ContentType             string  `json:"contentType" xml:"contentType"`
	NumberBatchesQueued     int     `json:"numberBatchesQueued" xml:"numberBatchesQueued"`
	NumberBatchesInProgress int     `json:"numberBatchesInProgress" xml:"numberBatchesInProgress"`
	NumberBatchesCompleted  int     `json:"numberBatchesCompleted" xml:"numberBatchesCompleted"`
	NumberBatchesFailed     int     `json:"numberBatchesFailed" xml:"numberBatchesFailed"`
	NumberBatchesTotal      int     `json:"numberBatchesTotal" xml:"numberBatchesTotal"`
	NumberRecordsProcessed  int     `json:"numberRecordsProcessed" xml:"numberRecordsProcessed"`
	NumberRecordsFailed     int     `json:"numberRecordsFailed" xml:"numberRecordsFailed"`
	APIVersion              float64 `json:"apiVersion" xml:"apiVersion"`
}

// BatchInfo is the service's view of a batch. JSON and XML status payloads
// decode into the same fields.
type BatchInfo struct {
	ID                     string `json:"id" xml:"id"`
	JobID                  string `json:"jobId" xml:"jobId"`
	State                  string `json:"state" xml:"state"`
	StateMessage           string `json:"stateMessage" xml:"stateMessage"`
	CreatedDate            string `json:"createdDate" xml:"createdDate"`
	SystemModstamp         string `json:"systemModstamp" xml:"systemModstamp"`
	NumberRecordsProcessed int    `json:"numberRecordsProcessed" xml:"numberRecordsProcessed"`
	NumberRecordsFailed    int    `json:"numberRecordsFailed" xml:"numberRecordsFailed"`
	TotalProcessingTime    int64  `json:"totalProcessingTime" xml:"totalProcessingTime"`
}

// Terminal reports whether the batch will not change state again.
func (b *BatchInfo) Terminal() bool {
	return IsTerminal(b.State)
}

// Err returns a BatchStateError when the batch Failed, nil otherwise.
// A Not Processed batch still has a result to fetch.
func (b *BatchInfo) Err() error {
	if b.State != StateFailed {
		return nil
	}
	return &BatchStateError{BatchID: b.ID, State: b.State, Message: b.StateMessage}
}

// IsTerminal reports whether state ends polling. The service spells
// "Not Processed" with a space; the compact form is accepted as well.
func IsTerminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateNotProcessed, "NotProcessed":
		return true
	}
	return false
}

// serviceError is the error body returned with non-2xx responses.
type serviceError struct {
	XMLName          xml.Name `json:"-" xml:"error"`
	ExceptionCode    string   `json:"exceptionCode" xml:"exceptionCode"`
	ExceptionMessage string   `json:"exceptionMessage" xml:"exceptionMessage"`
}

// resultList is the XML list of query result part ids.
type resultList struct {
	XMLName xml.Name `xml:"result-list"`
	Results []string `xml:"result"`
}

func trimAll(ss []string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
