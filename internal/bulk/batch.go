package bulk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/csvutil"
	"github.com/JonMunkholm/bulkforce/internal/record"
)

// Payload is the content of one batch. It is one of Rows, CSVRows, CSVFile
// or Query.
type Payload interface {
	isPayload()
}

// Rows is a batch of records sent as a JSON array.
type Rows []record.Row

// CSVRows is a batch of records encoded as CSV text.
type CSVRows []record.Row

// CSVFile streams a CSV file from disk as the batch body.
type CSVFile struct {
	Path string
}

// Query is a SOQL statement submitted as the sole batch of a query job.
type Query string

func (Rows) isPayload()    {}
func (CSVRows) isPayload() {}
func (CSVFile) isPayload() {}
func (Query) isPayload()   {}

const textCSV = "text/csv"

// CreateBatch submits payload to a job. Every payload kind yields the same
// BatchInfo whether the service answers in JSON or XML.
func (c *Client) CreateBatch(ctx context.Context, cred auth.Credential, jobID string, payload Payload) (*BatchInfo, error) {
	const action = "create batch"

	req := request{
		action:   action,
		method:   http.MethodPost,
		path:     []string{jobID, "batch"},
		expected: http.StatusCreated,
	}

	var (
		resp *response
		err  error
	)
	switch p := payload.(type) {
	case Rows:
		rows := []record.Row(p)
		if rows == nil {
			rows = []record.Row{}
		}
		resp, err = c.doJSON(ctx, cred, req, rows)

	case CSVRows:
		data, encErr := csvutil.Encode(p)
		if encErr != nil {
			return nil, fmt.Errorf("%s: encode csv: %w", action, encErr)
		}
		resp, err = c.doStream(ctx, cred, req, bytes.NewReader(data))

	case CSVFile:
		f, openErr := os.Open(p.Path)
		if openErr != nil {
			return nil, fmt.Errorf("%s: %w", action, openErr)
		}
		defer f.Close()
		c.logger.Debug("creating batch from file", "job_id", jobID, "path", p.Path)
		resp, err = c.doStream(ctx, cred, req, f)

	case Query:
		resp, err = c.doStream(ctx, cred, req, strings.NewReader(string(p)))

	default:
		return nil, fmt.Errorf("%s: unsupported payload %T", action, payload)
	}
	if err != nil {
		return nil, err
	}

	var info BatchInfo
	if err := c.decode(action, resp, &info); err != nil {
		return nil, err
	}
	c.logger.Debug("created batch", "job_id", jobID, "batch_id", info.ID, "state", info.State)
	return &info, nil
}

func (c *Client) doStream(ctx context.Context, cred auth.Credential, req request, body io.Reader) (*response, error) {
	req.body = body
	req.contentType = textCSV
	return c.do(ctx, cred, req)
}

// GetBatch fetches the current status of a batch.
func (c *Client) GetBatch(ctx context.Context, cred auth.Credential, jobID, batchID string) (*BatchInfo, error) {
	const action = "get batch details"

	resp, err := c.do(ctx, cred, request{
		action:   action,
		method:   http.MethodGet,
		path:     []string{jobID, "batch", batchID},
		expected: http.StatusOK,
	})
	if err != nil {
		return nil, err
	}

	var info BatchInfo
	if err := c.decode(action, resp, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetBatchRequest returns the rows the service holds for a batch, in the
// order they were submitted.
func (c *Client) GetBatchRequest(ctx context.Context, cred auth.Credential, jobID, batchID string) ([]record.Row, error) {
	const action = "get batch request"

	resp, err := c.do(ctx, cred, request{
		action:   action,
		method:   http.MethodGet,
		path:     []string{jobID, "batch", batchID, "request"},
		expected: http.StatusOK,
	})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(resp.format(), resp.body)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}
	return rows, nil
}
