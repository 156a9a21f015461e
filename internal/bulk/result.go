package bulk

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/record"
	"github.com/JonMunkholm/bulkforce/internal/result"
)

// BatchResult is the outcome of one finished batch. Load batches fill
// Partition; query batches fill Rows.
type BatchResult struct {
	Query     bool
	Partition result.Partition
	Rows      []record.Row
}

// Len returns the number of rows in the result.
func (r *BatchResult) Len() int {
	if r.Query {
		return len(r.Rows)
	}
	return r.Partition.Len()
}

// FetchBatchResult retrieves the result of a finished batch.
//
// An XML body is a list of query result part ids: every part is downloaded
// in parallel and the parts are joined in listed order. Any failed part
// fails the whole fetch. Any other body is a per-row load result: the
// submitted rows are fetched from the service and reconciled with it by
// position.
func (c *Client) FetchBatchResult(ctx context.Context, cred auth.Credential, jobID, batchID string) (*BatchResult, error) {
	resp, err := c.do(ctx, cred, request{
		action:   "get batch result",
		method:   http.MethodGet,
		path:     []string{jobID, "batch", batchID, "result"},
		expected: http.StatusOK,
	})
	if err != nil {
		return nil, err
	}

	if resp.format() == formatXML {
		rows, err := c.queryResult(ctx, cred, jobID, batchID, resp)
		if err != nil {
			return nil, err
		}
		return &BatchResult{Query: true, Rows: rows}, nil
	}

	p, err := c.loadResult(ctx, cred, jobID, batchID, resp)
	if err != nil {
		return nil, err
	}
	return &BatchResult{Partition: p}, nil
}

func (c *Client) queryResult(ctx context.Context, cred auth.Credential, jobID, batchID string, resp *response) ([]record.Row, error) {
	const action = "get query batch result"

	var list resultList
	if err := c.decode(action, resp, &list); err != nil {
		return nil, err
	}
	ids := trimAll(list.Results)

	parts := make([][]record.Row, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PartWorkers)
	for i, id := range ids {
		g.Go(func() error {
			rows, err := c.fetchResultPart(gctx, cred, jobID, batchID, id)
			if err != nil {
				return err
			}
			parts[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched query result", "job_id", jobID, "batch_id", batchID, "parts", len(ids))
	return result.JoinQueryResults(parts), nil
}

func (c *Client) fetchResultPart(ctx context.Context, cred auth.Credential, jobID, batchID, partID string) ([]record.Row, error) {
	action := "get batch result " + partID

	resp, err := c.do(ctx, cred, request{
		action:   action,
		method:   http.MethodGet,
		path:     []string{jobID, "batch", batchID, "result", partID},
		expected: http.StatusOK,
	})
	if err != nil {
		return nil, err
	}

	// Parts are CSV unless the service says otherwise.
	f := formatCSV
	if strings.HasPrefix(resp.header.Get("Content-Type"), "application/json") {
		f = formatJSON
	}
	rows, err := decodeRows(f, resp.body)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}
	return rows, nil
}

func (c *Client) loadResult(ctx context.Context, cred auth.Credential, jobID, batchID string, resp *response) (result.Partition, error) {
	const action = "get input batch result"

	outcomes, err := decodeOutcomes(resp.format(), resp.body)
	if err != nil {
		return result.Partition{}, &TransportError{Action: action, Err: err}
	}

	req, err := c.GetBatchRequest(ctx, cred, jobID, batchID)
	if err != nil {
		return result.Partition{}, fmt.Errorf("%s: %w", action, err)
	}

	p, err := result.Build(req, outcomes)
	if err != nil {
		return result.Partition{}, fmt.Errorf("%s: %w", action, err)
	}
	return p, nil
}
