package bulkforce

import (
	"context"
	"time"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/bulk"
	"github.com/JonMunkholm/bulkforce/internal/logging"
	"github.com/JonMunkholm/bulkforce/internal/record"
	"github.com/JonMunkholm/bulkforce/internal/sink"
)

// QueryOptions describes a query.
type QueryOptions struct {
	// Object is the sObject the SOQL selects from.
	Object string
	// ToFile persists the rows as CSV instead of returning them. An s3://
	// URL writes to the object store.
	ToFile string
	// Credential skips the login when set.
	Credential *auth.Credential
}

// QueryResult is the outcome of a query. Rows is empty when the result was
// persisted to Location.
type QueryResult struct {
	JobID       string       `json:"jobId"`
	RecordCount int          `json:"recordCount"`
	Rows        []record.Row `json:"rows,omitempty"`
	Location    string       `json:"location,omitempty"`
}

// Query runs soql as the single batch of a query job. Result parts are
// fetched and joined by the client; a failed part fails the query.
//
// When only closing the job fails, the result is returned together with a
// *CloseJobError and is not persisted.
func (s *Service) Query(ctx context.Context, opts QueryOptions, soql string) (*QueryResult, error) {
	ctx, cancel := s.withCallTimeout(ctx)
	defer cancel()

	cred, err := s.credential(ctx, opts.Credential)
	if err != nil {
		return nil, &OpError{Action: ActionQuery, Reason: ReasonLogin, Err: err}
	}

	job, err := s.api.CreateJob(ctx, cred, bulk.JobSpec{
		Operation:   bulk.OpQuery,
		Object:      opts.Object,
		ContentType: bulk.ContentCSV,
	})
	if err != nil {
		return nil, &OpError{Action: ActionQuery, Reason: ReasonCreate, Err: err}
	}

	ctx = logging.ContextWithJobID(ctx, job.ID)
	logger := logging.FromContext(ctx, s.logger)
	logger.Info("query started", "object", opts.Object)
	start := time.Now()

	rows, runErr := s.runQuery(ctx, cred, job.ID, soql)
	if runErr != nil {
		runErr = &OpError{Action: ActionQuery, Reason: ReasonBatch, Err: runErr}
	}

	closeErr := s.closeJob(ctx, cred, job.ID)
	if runErr != nil {
		logger.Error("query failed", "error", runErr)
		return nil, withClose(job.ID, runErr, closeErr)
	}

	res := &QueryResult{JobID: job.ID, RecordCount: len(rows), Rows: rows}
	logger.Info("query finished", "records", res.RecordCount, "duration", time.Since(start))

	s.archiveRows(ctx, sink.Output{JobID: job.ID, Object: opts.Object, Kind: sink.KindQuery}, rows)

	if closeErr != nil {
		return res, withClose(job.ID, nil, closeErr)
	}

	if opts.ToFile != "" {
		loc, err := s.save(ctx, sink.Output{
			Dest:   opts.ToFile,
			JobID:  job.ID,
			Object: opts.Object,
			Kind:   sink.KindQuery,
		}, rows)
		if err != nil {
			return nil, err
		}
		res.Rows = nil
		res.Location = loc
	}
	return res, nil
}

func (s *Service) runQuery(ctx context.Context, cred auth.Credential, jobID, soql string) ([]record.Row, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, &BatchError{Index: 0, Err: err}
	}
	defer s.limiter.Release()

	info, err := s.api.CreateBatch(ctx, cred, jobID, bulk.Query(soql))
	if err != nil {
		return nil, &BatchError{Index: 0, Err: err}
	}

	final, err := s.api.PollBatch(ctx, cred, jobID, info.ID, s.pollInterval)
	if err != nil {
		return nil, &BatchError{Index: 0, BatchID: info.ID, Err: err}
	}
	if err := final.Err(); err != nil {
		return nil, &BatchError{Index: 0, BatchID: info.ID, Err: err}
	}

	res, err := s.api.FetchBatchResult(ctx, cred, jobID, info.ID)
	if err != nil {
		return nil, &BatchError{Index: 0, BatchID: info.ID, Err: err}
	}
	rows := res.Rows
	if rows == nil {
		rows = []record.Row{}
	}
	return rows, nil
}
