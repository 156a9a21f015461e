package bulkforce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/bulk"
	"github.com/JonMunkholm/bulkforce/internal/logging"
	"github.com/JonMunkholm/bulkforce/internal/mapping"
	"github.com/JonMunkholm/bulkforce/internal/record"
	"github.com/JonMunkholm/bulkforce/internal/result"
	"github.com/JonMunkholm/bulkforce/internal/sink"
	"github.com/JonMunkholm/bulkforce/internal/split"
)

// LoadOptions describes a load.
type LoadOptions struct {
	// Action is insert, update, upsert or delete.
	Action string
	// Object is the sObject name, e.g. Account.
	Object string
	// ExternalField is the external id field used by upsert.
	ExternalField string
	// MaxBatchSize caps rows per batch; split.DefaultMaxBatchSize when zero.
	MaxBatchSize int
	// MapFile renames fields or hardcodes values before submission.
	MapFile string
	// ToPath persists results as {ToPath}/{Object}_success.csv and
	// {ToPath}/{Object}_error.csv instead of returning rows.
	ToPath string
	// ContentType is the job's wire format, JSON or CSV. JSON when empty.
	ContentType string
	// Credential skips the login when set.
	Credential *auth.Credential
	// Progress is called after every finished batch of this load, in
	// addition to the service-wide callback.
	Progress func(Progress)
}

// LoadResult is the outcome of a load. Success and Error hold the joined
// rows unless they were persisted, in which case only the counts are set.
type LoadResult struct {
	JobID        string       `json:"jobId"`
	Batches      int          `json:"batches"`
	SuccessCount int          `json:"successCount"`
	ErrorCount   int          `json:"errorCount"`
	Success      []record.Row `json:"success,omitempty"`
	Error        []record.Row `json:"error,omitempty"`
	Files        []string     `json:"files,omitempty"`
}

// Load splits src into batches, runs them in one job and returns the joined
// result. The job is closed exactly once, after every batch has finished or
// the first one has failed.
//
// When only closing the job fails, the result is returned together with a
// *CloseJobError.
func (s *Service) Load(ctx context.Context, opts LoadOptions, src split.Source) (*LoadResult, error) {
	if !bulk.ValidOperation(opts.Action) || opts.Action == bulk.OpQuery {
		return nil, &OpError{Action: ActionLoad, Reason: ReasonCreate, Err: fmt.Errorf("unsupported action %q", opts.Action)}
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = bulk.ContentJSON
	}
	if contentType != bulk.ContentJSON && contentType != bulk.ContentCSV {
		return nil, &OpError{Action: ActionLoad, Reason: ReasonCreate, Err: fmt.Errorf("unsupported content type %q", contentType)}
	}

	ctx, cancel := s.withCallTimeout(ctx)
	defer cancel()

	cred, err := s.credential(ctx, opts.Credential)
	if err != nil {
		return nil, &OpError{Action: ActionLoad, Reason: ReasonLogin, Err: err}
	}

	batches, err := split.Split(split.Options{MaxBatchSize: opts.MaxBatchSize}, src)
	if err != nil {
		return nil, &OpError{Action: ActionLoad, Reason: ReasonSplit, Err: err}
	}

	job, err := s.api.CreateJob(ctx, cred, bulk.JobSpec{
		Operation:       opts.Action,
		Object:          opts.Object,
		ContentType:     contentType,
		ExternalIDField: opts.ExternalField,
	})
	if err != nil {
		return nil, &OpError{Action: ActionLoad, Reason: ReasonCreate, Err: err}
	}

	ctx = logging.ContextWithJobID(ctx, job.ID)
	logger := logging.FromContext(ctx, s.logger)
	logger.Info("load started", "object", opts.Object, "action", opts.Action, "batches", len(batches))
	start := time.Now()

	parts, runErr := s.runBatches(ctx, cred, job.ID, opts, contentType, batches)
	if runErr != nil {
		runErr = &OpError{Action: ActionLoad, Reason: ReasonBatch, Err: runErr}
	}

	closeErr := s.closeJob(ctx, cred, job.ID)
	if runErr != nil {
		logger.Error("load failed", "error", runErr)
		return nil, withClose(job.ID, runErr, closeErr)
	}

	joined := result.JoinInputResults(parts)
	res := &LoadResult{
		JobID:        job.ID,
		Batches:      len(batches),
		SuccessCount: len(joined.Success),
		ErrorCount:   len(joined.Error),
		Success:      joined.Success,
		Error:        joined.Error,
	}
	logger.Info("load finished",
		"success", res.SuccessCount,
		"error", res.ErrorCount,
		"duration", time.Since(start),
	)

	s.archiveRows(ctx, sink.Output{JobID: job.ID, Object: opts.Object, Kind: sink.KindSuccess}, joined.Success)
	s.archiveRows(ctx, sink.Output{JobID: job.ID, Object: opts.Object, Kind: sink.KindError}, joined.Error)

	if closeErr != nil {
		return res, withClose(job.ID, nil, closeErr)
	}

	if opts.ToPath != "" {
		if err := s.persistLoad(ctx, opts, job.ID, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// persistLoad writes the success and error sets and drops the rows from res.
func (s *Service) persistLoad(ctx context.Context, opts LoadOptions, jobID string, res *LoadResult) error {
	sets := []struct {
		kind string
		rows []record.Row
	}{
		{sink.KindSuccess, res.Success},
		{sink.KindError, res.Error},
	}
	for _, set := range sets {
		out := sink.Output{
			Dest:   sink.Join(opts.ToPath, fmt.Sprintf("%s_%s.csv", opts.Object, set.kind)),
			JobID:  jobID,
			Object: opts.Object,
			Kind:   set.kind,
		}
		loc, err := s.save(ctx, out, set.rows)
		if err != nil {
			return err
		}
		if loc != "" {
			res.Files = append(res.Files, loc)
		}
	}
	res.Success, res.Error = nil, nil
	return nil
}

// runBatches processes every batch concurrently and returns their results
// in submission order. The first failure cancels the batches still running.
func (s *Service) runBatches(ctx context.Context, cred auth.Credential, jobID string, opts LoadOptions, contentType string, batches [][]record.Row) ([]result.Partition, error) {
	var loadMapping func() (mapping.Spec, error)
	if opts.MapFile != "" {
		loadMapping = sync.OnceValues(func() (mapping.Spec, error) {
			return mapping.Load(opts.MapFile)
		})
	}

	progress := newTracker(jobID, len(batches), s.progress, opts.Progress)
	parts := make([]result.Partition, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, rows := range batches {
		g.Go(func() error {
			if err := s.limiter.Acquire(gctx); err != nil {
				return &BatchError{Index: i, Err: err}
			}
			defer s.limiter.Release()

			part, err := s.processBatch(gctx, cred, jobID, i, rows, contentType, loadMapping)
			progress.finish(err)
			if err != nil {
				return err
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

// processBatch maps, submits, polls and fetches one batch.
func (s *Service) processBatch(ctx context.Context, cred auth.Credential, jobID string, index int, rows []record.Row, contentType string, loadMapping func() (mapping.Spec, error)) (result.Partition, error) {
	if loadMapping != nil {
		spec, err := loadMapping()
		if err != nil {
			return result.Partition{}, &BatchError{Index: index, Err: fmt.Errorf("process mapping file: %w", err)}
		}
		rows = spec.Apply(rows)
	}

	var payload bulk.Payload = bulk.Rows(rows)
	if contentType == bulk.ContentCSV {
		payload = bulk.CSVRows(rows)
	}

	info, err := s.api.CreateBatch(ctx, cred, jobID, payload)
	if err != nil {
		return result.Partition{}, &BatchError{Index: index, Err: err}
	}

	logger := logging.WithFields(ctx, s.logger, "batch_id", info.ID, "batch", index)
	logger.Debug("created batch", "rows", len(rows))

	final, err := s.api.PollBatch(ctx, cred, jobID, info.ID, s.pollInterval)
	if err != nil {
		return result.Partition{}, &BatchError{Index: index, BatchID: info.ID, Err: err}
	}
	if err := final.Err(); err != nil {
		return result.Partition{}, &BatchError{Index: index, BatchID: info.ID, Err: err}
	}
	logger.Debug("batch completed", "state", final.State)

	res, err := s.api.FetchBatchResult(ctx, cred, jobID, info.ID)
	if err != nil {
		return result.Partition{}, &BatchError{Index: index, BatchID: info.ID, Err: err}
	}
	logger.Debug("received batch results", "success", len(res.Partition.Success), "error", len(res.Partition.Error))
	return res.Partition, nil
}
