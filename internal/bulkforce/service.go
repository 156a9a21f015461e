// Package bulkforce orchestrates bulk loads and queries: it splits input
// into batches, runs every batch through submit, poll and fetch
// concurrently within one job, closes the job whatever happened, joins the
// per-batch results in submission order and optionally persists them.
package bulkforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/bulk"
	"github.com/JonMunkholm/bulkforce/internal/logging"
	"github.com/JonMunkholm/bulkforce/internal/record"
	"github.com/JonMunkholm/bulkforce/internal/sink"
)

// DefaultCloseTimeout bounds the close-job call, which runs even after the
// caller's context is done.
const DefaultCloseTimeout = 30 * time.Second

// JobAPI is the remote job/batch surface the service drives. *bulk.Client
// implements it.
type JobAPI interface {
	CreateJob(ctx context.Context, cred auth.Credential, spec bulk.JobSpec) (*bulk.JobInfo, error)
	CloseJob(ctx context.Context, cred auth.Credential, jobID string) error
	CreateBatch(ctx context.Context, cred auth.Credential, jobID string, payload bulk.Payload) (*bulk.BatchInfo, error)
	PollBatch(ctx context.Context, cred auth.Credential, jobID, batchID string, interval time.Duration) (*bulk.BatchInfo, error)
	FetchBatchResult(ctx context.Context, cred auth.Credential, jobID, batchID string) (*bulk.BatchResult, error)
}

// Service runs loads and queries. It is safe for concurrent use; the batch
// limiter is shared by every call.
type Service struct {
	api          JobAPI
	auth         auth.Authenticator
	sink         sink.Sink
	archive      sink.Sink
	logger       *slog.Logger
	limiter      *BatchLimiter
	pollInterval time.Duration
	callTimeout  time.Duration
	closeTimeout time.Duration
	progress     func(Progress)
}

// Option configures a Service.
type Option func(*Service)

// WithAuthenticator sets the login used when a call carries no credential.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *Service) { s.auth = a }
}

// WithSink sets where ToPath and ToFile results are written. The default
// writes local files and refuses s3:// destinations.
func WithSink(sk sink.Sink) Option {
	return func(s *Service) { s.sink = sk }
}

// WithArchive records every non-empty result set in sk in addition to any
// ToPath or ToFile output. Archive failures are logged, not returned.
func WithArchive(sk sink.Sink) Option {
	return func(s *Service) { s.archive = sk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPollInterval sets the wait between batch status checks.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) { s.pollInterval = d }
}

// WithMaxConcurrent bounds the batches in flight across all calls. Zero
// means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) { s.limiter = NewBatchLimiter(n, 0) }
}

// WithLimiter shares an existing limiter, e.g. with a server's shutdown path.
func WithLimiter(l *BatchLimiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithCallTimeout bounds each Load or Query as a whole. The job is still
// closed when it expires.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) { s.callTimeout = d }
}

// WithCloseTimeout bounds the close-job call.
func WithCloseTimeout(d time.Duration) Option {
	return func(s *Service) { s.closeTimeout = d }
}

// WithProgress registers a callback invoked after every finished batch.
func WithProgress(fn func(Progress)) Option {
	return func(s *Service) { s.progress = fn }
}

// NewService creates a Service over api.
func NewService(api JobAPI, opts ...Option) *Service {
	s := &Service{
		api:          api,
		sink:         sink.Router{},
		pollInterval: bulk.DefaultPollInterval,
		closeTimeout: DefaultCloseTimeout,
	}
	if p, ok := api.(interface{ PollInterval() time.Duration }); ok && p.PollInterval() > 0 {
		s.pollInterval = p.PollInterval()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.limiter == nil {
		s.limiter = NewBatchLimiter(0, 0)
	}
	return s
}

// Limiter returns the batch limiter.
func (s *Service) Limiter() *BatchLimiter { return s.limiter }

// credential returns the caller's credential or logs in.
func (s *Service) credential(ctx context.Context, cred *auth.Credential) (auth.Credential, error) {
	if cred != nil {
		return *cred, nil
	}
	if s.auth == nil {
		return auth.Credential{}, fmt.Errorf("no credential supplied and no login configured")
	}
	return s.auth.Login(ctx)
}

func (s *Service) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout > 0 {
		return context.WithTimeout(ctx, s.callTimeout)
	}
	return context.WithCancel(ctx)
}

// closeJob runs on a context detached from cancellation so an abandoned
// call still closes its job.
func (s *Service) closeJob(ctx context.Context, cred auth.Credential, jobID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.closeTimeout)
	defer cancel()

	if err := s.api.CloseJob(ctx, cred, jobID); err != nil {
		logging.FromContext(ctx, s.logger).Error("failed to close job", "error", err)
		return err
	}
	return nil
}

// save writes rows to the configured sink. Empty sets are skipped and
// report no location.
func (s *Service) save(ctx context.Context, out sink.Output, rows []record.Row) (string, error) {
	logger := logging.FromContext(ctx, s.logger)
	if len(rows) == 0 {
		logger.Debug("no results to save", "dest", out.Dest, "kind", out.Kind)
		return "", nil
	}

	logger.Debug("saving results", "dest", out.Dest, "kind", out.Kind, "rows", len(rows))
	loc, err := s.sink.Save(ctx, out, rows)
	if err != nil {
		return "", asPersistError(out, err)
	}
	return loc, nil
}

// archiveRows records rows in the archive sink, if one is configured.
func (s *Service) archiveRows(ctx context.Context, out sink.Output, rows []record.Row) {
	if s.archive == nil || len(rows) == 0 {
		return
	}
	if _, err := s.archive.Save(ctx, out, rows); err != nil {
		logging.FromContext(ctx, s.logger).Warn("failed to archive results",
			"kind", out.Kind, "rows", len(rows), "error", err)
	}
}

func asPersistError(out sink.Output, err error) error {
	var pe *sink.PersistError
	if errors.As(err, &pe) {
		return err
	}
	return &sink.PersistError{Kind: out.Kind, Dest: out.Dest, Err: err}
}
