package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/bulk"
	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
	"github.com/JonMunkholm/bulkforce/internal/config"
	"github.com/JonMunkholm/bulkforce/internal/logging"
	"github.com/JonMunkholm/bulkforce/internal/rest"
	"github.com/JonMunkholm/bulkforce/internal/sink"
)

// app holds the collaborators built from configuration for one command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	runID   uuid.UUID
	auth    auth.Authenticator
	service *bulkforce.Service
	limiter *bulkforce.BatchLimiter
	pool    *pgxpool.Pool
}

type appOptions struct {
	// maxConcurrent overrides BULK_MAX_CONCURRENT when non-negative.
	maxConcurrent int
	// noArchive skips the Postgres archive even when DATABASE_URL is set.
	noArchive bool
	// progress receives per-batch progress.
	progress func(bulkforce.Progress)
}

// newApp wires the service: login, bulk client, batch limiter, file and
// object sinks and, with DATABASE_URL, the Postgres result archive.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if err := cfg.Salesforce.ValidateLogin(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: slog.Default(),
		runID:  uuid.New(),
	}
	a.auth = cfg.Salesforce.Authenticator(a.logger)

	maxConcurrent := cfg.Bulk.MaxConcurrent
	if opts.maxConcurrent >= 0 {
		maxConcurrent = opts.maxConcurrent
	}
	a.limiter = bulkforce.NewBatchLimiter(maxConcurrent, 0)

	router := sink.Router{Files: sink.FileSink{}}
	if cfg.Sink.HasObjectStore() {
		objects, err := sink.NewObjectSink(cfg.Sink.ObjectConfig())
		if err != nil {
			return nil, err
		}
		router.Objects = objects
	}

	svcOpts := []bulkforce.Option{
		bulkforce.WithAuthenticator(a.auth),
		bulkforce.WithSink(router),
		bulkforce.WithLogger(a.logger),
		bulkforce.WithLimiter(a.limiter),
		bulkforce.WithCallTimeout(cfg.Bulk.CallTimeout),
		bulkforce.WithCloseTimeout(cfg.Bulk.CloseTimeout),
	}
	if opts.progress != nil {
		svcOpts = append(svcOpts, bulkforce.WithProgress(opts.progress))
	}

	if cfg.Sink.DatabaseURL != "" && !opts.noArchive {
		archive, err := a.openArchive(ctx)
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, bulkforce.WithArchive(archive))
	}

	client := bulk.NewClient(cfg.Bulk.ClientConfig(a.logger))
	a.service = bulkforce.NewService(client, svcOpts...)
	return a, nil
}

// openArchive connects to Postgres and prepares the result table.
func (a *app) openArchive(ctx context.Context) (*sink.PostgresSink, error) {
	poolConfig, err := pgxpool.ParseConfig(a.cfg.Sink.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(a.cfg.Sink.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	a.pool = pool

	archive := sink.NewPostgresSink(pool, a.cfg.Sink.Table, a.runID)
	if err := archive.EnsureTable(ctx); err != nil {
		return nil, err
	}
	a.logger.Info("archiving results", "table", a.cfg.Sink.Table)
	return archive, nil
}

// deleter returns the REST client paced by the bulk rate limit.
func (a *app) deleter(workers int) *rest.Client {
	return &rest.Client{
		Workers: workers,
		Limiter: rate.NewLimiter(rate.Limit(a.cfg.Bulk.RateLimit), a.cfg.Bulk.RateBurst),
		Logger:  a.logger,
	}
}

// context tags ctx with the run id for log correlation.
func (a *app) context(ctx context.Context) context.Context {
	return logging.ContextWithRunID(ctx, a.runID.String())
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
