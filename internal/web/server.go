// Package web serves the bulk orchestrator over HTTP (bulkforce serve).
//
// Loads take a CSV upload, queries a JSON body. Both run synchronously by
// default; with ?async=true the request returns 202 and the run is
// followed through /api/runs/{runID} and its progress stream.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
	"github.com/JonMunkholm/bulkforce/internal/config"
	"github.com/JonMunkholm/bulkforce/internal/web/middleware"
)

// Deleter removes records by id. *rest.Client implements it.
type Deleter interface {
	DeleteRecords(ctx context.Context, cred auth.Credential, object string, ids []string) (int, error)
}

// Server is the HTTP server for the bulk API.
type Server struct {
	service *bulkforce.Service
	deleter Deleter
	auth    auth.Authenticator
	cfg     config.ServerConfig
	logger  *slog.Logger
	runs    *runStore
	router  *chi.Mux
	server  *http.Server

	// background tracks async runs so Shutdown can wait for them.
	background sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithDeleter enables /api/delete/{object}. a supplies the session used
// for every delete.
func WithDeleter(d Deleter, a auth.Authenticator) Option {
	return func(s *Server) {
		s.deleter = d
		s.auth = a
	}
}

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new Server instance.
func NewServer(service *bulkforce.Service, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		logger:  slog.Default(),
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	retention := cfg.RunRetention
	if retention <= 0 {
		retention = time.Hour
	}
	s.runs = newRunStore(retention)
	if len(cfg.APIKeys) == 0 {
		s.logger.Warn("no API keys configured: requests are unauthenticated and result destinations are refused")
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.TrustedProxies))
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.RequestsPerMinute > 0 {
		limiter := newClientLimiter(s.cfg.RequestsPerMinute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.APIKeys))

		r.Post("/load/{object}", s.handleLoad)
		r.Post("/query", s.handleQuery)
		r.Post("/delete/{object}", s.handleDelete)

		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/runs/{runID}/progress", s.handleRunProgress)
	})
}

// Start begins listening for HTTP requests. It returns nil after Shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
		// Loads run for as long as the remote job takes; no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.logger.Info("starting server", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight requests and
// async runs until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	limit   rate.Limit
	burst   int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{
		clients: make(map[string]*clientBucket),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
	}
}

func (cl *clientLimiter) allow(client string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	for ip, b := range cl.clients {
		if now.Sub(b.lastSeen) > 10*time.Minute {
			delete(cl.clients, ip)
		}
	}

	b, ok := cl.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// middleware rejects clients that exhausted their bucket with 429.
func (cl *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
