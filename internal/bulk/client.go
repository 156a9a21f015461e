package bulk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/JonMunkholm/bulkforce/internal/auth"
)

// Client defaults.
const (
	DefaultAPIVersion   = "38.0"
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 60 * time.Second
	DefaultRateLimit    = 10.0
	DefaultRateBurst    = 5
	DefaultPartWorkers  = 4
)

// SessionHeader carries the access token on every bulk call.
const SessionHeader = "X-SFDC-Session"

// Config configures a Client. Zero fields take the package defaults.
type Config struct {
	// APIVersion selects the /services/async/{version} path.
	APIVersion string

	// PollInterval is the wait between batch status checks.
	PollInterval time.Duration

	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration

	// RateLimit is the sustained number of calls per second across all
	// batches; RateBurst is the bucket size.
	RateLimit float64
	RateBurst int

	// PartWorkers bounds parallel query result part downloads.
	PartWorkers int

	// Transport replaces the HTTP transport, mainly for tests.
	Transport http.RoundTripper

	Logger *slog.Logger
}

// DefaultConfig returns a Config with all defaults filled in.
func DefaultConfig() Config {
	return Config{
		APIVersion:   DefaultAPIVersion,
		PollInterval: DefaultPollInterval,
		Timeout:      DefaultTimeout,
		RateLimit:    DefaultRateLimit,
		RateBurst:    DefaultRateBurst,
		PartWorkers:  DefaultPartWorkers,
	}
}

// Client talks to the asynchronous job/batch API. It is safe for
// concurrent use; all per-call state lives in the arguments.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.APIVersion == "" {
		cfg.APIVersion = def.APIVersion
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}
	if cfg.PartWorkers <= 0 {
		cfg.PartWorkers = def.PartWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  logger.With("component", "bulk"),
	}
}

// PollInterval returns the configured default poll interval.
func (c *Client) PollInterval() time.Duration { return c.cfg.PollInterval }

// request describes one remote call.
type request struct {
	action      string
	method      string
	path        []string
	contentType string
	body        io.Reader
	expected    int
}

// response is a fully read HTTP response.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) format() format { return formatOf(r.header) }

func (c *Client) endpoint(cred auth.Credential, path []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(cred.InstanceURL, "/"))
	b.WriteString("/services/async/")
	b.WriteString(c.cfg.APIVersion)
	b.WriteString("/job")
	for _, p := range path {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// do executes req and classifies the outcome. A transport failure yields a
// TransportError; a response with an unexpected status yields a
// StatusCodeError. Calls are never retried.
func (c *Client) do(ctx context.Context, cred auth.Credential, req request) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Action: req.action, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.endpoint(cred, req.path), req.body)
	if err != nil {
		return nil, &TransportError{Action: req.action, Err: err}
	}
	httpReq.Header.Set(SessionHeader, cred.AccessToken)
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("request failed", "action", req.action, "error", err)
		return nil, &TransportError{Action: req.action, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Action: req.action, Err: fmt.Errorf("read body: %w", err)}
	}
	resp := &response{status: httpResp.StatusCode, header: httpResp.Header, body: body}

	if resp.status != req.expected {
		se := decodeServiceError(resp.header, body)
		c.logger.Error("unexpected status",
			"action", req.action,
			"expected", req.expected,
			"status", resp.status,
			"exception_code", se.ExceptionCode,
		)
		return nil, &StatusCodeError{
			Action:           req.action,
			Expected:         req.expected,
			Actual:           resp.status,
			ExceptionCode:    se.ExceptionCode,
			ExceptionMessage: se.ExceptionMessage,
		}
	}

	c.logger.Debug("completed", "action", req.action, "status", resp.status, "duration", time.Since(start))
	return resp, nil
}

// doJSON sends v as a JSON body.
func (c *Client) doJSON(ctx context.Context, cred auth.Credential, req request, v any) (*response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &TransportError{Action: req.action, Err: fmt.Errorf("encode request: %w", err)}
	}
	req.body = bytes.NewReader(data)
	req.contentType = "application/json"
	return c.do(ctx, cred, req)
}

// decode unmarshals a JSON or XML body into v.
func (c *Client) decode(action string, resp *response, v any) error {
	if err := decodeInto(resp.format(), resp.body, v); err != nil {
		return &TransportError{Action: action, Err: fmt.Errorf("decode %s response: %w", resp.format(), err)}
	}
	return nil
}
