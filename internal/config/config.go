// Package config provides centralized configuration management for bulkforce.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/JonMunkholm/bulkforce/internal/auth"
	"github.com/JonMunkholm/bulkforce/internal/bulk"
	"github.com/JonMunkholm/bulkforce/internal/sink"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Salesforce SalesforceConfig
	Bulk       BulkConfig
	Sink       SinkConfig
	Server     ServerConfig
	Logging    LoggingConfig
}

// SalesforceConfig holds login settings. Either InstanceURL and
// AccessToken are set, or the password-grant fields are used to log in.
type SalesforceConfig struct {
	// LoginURL is the OAuth host (default: https://login.salesforce.com)
	LoginURL string `env:"SF_LOGIN_URL" default:"https://login.salesforce.com"`

	ClientID      string `env:"SF_CLIENT_ID"`
	ClientSecret  string `env:"SF_CLIENT_SECRET"`
	Username      string `env:"SF_USERNAME"`
	Password      string `env:"SF_PASSWORD"`
	SecurityToken string `env:"SF_SECURITY_TOKEN"`

	// InstanceURL and AccessToken skip the login step when both are set.
	InstanceURL string `env:"SF_INSTANCE_URL"`
	AccessToken string `env:"SF_ACCESS_TOKEN"`

	// LoginTimeout bounds the token request (default: 30s)
	LoginTimeout time.Duration `env:"SF_LOGIN_TIMEOUT" default:"30s"`
}

// BulkConfig holds job/batch processing settings.
type BulkConfig struct {
	// APIVersion selects /services/async/{version} (default: 38.0)
	APIVersion string `env:"BULK_API_VERSION" default:"38.0"`

	// PollInterval is the wait between batch status checks (default: 2s)
	PollInterval time.Duration `env:"BULK_POLL_INTERVAL" default:"2s"`

	// MaxBatchSize is the maximum number of rows per batch (default: 2000)
	MaxBatchSize int `env:"BULK_MAX_BATCH_SIZE" default:"2000"`

	// MaxConcurrent bounds in-flight batches; 0 means unbounded (default: 0)
	MaxConcurrent int `env:"BULK_MAX_CONCURRENT" default:"0"`

	// HTTPTimeout bounds a single HTTP exchange (default: 60s)
	HTTPTimeout time.Duration `env:"BULK_HTTP_TIMEOUT" default:"60s"`

	// RateLimit is remote calls per second across all batches (default: 10)
	RateLimit float64 `env:"BULK_RATE_LIMIT" default:"10"`

	// RateBurst is the rate limiter bucket size (default: 5)
	RateBurst int `env:"BULK_RATE_BURST" default:"5"`

	// CallTimeout bounds a whole load or query; 0 disables it (default: 0)
	CallTimeout time.Duration `env:"BULK_CALL_TIMEOUT" default:"0s"`

	// CloseTimeout bounds the close-job cleanup call (default: 30s)
	CloseTimeout time.Duration `env:"BULK_CLOSE_TIMEOUT" default:"30s"`
}

// SinkConfig holds result persistence settings.
type SinkConfig struct {
	// DatabaseURL enables the Postgres result archive when set.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// Table is the archive table (default: bulk_results)
	Table string `env:"BULK_RESULTS_TABLE" default:"bulk_results"`

	// MaxConns is the maximum number of pool connections (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// S3 settings for s3://bucket/prefix destinations.
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3Region    string `env:"S3_REGION"`
	S3UseSSL    bool   `env:"S3_USE_SSL" default:"true"`
}

// ServerConfig holds settings for the HTTP API (bulkforce serve).
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxUploadSize is the largest accepted CSV upload in bytes (default: 100MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" default:"104857600"`

	// APIKeys are accepted in the X-API-Key header. Empty disables auth and
	// refuses every toPath and toFile destination.
	APIKeys []string `env:"API_KEYS"`

	// OutputDir is the root for local toPath and toFile destinations, which
	// must be relative to it. Empty refuses local destinations.
	OutputDir string `env:"SERVER_OUTPUT_DIR"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequestsPerMinute is the per-client request budget; 0 disables it (default: 100)
	RequestsPerMinute int `env:"SERVER_RATE_LIMIT" default:"100"`

	// RunRetention is how long finished runs stay queryable (default: 1h)
	RunRetention time.Duration `env:"SERVER_RUN_RETENTION" default:"1h"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HasSession reports whether a ready-made session is configured.
func (c *SalesforceConfig) HasSession() bool {
	return c.InstanceURL != "" && c.AccessToken != ""
}

// Authenticator returns the credential source described by the config: a
// fixed session when one is configured, the password grant otherwise.
func (c *SalesforceConfig) Authenticator(logger *slog.Logger) auth.Authenticator {
	if c.HasSession() {
		return auth.Static{InstanceURL: c.InstanceURL, AccessToken: c.AccessToken}
	}
	return &auth.PasswordLogin{
		LoginURL:      c.LoginURL,
		ClientID:      c.ClientID,
		ClientSecret:  c.ClientSecret,
		Username:      c.Username,
		Password:      c.Password,
		SecurityToken: c.SecurityToken,
		Logger:        logger,
	}
}

// ClientConfig returns the bulk client settings.
func (c *BulkConfig) ClientConfig(logger *slog.Logger) bulk.Config {
	return bulk.Config{
		APIVersion:   c.APIVersion,
		PollInterval: c.PollInterval,
		Timeout:      c.HTTPTimeout,
		RateLimit:    c.RateLimit,
		RateBurst:    c.RateBurst,
		Logger:       logger,
	}
}

// HasObjectStore reports whether S3 destinations can be used.
func (c *SinkConfig) HasObjectStore() bool {
	return c.S3Endpoint != ""
}

// ObjectConfig returns the object store settings.
func (c *SinkConfig) ObjectConfig() sink.ObjectConfig {
	return sink.ObjectConfig{
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Region:    c.S3Region,
		UseSSL:    c.S3UseSSL,
	}
}
