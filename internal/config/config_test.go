package config

import (
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/bulkforce/internal/auth"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(env(nil))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Salesforce.LoginURL != "https://login.salesforce.com" {
		t.Errorf("Salesforce.LoginURL = %q", cfg.Salesforce.LoginURL)
	}
	if cfg.Bulk.APIVersion != "38.0" {
		t.Errorf("Bulk.APIVersion = %q, want %q", cfg.Bulk.APIVersion, "38.0")
	}
	if cfg.Bulk.PollInterval != 2*time.Second {
		t.Errorf("Bulk.PollInterval = %v, want %v", cfg.Bulk.PollInterval, 2*time.Second)
	}
	if cfg.Bulk.MaxBatchSize != 2000 {
		t.Errorf("Bulk.MaxBatchSize = %d, want %d", cfg.Bulk.MaxBatchSize, 2000)
	}
	if cfg.Bulk.MaxConcurrent != 0 {
		t.Errorf("Bulk.MaxConcurrent = %d, want 0", cfg.Bulk.MaxConcurrent)
	}
	if cfg.Bulk.RateLimit != 10 {
		t.Errorf("Bulk.RateLimit = %v, want 10", cfg.Bulk.RateLimit)
	}
	if !cfg.Sink.S3UseSSL {
		t.Error("Sink.S3UseSSL should default to true")
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %q", cfg.Server.Addr())
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"BULK_MAX_BATCH_SIZE": "500",
		"BULK_MAX_CONCURRENT": "4",
		"BULK_RATE_LIMIT":     "2.5",
		"BULK_POLL_INTERVAL":  "1m30s",
		"LOG_LEVEL":           "debug",
		"S3_USE_SSL":          "false",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Bulk.MaxBatchSize != 500 {
		t.Errorf("Bulk.MaxBatchSize = %d, want 500", cfg.Bulk.MaxBatchSize)
	}
	if cfg.Bulk.MaxConcurrent != 4 {
		t.Errorf("Bulk.MaxConcurrent = %d, want 4", cfg.Bulk.MaxConcurrent)
	}
	if cfg.Bulk.RateLimit != 2.5 {
		t.Errorf("Bulk.RateLimit = %v, want 2.5", cfg.Bulk.RateLimit)
	}
	if cfg.Bulk.PollInterval != 90*time.Second {
		t.Errorf("Bulk.PollInterval = %v, want 90s", cfg.Bulk.PollInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Sink.S3UseSSL {
		t.Error("Sink.S3UseSSL should be false")
	}
}

func TestLoad_AltEnvVar(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{"DB_URL": "postgres://localhost/alttest"}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Sink.DatabaseURL != "postgres://localhost/alttest" {
		t.Errorf("Sink.DatabaseURL = %q", cfg.Sink.DatabaseURL)
	}
}

func TestLoad_FromProcessEnv(t *testing.T) {
	t.Setenv("BULK_MAX_BATCH_SIZE", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bulk.MaxBatchSize != 10 {
		t.Errorf("Bulk.MaxBatchSize = %d, want 10", cfg.Bulk.MaxBatchSize)
	}
}

func TestLoad_CommaSeparatedSlice(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{"API_KEYS": "alpha, beta , ,gamma"}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	want := []string{"alpha", "beta", "gamma"}
	if len(cfg.Server.APIKeys) != len(want) {
		t.Fatalf("APIKeys = %v, want %v", cfg.Server.APIKeys, want)
	}
	for i := range want {
		if cfg.Server.APIKeys[i] != want[i] {
			t.Errorf("APIKeys[%d] = %q, want %q", i, cfg.Server.APIKeys[i], want[i])
		}
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr string
	}{
		{"bad int", map[string]string{"BULK_MAX_BATCH_SIZE": "many"}, "invalid integer"},
		{"bad duration", map[string]string{"BULK_POLL_INTERVAL": "soon"}, "invalid duration"},
		{"bad float", map[string]string{"BULK_RATE_LIMIT": "fast"}, "invalid number"},
		{"bad bool", map[string]string{"S3_USE_SSL": "maybe"}, "invalid boolean"},
		{"zero batch size", map[string]string{"BULK_MAX_BATCH_SIZE": "0"}, "BULK_MAX_BATCH_SIZE must be positive"},
		{"negative concurrency", map[string]string{"BULK_MAX_CONCURRENT": "-1"}, "BULK_MAX_CONCURRENT must be non-negative"},
		{"bad version", map[string]string{"BULK_API_VERSION": "v38"}, "BULK_API_VERSION"},
		{"half a session", map[string]string{"SF_INSTANCE_URL": "https://na1.example.com"}, "must be set together"},
		{"s3 without keys", map[string]string{"S3_ENDPOINT": "http://minio:9000"}, "S3_ACCESS_KEY"},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
		{"bad port", map[string]string{"SERVER_PORT": "70000"}, "SERVER_PORT"},
		{"negative rate limit", map[string]string{"SERVER_RATE_LIMIT": "-5"}, "SERVER_RATE_LIMIT cannot be negative"},
		{"zero run retention", map[string]string{"SERVER_RUN_RETENTION": "0s"}, "SERVER_RUN_RETENTION must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(env(tt.vars))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	_, err := LoadFrom(env(map[string]string{
		"BULK_MAX_BATCH_SIZE": "0",
		"BULK_RATE_BURST":     "0",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"BULK_MAX_BATCH_SIZE", "BULK_RATE_BURST"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}
}

func TestSalesforce_Authenticator(t *testing.T) {
	sf := SalesforceConfig{InstanceURL: "https://na1.example.com", AccessToken: "tok"}
	if _, ok := sf.Authenticator(nil).(auth.Static); !ok {
		t.Errorf("expected a static authenticator for a configured session")
	}
	if err := sf.ValidateLogin(); err != nil {
		t.Errorf("ValidateLogin() = %v", err)
	}

	sf = SalesforceConfig{Username: "u", Password: "p", ClientID: "c", ClientSecret: "s", SecurityToken: "t"}
	login, ok := sf.Authenticator(nil).(*auth.PasswordLogin)
	if !ok {
		t.Fatalf("expected a password login")
	}
	if login.Username != "u" || login.SecurityToken != "t" {
		t.Errorf("login fields not copied: %+v", login)
	}
	if err := sf.ValidateLogin(); err != nil {
		t.Errorf("ValidateLogin() = %v", err)
	}

	err := (&SalesforceConfig{Username: "u"}).ValidateLogin()
	if err == nil || !strings.Contains(err.Error(), "SF_CLIENT_ID, SF_CLIENT_SECRET, SF_PASSWORD") {
		t.Errorf("ValidateLogin() = %v", err)
	}
}

func TestString_MasksSecrets(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"SF_PASSWORD":  "hunter2",
		"DATABASE_URL": "postgres://user:secret@db/bulk",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	s := cfg.String()
	if strings.Contains(s, "hunter2") || strings.Contains(s, "secret") {
		t.Errorf("String() leaks secrets: %s", s)
	}
}
