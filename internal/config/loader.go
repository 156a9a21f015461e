package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// LookupFunc returns the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom is Load with an explicit variable source.
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem(), lookup); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value, lookup LookupFunc) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal, lookup); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		value, _ := lookup(envName)
		if value == "" && envAlt != "" {
			value, _ = lookup(envAlt)
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Bulk.APIVersion == "" {
		errs = append(errs, "BULK_API_VERSION is required")
	} else if _, err := strconv.ParseFloat(c.Bulk.APIVersion, 64); err != nil {
		errs = append(errs, fmt.Sprintf("BULK_API_VERSION (%q) must look like 38.0", c.Bulk.APIVersion))
	}
	if c.Bulk.PollInterval <= 0 {
		errs = append(errs, "BULK_POLL_INTERVAL must be positive")
	}
	if c.Bulk.MaxBatchSize <= 0 {
		errs = append(errs, "BULK_MAX_BATCH_SIZE must be positive")
	}
	if c.Bulk.MaxConcurrent < 0 {
		errs = append(errs, "BULK_MAX_CONCURRENT must be non-negative")
	}
	if c.Bulk.HTTPTimeout <= 0 {
		errs = append(errs, "BULK_HTTP_TIMEOUT must be positive")
	}
	if c.Bulk.RateLimit <= 0 {
		errs = append(errs, "BULK_RATE_LIMIT must be positive")
	}
	if c.Bulk.RateBurst <= 0 {
		errs = append(errs, "BULK_RATE_BURST must be positive")
	}
	if c.Bulk.CallTimeout < 0 {
		errs = append(errs, "BULK_CALL_TIMEOUT must be non-negative")
	}
	if c.Bulk.CloseTimeout <= 0 {
		errs = append(errs, "BULK_CLOSE_TIMEOUT must be positive")
	}

	if (c.Salesforce.InstanceURL == "") != (c.Salesforce.AccessToken == "") {
		errs = append(errs, "SF_INSTANCE_URL and SF_ACCESS_TOKEN must be set together")
	}

	if c.Sink.DatabaseURL != "" && c.Sink.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Sink.S3Endpoint != "" && (c.Sink.S3AccessKey == "" || c.Sink.S3SecretKey == "") {
		errs = append(errs, "S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxUploadSize <= 0 {
		errs = append(errs, "SERVER_MAX_UPLOAD_SIZE must be positive")
	}
	if c.Server.RequestsPerMinute < 0 {
		errs = append(errs, "SERVER_RATE_LIMIT cannot be negative")
	}
	if c.Server.RunRetention <= 0 {
		errs = append(errs, "SERVER_RUN_RETENTION must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateLogin checks that some way to obtain a session is configured.
func (c *SalesforceConfig) ValidateLogin() error {
	if c.HasSession() {
		return nil
	}
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"SF_CLIENT_ID", c.ClientID},
		{"SF_CLIENT_SECRET", c.ClientSecret},
		{"SF_USERNAME", c.Username},
		{"SF_PASSWORD", c.Password},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("login requires %s (or SF_INSTANCE_URL and SF_ACCESS_TOKEN)", strings.Join(missing, ", "))
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// Secrets are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Salesforce: {LoginURL: %q, Username: %q, Session: %v}, ",
		c.Salesforce.LoginURL, c.Salesforce.Username, c.Salesforce.HasSession())
	fmt.Fprintf(&b, "Bulk: {APIVersion: %q, PollInterval: %s, MaxBatchSize: %d, MaxConcurrent: %d, RateLimit: %g}, ",
		c.Bulk.APIVersion, c.Bulk.PollInterval, c.Bulk.MaxBatchSize, c.Bulk.MaxConcurrent, c.Bulk.RateLimit)
	fmt.Fprintf(&b, "Sink: {Database: %v, ObjectStore: %v}, ",
		c.Sink.DatabaseURL != "", c.Sink.HasObjectStore())
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
