// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath     string
	ListenAddr string
	SecretKey  string

	// Hosted backend defaults, used until credentials are stored.
	ServiceURL string
	ServiceKey string

	// Backend selection used until one is persisted.
	Backend    model.BackendKind
	APIBaseURL string

	ProbeTable     string
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration

	RateLimit      float64
	RateBurst      int
	MaxUploadBytes int64
}

// DefaultCredentials returns the hosted credentials to fall back on: the
// environment overrides when both are set, the compiled-in pair otherwise.
func (c *Config) DefaultCredentials() model.Credentials {
	creds := model.Credentials{ServiceURL: c.ServiceURL, ServiceKey: c.ServiceKey}
	if creds.Validate() != nil {
		return model.DefaultCredentials()
	}
	return creds
}

// BackendConfiguration returns the fallback backend selection.
func (c *Config) BackendConfiguration() model.Configuration {
	return model.Configuration{BackendKind: c.Backend, APIBaseURL: c.APIBaseURL}
}

// HasSecretKey reports whether credentials are encrypted at rest.
func (c *Config) HasSecretKey() bool {
	return c.SecretKey != ""
}

// LoadDotEnv loads variables from the given files (".env" when none are
// named) without overriding the process environment. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables and returns a validated Config.
// Every variable is optional. Defaults: DATAGATE_DB_PATH (datagate.db),
// DATAGATE_LISTEN_ADDR (127.0.0.1:8080), DATAGATE_BACKEND (hosted),
// DATAGATE_PROBE_TABLE (contact_submissions), DATAGATE_PROBE_TIMEOUT (10s),
// DATAGATE_REQUEST_TIMEOUT (30s), DATAGATE_RATE_LIMIT (20),
// DATAGATE_RATE_BURST (40), DATAGATE_MAX_UPLOAD_BYTES (32 MiB).
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:         "datagate.db",
		ListenAddr:     "127.0.0.1:8080",
		SecretKey:      os.Getenv("DATAGATE_SECRET_KEY"),
		ServiceURL:     strings.TrimSpace(os.Getenv("DATAGATE_SERVICE_URL")),
		ServiceKey:     strings.TrimSpace(os.Getenv("DATAGATE_SERVICE_KEY")),
		Backend:        model.BackendHosted,
		APIBaseURL:     strings.TrimSpace(os.Getenv("DATAGATE_API_BASE_URL")),
		ProbeTable:     "contact_submissions",
		ProbeTimeout:   10 * time.Second,
		RequestTimeout: 30 * time.Second,
		RateLimit:      20,
		RateBurst:      40,
		MaxUploadBytes: 32 << 20,
	}

	if v, ok := os.LookupEnv("DATAGATE_DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("DATAGATE_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("DATAGATE_PROBE_TABLE"); ok && v != "" {
		cfg.ProbeTable = v
	}

	if v, ok := os.LookupEnv("DATAGATE_BACKEND"); ok && v != "" {
		kind, err := model.ParseBackendKind(v)
		if err != nil {
			return nil, fmt.Errorf("DATAGATE_BACKEND: %w", err)
		}
		cfg.Backend = kind
	}
	if err := cfg.BackendConfiguration().Validate(); err != nil {
		return nil, fmt.Errorf("DATAGATE_API_BASE_URL: %w", err)
	}

	var err error
	if cfg.ProbeTimeout, err = durationEnv("DATAGATE_PROBE_TIMEOUT", cfg.ProbeTimeout); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = durationEnv("DATAGATE_REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("DATAGATE_RATE_LIMIT"); ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("DATAGATE_RATE_LIMIT must be a positive number, got %q", v)
		}
		cfg.RateLimit = parsed
	}
	if cfg.RateBurst, err = positiveIntEnv("DATAGATE_RATE_BURST", cfg.RateBurst); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("DATAGATE_MAX_UPLOAD_BYTES"); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("DATAGATE_MAX_UPLOAD_BYTES must be a positive integer, got %q", v)
		}
		cfg.MaxUploadBytes = parsed
	}

	return cfg, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}

func positiveIntEnv(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return parsed, nil
}
