package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// allConfigKeys lists every DATAGATE_ env var that Load() reads.
var allConfigKeys = []string{
	"DATAGATE_DB_PATH",
	"DATAGATE_LISTEN_ADDR",
	"DATAGATE_SECRET_KEY",
	"DATAGATE_SERVICE_URL",
	"DATAGATE_SERVICE_KEY",
	"DATAGATE_BACKEND",
	"DATAGATE_API_BASE_URL",
	"DATAGATE_PROBE_TABLE",
	"DATAGATE_PROBE_TIMEOUT",
	"DATAGATE_REQUEST_TIMEOUT",
	"DATAGATE_RATE_LIMIT",
	"DATAGATE_RATE_BURST",
	"DATAGATE_MAX_UPLOAD_BYTES",
}

// isolateConfigEnv saves and unsets all DATAGATE_ env vars so tests don't
// inherit values from the host environment (e.g. a running dev server).
// t.Cleanup restores original values after the test.
func isolateConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range allConfigKeys {
		if orig, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, orig) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestLoad_Success(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("DATAGATE_DB_PATH", "/tmp/test.db")
	t.Setenv("DATAGATE_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("DATAGATE_SECRET_KEY", "s3cret")
	t.Setenv("DATAGATE_SERVICE_URL", " https://env.supabase.co ")
	t.Setenv("DATAGATE_SERVICE_KEY", "env-key")
	t.Setenv("DATAGATE_BACKEND", "custom-api")
	t.Setenv("DATAGATE_API_BASE_URL", "https://api.example.com/v1")
	t.Setenv("DATAGATE_PROBE_TABLE", "health_probe")
	t.Setenv("DATAGATE_PROBE_TIMEOUT", "3s")
	t.Setenv("DATAGATE_REQUEST_TIMEOUT", "1m")
	t.Setenv("DATAGATE_RATE_LIMIT", "2.5")
	t.Setenv("DATAGATE_RATE_BURST", "5")
	t.Setenv("DATAGATE_MAX_UPLOAD_BYTES", "1024")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr)
	assert.True(t, cfg.HasSecretKey())
	assert.Equal(t, model.Credentials{ServiceURL: "https://env.supabase.co", ServiceKey: "env-key"}, cfg.DefaultCredentials())
	assert.Equal(t, model.Configuration{BackendKind: model.BackendCustomAPI, APIBaseURL: "https://api.example.com/v1"}, cfg.BackendConfiguration())
	assert.Equal(t, "health_probe", cfg.ProbeTable)
	assert.Equal(t, 3*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, time.Minute, cfg.RequestTimeout)
	assert.InDelta(t, 2.5, cfg.RateLimit, 0)
	assert.Equal(t, 5, cfg.RateBurst)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
}

func TestLoad_Defaults(t *testing.T) {
	isolateConfigEnv(t)

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "datagate.db", cfg.DBPath)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.False(t, cfg.HasSecretKey())
	assert.Equal(t, model.DefaultCredentials(), cfg.DefaultCredentials())
	assert.Equal(t, model.BackendHosted, cfg.Backend)
	assert.Equal(t, "contact_submissions", cfg.ProbeTable)
	assert.Equal(t, 10*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.InDelta(t, 20, cfg.RateLimit, 0)
	assert.Equal(t, 40, cfg.RateBurst)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
}

func TestLoad_PartialServiceOverrideIgnored(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("DATAGATE_SERVICE_URL", "https://env.supabase.co")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, model.DefaultCredentials(), cfg.DefaultCredentials())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown backend", env: map[string]string{"DATAGATE_BACKEND": "firebase"}},
		{name: "custom api without url", env: map[string]string{"DATAGATE_BACKEND": "custom_api"}},
		{name: "custom api relative url", env: map[string]string{"DATAGATE_BACKEND": "custom_api", "DATAGATE_API_BASE_URL": "/api"}},
		{name: "bad probe timeout", env: map[string]string{"DATAGATE_PROBE_TIMEOUT": "soon"}},
		{name: "negative request timeout", env: map[string]string{"DATAGATE_REQUEST_TIMEOUT": "-1s"}},
		{name: "bad rate limit", env: map[string]string{"DATAGATE_RATE_LIMIT": "fast"}},
		{name: "zero burst", env: map[string]string{"DATAGATE_RATE_BURST": "0"}},
		{name: "bad upload limit", env: map[string]string{"DATAGATE_MAX_UPLOAD_BYTES": "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			require.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	isolateConfigEnv(t)
	t.Setenv("DATAGATE_LISTEN_ADDR", "from-process:1")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DATAGATE_DB_PATH=/data/dg.db\nDATAGATE_LISTEN_ADDR=from-file:2\n"), 0o600))

	require.NoError(t, LoadDotEnv(path))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/dg.db", cfg.DBPath)
	assert.Equal(t, "from-process:1", cfg.ListenAddr)
}

func TestLoadDotEnv_MissingFileIgnored(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
