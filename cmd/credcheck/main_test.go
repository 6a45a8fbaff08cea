package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func setEnv(t *testing.T, serviceURL string) {
	t.Helper()
	for _, key := range []string{
		"DATAGATE_SECRET_KEY", "DATAGATE_BACKEND", "DATAGATE_API_BASE_URL",
		"DATAGATE_PROBE_TABLE", "DATAGATE_PROBE_TIMEOUT", "DATAGATE_REQUEST_TIMEOUT",
		"DATAGATE_RATE_LIMIT", "DATAGATE_RATE_BURST", "DATAGATE_MAX_UPLOAD_BYTES",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("DATAGATE_DB_PATH", filepath.Join(t.TempDir(), "credcheck.db"))
	t.Setenv("DATAGATE_SERVICE_URL", serviceURL)
	t.Setenv("DATAGATE_SERVICE_KEY", "anon-key-1234")
}

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon-key-1234" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Invalid API key"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"PGRST205","message":"Could not find the table"}`))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{name: "default credentials", wantCode: 0, wantOut: "result:  OK"},
		{name: "key override rejected", args: []string{"-key", "wrong"}, wantCode: 1, wantOut: "FAILED"},
		{name: "unreachable url", args: []string{"-url", "http://127.0.0.1:1"}, wantCode: 1, wantOut: "FAILED"},
		{name: "bad flag", args: []string{"-nope"}, wantCode: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, srv.URL)
			var stdout, stderr bytes.Buffer

			code := run(context.Background(), tt.args, &stdout, &stderr)

			assert.Equal(t, tt.wantCode, code, stderr.String())
			assert.Contains(t, stdout.String(), tt.wantOut)
			if tt.wantCode == 0 {
				assert.Contains(t, stdout.String(), "*********1234")
				assert.Contains(t, stdout.String(), "source:  defaults")
			}
		})
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	setEnv(t, "https://example.supabase.co")
	t.Setenv("DATAGATE_BACKEND", "firebase")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), nil, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "DATAGATE_BACKEND")
}
