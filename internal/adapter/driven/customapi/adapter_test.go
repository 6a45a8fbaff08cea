package customapi_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/datagate/internal/adapter/driven/customapi"
	"github.com/ericfisherdev/datagate/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/datagate/internal/adapter/driving/http"
	"github.com/ericfisherdev/datagate/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// setupServer runs the real API router over a throwaway database.
func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := sqlite.NewDB(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.RunMigrations(db.Writer))

	h := httphandler.NewHandler(sqlite.NewRecordRepo(db), sqlite.NewBlobRepo(db), 0, discardLogger())
	srv := httptest.NewServer(httphandler.NewRouter(h, httphandler.RouterOptions{Logger: discardLogger()}))
	t.Cleanup(srv.Close)
	return srv
}

func backendError(t *testing.T, err error) *model.BackendError {
	t.Helper()
	var be *model.BackendError
	require.True(t, errors.As(err, &be), "expected *model.BackendError, got %T", err)
	return be
}

func TestAdapter_Kind(t *testing.T) {
	a := customapi.NewAdapter("http://example.test/", nil, discardLogger())
	assert.Equal(t, model.BackendCustomAPI, a.Kind())
	assert.Equal(t, "http://example.test", a.BaseURL())
}

func TestAdapter_RowLifecycle(t *testing.T) {
	srv := setupServer(t)
	a := customapi.NewAdapter(srv.URL, srv.Client(), discardLogger())
	ctx := context.Background()

	resp := a.Insert(ctx, "contact_submissions", []model.Row{
		{"name": "Ada", "status": "new"},
		{"name": "Bob", "status": "new"},
		{"name": "Cy", "status": "done"},
	})
	require.NoError(t, resp.Error)
	require.Len(t, resp.Rows(), 3)
	assert.NotEmpty(t, resp.Rows()[0]["id"])

	resp = a.Select(ctx, "contact_submissions", model.SelectOptions{
		Filters: model.Filters{"status": "new"},
		OrderBy: "name",
		Limit:   1,
	})
	require.NoError(t, resp.Error)
	require.Len(t, resp.Rows(), 1)
	assert.Equal(t, "Ada", resp.Rows()[0]["name"])
	require.NotNil(t, resp.Count)
	assert.Equal(t, 2, *resp.Count)

	resp = a.Select(ctx, "contact_submissions", model.SelectOptions{
		Filters: model.Filters{"name": "Cy"},
		Columns: []string{"name"},
		Single:  true,
	})
	require.NoError(t, resp.Error)
	assert.Equal(t, model.Row{"name": "Cy"}, resp.Row())
	assert.Nil(t, resp.Count)

	resp = a.Update(ctx, "contact_submissions", model.Row{"status": "done"}, model.Filters{"name": "Bob"})
	require.NoError(t, resp.Error)
	require.Len(t, resp.Rows(), 1)
	assert.Equal(t, "done", resp.Rows()[0]["status"])

	resp = a.Upsert(ctx, "contact_submissions", []model.Row{{"name": "Ada", "status": "archived"}},
		model.UpsertOptions{OnConflict: "name"})
	require.NoError(t, resp.Error)
	require.Len(t, resp.Rows(), 1)
	assert.Equal(t, "archived", resp.Rows()[0]["status"])

	resp = a.Delete(ctx, "contact_submissions", model.Filters{"status": "done"})
	require.NoError(t, resp.Error)
	assert.Len(t, resp.Rows(), 2)

	resp = a.Select(ctx, "contact_submissions", model.SelectOptions{})
	require.NoError(t, resp.Error)
	assert.Len(t, resp.Rows(), 1)
}

func TestAdapter_SelectSingleMismatch(t *testing.T) {
	srv := setupServer(t)
	a := customapi.NewAdapter(srv.URL, srv.Client(), discardLogger())

	resp := a.Select(context.Background(), "notes", model.SelectOptions{Single: true})

	require.Error(t, resp.Error)
	assert.Nil(t, resp.Data)
	be := backendError(t, resp.Error)
	assert.Equal(t, http.StatusNotAcceptable, be.StatusCode)
	assert.Equal(t, model.CodeNotSingle, be.Code)
	assert.Equal(t, model.BackendCustomAPI, be.Backend)
}

func TestAdapter_DuplicateInsert(t *testing.T) {
	srv := setupServer(t)
	a := customapi.NewAdapter(srv.URL, srv.Client(), discardLogger())
	ctx := context.Background()

	require.NoError(t, a.Insert(ctx, "notes", []model.Row{{"id": "x"}}).Error)
	resp := a.Insert(ctx, "notes", []model.Row{{"id": "x"}})

	be := backendError(t, resp.Error)
	assert.Equal(t, http.StatusConflict, be.StatusCode)
	assert.Equal(t, model.CodeDuplicateKey, be.Code)
}

func TestAdapter_FileLifecycle(t *testing.T) {
	srv := setupServer(t)
	a := customapi.NewAdapter(srv.URL, srv.Client(), discardLogger())
	ctx := context.Background()

	resp := a.UploadFile(ctx, "docs", "2024/report.pdf", model.Blob{Data: []byte("%PDF"), ContentType: "application/pdf"})
	require.NoError(t, resp.Error)
	assert.Equal(t, model.FileObject{Bucket: "docs", Path: "2024/report.pdf", Size: 4}, resp.Data)

	resp = a.DownloadFile(ctx, "docs", "2024/report.pdf")
	require.NoError(t, resp.Error)
	assert.Equal(t, []byte("%PDF"), resp.Bytes())

	publicURL := a.GetPublicURL("docs", "2024/report.pdf")
	assert.Equal(t, srv.URL+"/download?bucket=docs&path=2024%2Freport.pdf", publicURL)

	httpResp, err := srv.Client().Get(publicURL)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(body))
	assert.Equal(t, "application/pdf", httpResp.Header.Get("Content-Type"))

	resp = a.DeleteFile(ctx, "docs", []string{"2024/report.pdf", "nope"})
	require.NoError(t, resp.Error)
	assert.Equal(t, []string{"2024/report.pdf"}, resp.Data)

	resp = a.DownloadFile(ctx, "docs", "2024/report.pdf")
	require.Error(t, resp.Error)
	assert.ErrorIs(t, resp.Error, model.ErrNotFound)
	assert.Nil(t, resp.Data)
}

func TestAdapter_ErrorShapes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
	}{
		{
			name:        "envelope",
			status:      http.StatusBadRequest,
			body:        `{"data":null,"error":{"message":"bad column","code":"INVALID_COLUMN"}}`,
			wantCode:    "INVALID_COLUMN",
			wantMessage: "bad column",
		},
		{
			name:        "plain error string",
			status:      http.StatusUnauthorized,
			body:        `{"error":"missing token"}`,
			wantMessage: "missing token",
		},
		{
			name:        "top level message",
			status:      http.StatusNotFound,
			body:        `{"message":"no such table","code":"SCHEMA_NOT_PROVISIONED"}`,
			wantCode:    "SCHEMA_NOT_PROVISIONED",
			wantMessage: "no such table",
		},
		{
			name:        "html",
			status:      http.StatusBadGateway,
			body:        `<html>bad gateway</html>`,
			wantMessage: "<html>bad gateway</html>",
		},
		{
			name:        "empty body",
			status:      http.StatusServiceUnavailable,
			wantMessage: http.StatusText(http.StatusServiceUnavailable),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			a := customapi.NewAdapter(srv.URL, srv.Client(), discardLogger())
			resp := a.Select(context.Background(), "notes", model.SelectOptions{})

			be := backendError(t, resp.Error)
			assert.Equal(t, tt.status, be.StatusCode)
			assert.Equal(t, tt.wantCode, be.Code)
			assert.Equal(t, tt.wantMessage, be.Message)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestAdapter_SchemaMissingIsRecognized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"data":null,"error":{"message":"table missing","code":"SCHEMA_NOT_PROVISIONED"}}`)
	}))
	defer srv.Close()

	a := customapi.NewAdapter(srv.URL, srv.Client(), discardLogger())
	resp := a.Select(context.Background(), "contact_submissions", model.SelectOptions{})

	assert.ErrorIs(t, resp.Error, model.ErrSchemaNotProvisioned)
	assert.NotErrorIs(t, resp.Error, model.ErrNotFound)
}

func TestAdapter_ErrorEnvelopeUnderOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":null,"error":{"message":"soft failure","code":"X"}}`)
	}))
	defer srv.Close()

	a := customapi.NewAdapter(srv.URL, srv.Client(), discardLogger())
	resp := a.Insert(context.Background(), "notes", []model.Row{{"a": 1.0}})

	be := backendError(t, resp.Error)
	assert.Equal(t, "soft failure", be.Message)
	assert.Equal(t, "X", be.Code)
}

func TestAdapter_MalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	a := customapi.NewAdapter(srv.URL, srv.Client(), discardLogger())
	resp := a.Select(context.Background(), "notes", model.SelectOptions{})

	be := backendError(t, resp.Error)
	assert.Equal(t, "decode response", be.Message)
	assert.Error(t, be.Err)
}

func TestAdapter_InvalidBaseURL(t *testing.T) {
	a := customapi.NewAdapter("ftp://example.test", nil, discardLogger())

	resp := a.Select(context.Background(), "notes", model.SelectOptions{})

	be := backendError(t, resp.Error)
	assert.Contains(t, be.Message, "not an absolute http(s) URL")
}

func TestAdapter_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := customapi.NewAdapter(url, nil, discardLogger())
	resp := a.DownloadFile(context.Background(), "b", "p")

	require.Error(t, resp.Error)
	assert.Nil(t, resp.Data)
	be := backendError(t, resp.Error)
	assert.Zero(t, be.StatusCode)
	assert.Error(t, be.Err)
}
