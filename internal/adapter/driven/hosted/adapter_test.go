package hosted_test

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/datagate/internal/adapter/driven/hosted"
	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// swapSource hands out whichever client is current.
type swapSource struct {
	mu     sync.Mutex
	client *hosted.Client
	calls  int
}

func (s *swapSource) GetClient(context.Context) *hosted.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.client
}

func (s *swapSource) set(c *hosted.Client) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

func productsServer(t *testing.T, name string) *hosted.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/v1/products", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "eq.missing" {
			w.Header().Set("Content-Range", "*/0")
			writeJSON(t, w, http.StatusOK, []any{})
			return
		}
		w.Header().Set("Content-Range", "0-0/1")
		writeJSON(t, w, http.StatusOK, []map[string]any{{"id": "p1", "name": name}})
	})
	client, _ := newTestClient(t, mux)
	return client
}

func TestAdapter_SelectMatchingAndEmpty(t *testing.T) {
	source := &swapSource{client: productsServer(t, "Lamp")}
	adapter := hosted.NewAdapter(source, nil)
	ctx := context.Background()

	resp := adapter.Select(ctx, "products", model.SelectOptions{Filters: model.Filters{"id": "p1"}})
	require.NoError(t, resp.Error)
	assert.Equal(t, []model.Row{{"id": "p1", "name": "Lamp"}}, resp.Data)
	require.NotNil(t, resp.Count)
	assert.Equal(t, 1, *resp.Count)

	resp = adapter.Select(ctx, "products", model.SelectOptions{Filters: model.Filters{"id": "missing"}})
	require.NoError(t, resp.Error)
	assert.Equal(t, []model.Row{}, resp.Data)
}

func TestAdapter_ResolvesClientOnEveryCall(t *testing.T) {
	source := &swapSource{client: productsServer(t, "old")}
	adapter := hosted.NewAdapter(source, nil)
	ctx := context.Background()

	resp := adapter.Select(ctx, "products", model.SelectOptions{})
	require.NoError(t, resp.Error)
	assert.Equal(t, "old", resp.Row()["name"])

	source.set(productsServer(t, "new"))

	resp = adapter.Select(ctx, "products", model.SelectOptions{})
	require.NoError(t, resp.Error)
	assert.Equal(t, "new", resp.Row()["name"])
	assert.Equal(t, 2, source.calls)
}

func TestAdapter_FailureHasNilData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rest/v1/users", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusForbidden, map[string]any{
			"code":    "42501",
			"message": `new row violates row-level security policy for table "users"`,
		})
	})
	client, _ := newTestClient(t, mux)
	adapter := hosted.NewAdapter(&swapSource{client: client}, nil)

	resp := adapter.Insert(context.Background(), "users", []model.Row{{"name": "x"}})
	require.Error(t, resp.Error)
	assert.Nil(t, resp.Data)
	assert.Contains(t, resp.Error.Error(), "row-level security")
}

func TestAdapter_RecoversPanics(t *testing.T) {
	// A nil handle panics on first use; the adapter must convert that.
	adapter := hosted.NewAdapter(&swapSource{}, nil)

	resp := adapter.Delete(context.Background(), "users", model.Filters{"id": "u1"})
	require.Error(t, resp.Error)
	assert.Nil(t, resp.Data)
	assert.Contains(t, resp.Error.Error(), "panic")
}

func TestAdapter_StorageAndPublicURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /storage/v1/object/docs/a.txt", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"Key": "docs/a.txt"})
	})
	mux.HandleFunc("GET /storage/v1/object/docs/a.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	mux.HandleFunc("DELETE /storage/v1/object/docs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, []map[string]any{{"name": "a.txt"}})
	})
	client, server := newTestClient(t, mux)
	adapter := hosted.NewAdapter(&swapSource{client: client}, nil)
	ctx := context.Background()

	resp := adapter.UploadFile(ctx, "docs", "a.txt", model.Blob{Data: []byte("hello")})
	require.NoError(t, resp.Error)
	assert.Equal(t, model.FileObject{Bucket: "docs", Path: "a.txt", Size: 5}, resp.Data)

	resp = adapter.DownloadFile(ctx, "docs", "a.txt")
	require.NoError(t, resp.Error)
	assert.Equal(t, []byte("hello"), resp.Bytes())

	resp = adapter.DeleteFile(ctx, "docs", []string{"a.txt"})
	require.NoError(t, resp.Error)
	assert.Equal(t, []string{"a.txt"}, resp.Data)

	assert.Equal(t, server.URL+"/storage/v1/object/public/docs/a.txt", adapter.GetPublicURL("docs", "a.txt"))
	assert.Equal(t, model.BackendHosted, adapter.Kind())
}
