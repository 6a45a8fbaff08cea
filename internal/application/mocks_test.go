package application_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// mockVault is an in-memory CredentialVault.
type mockVault struct {
	mu       sync.Mutex
	creds    *model.Credentials
	storeErr error
	clearErr error

	// beforeStore, when set, runs ahead of each Store and may block.
	beforeStore func(url string)
}

func (m *mockVault) Store(_ context.Context, url, key string) error {
	if m.beforeStore != nil {
		m.beforeStore(url)
	}
	if m.storeErr != nil {
		return m.storeErr
	}
	creds := model.Credentials{ServiceURL: strings.TrimSpace(url), ServiceKey: strings.TrimSpace(key)}
	if err := creds.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = &creds
	return nil
}

func (m *mockVault) Retrieve(context.Context) *model.Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil
	}
	c := *m.creds
	return &c
}

func (m *mockVault) Clear(context.Context) error {
	if m.clearErr != nil {
		return m.clearErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}

// mockSettings is an in-memory SettingsStore.
type mockSettings struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
	getErr error

	// beforeSet, when set, runs ahead of each Set and may block.
	beforeSet func(value string)
}

func newMockSettings() *mockSettings {
	return &mockSettings{values: make(map[string]string)}
}

func (m *mockSettings) Get(_ context.Context, key string) (string, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockSettings) Set(_ context.Context, key, value string) error {
	if m.beforeSet != nil {
		m.beforeSet(value)
	}
	if m.setErr != nil {
		return m.setErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *mockSettings) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// fakeClient is a HostedClient whose probe outcome is fixed per URL.
type fakeClient struct {
	creds    model.Credentials
	probeErr error
	closed   atomic.Bool
	probed   atomic.Int32
}

func (c *fakeClient) Credentials() model.Credentials { return c.creds }

func (c *fakeClient) Probe(ctx context.Context, _ string) error {
	c.probed.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.probeErr
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeFactory builds fakeClients and remembers every one it built.
type fakeFactory struct {
	mu       sync.Mutex
	built    []*fakeClient
	probeErr map[string]error
}

func (f *fakeFactory) build(creds model.Credentials) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{creds: creds, probeErr: f.probeErr[creds.ServiceURL]}
	f.built = append(f.built, c)
	return c
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

var errUnreachable = errors.New("dial tcp 10.255.255.1:443: connect: connection refused")

// spyBackend records the operations routed to it.
type spyBackend struct {
	kind  model.BackendKind
	resp  model.Response
	mu    sync.Mutex
	calls []string
}

func (s *spyBackend) record(op string) model.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
	return s.resp
}

func (s *spyBackend) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *spyBackend) Kind() model.BackendKind { return s.kind }

func (s *spyBackend) Select(context.Context, string, model.SelectOptions) model.Response {
	return s.record("select")
}

func (s *spyBackend) Insert(context.Context, string, []model.Row) model.Response {
	return s.record("insert")
}

func (s *spyBackend) Update(context.Context, string, model.Row, model.Filters) model.Response {
	return s.record("update")
}

func (s *spyBackend) Upsert(context.Context, string, []model.Row, model.UpsertOptions) model.Response {
	return s.record("upsert")
}

func (s *spyBackend) Delete(context.Context, string, model.Filters) model.Response {
	return s.record("delete")
}

func (s *spyBackend) UploadFile(context.Context, string, string, model.Blob) model.Response {
	return s.record("upload_file")
}

func (s *spyBackend) DownloadFile(context.Context, string, string) model.Response {
	return s.record("download_file")
}

func (s *spyBackend) DeleteFile(context.Context, string, []string) model.Response {
	return s.record("delete_file")
}

func (s *spyBackend) GetPublicURL(bucket, path string) string {
	s.record("public_url")
	return string(s.kind) + "://" + bucket + "/" + path
}
