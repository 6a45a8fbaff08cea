package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
)

// Probe defaults used when ManagerConfig leaves a field empty.
const (
	DefaultProbeTable   = "contact_submissions"
	DefaultProbeTimeout = 10 * time.Second
)

// ClientFactory builds a handle bound to creds. It must not fail: a handle
// built from a broken configuration reports the problem when used.
type ClientFactory[C driven.HostedClient] func(creds model.Credentials) C

// ManagerConfig tunes a ConnectionManager.
type ManagerConfig struct {
	// ProbeTable is read with a one-row select by TestConnection. A missing
	// table still counts as a successful connection.
	ProbeTable   string
	ProbeTimeout time.Duration

	// Defaults are used when the vault holds nothing usable. Incomplete
	// defaults fall back to model.DefaultCredentials.
	Defaults model.Credentials
}

// ConnectionManager owns the single live hosted client handle. It builds the
// handle lazily from the vault contents (or the configured defaults) and
// replaces it whenever credentials change. Callers that obtained the old
// handle keep using it until their call finishes.
type ConnectionManager[C driven.HostedClient] struct {
	vault   driven.CredentialVault
	factory ClientFactory[C]
	cfg     ManagerConfig
	logger  *slog.Logger

	// writeMu orders vault writes with the handle swap that follows them.
	writeMu sync.Mutex

	mu     sync.RWMutex
	client C
	active bool
}

// NewConnectionManager creates a manager in the uninitialized state.
func NewConnectionManager[C driven.HostedClient](
	vault driven.CredentialVault,
	factory ClientFactory[C],
	cfg ManagerConfig,
	logger *slog.Logger,
) *ConnectionManager[C] {
	if cfg.ProbeTable == "" {
		cfg.ProbeTable = DefaultProbeTable
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Defaults.Validate() != nil {
		cfg.Defaults = model.DefaultCredentials()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager[C]{
		vault:   vault,
		factory: factory,
		cfg:     cfg,
		logger:  logger,
	}
}

// GetClient returns the active handle, building it first if necessary.
func (m *ConnectionManager[C]) GetClient(ctx context.Context) C {
	m.mu.RLock()
	if m.active {
		client := m.client
		m.mu.RUnlock()
		return client
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have built it while we waited for the write lock.
	if m.active {
		return m.client
	}

	creds, stored := m.resolveCredentials(ctx)
	m.client = m.factory(creds)
	m.active = true

	m.logger.Info("hosted client initialized",
		"url", creds.ServiceURL,
		"key", creds.MaskedKey(),
		"stored", stored,
	)
	return m.client
}

// HasClient reports whether a handle is currently active.
func (m *ConnectionManager[C]) HasClient() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// UpdateCredentials persists new credentials and swaps in a handle bound to
// them. If persisting fails the active handle is left untouched.
func (m *ConnectionManager[C]) UpdateCredentials(ctx context.Context, url, key string) (C, error) {
	var zero C

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.vault.Store(ctx, url, key); err != nil {
		return zero, fmt.Errorf("update credentials: %w", err)
	}

	creds := model.Credentials{
		ServiceURL: strings.TrimSpace(url),
		ServiceKey: strings.TrimSpace(key),
	}
	next := m.factory(creds)

	m.mu.Lock()
	prev, hadPrev := m.client, m.active
	m.client = next
	m.active = true
	m.mu.Unlock()

	if hadPrev {
		m.closeHandle(prev)
	}

	m.logger.Info("hosted credentials updated", "url", creds.ServiceURL, "key", creds.MaskedKey())
	return next, nil
}

// ResetToDefault clears stored credentials and discards the active handle.
// The next GetClient builds a handle from the configured defaults.
func (m *ConnectionManager[C]) ResetToDefault(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.vault.Clear(ctx); err != nil {
		return fmt.Errorf("reset credentials: %w", err)
	}

	var zero C
	m.mu.Lock()
	prev, hadPrev := m.client, m.active
	m.client = zero
	m.active = false
	m.mu.Unlock()

	if hadPrev {
		m.closeHandle(prev)
	}

	m.logger.Info("hosted credentials reset to defaults")
	return nil
}

// GetCurrentCredentials returns the stored credentials, or the defaults when
// nothing usable is stored. It does not touch the active handle.
func (m *ConnectionManager[C]) GetCurrentCredentials(ctx context.Context) model.Credentials {
	creds, _ := m.resolveCredentials(ctx)
	return creds
}

// TestConnection probes candidate credentials with a throwaway handle. The
// active handle and the vault are never touched.
func (m *ConnectionManager[C]) TestConnection(ctx context.Context, url, key string) model.ConnectionTestResult {
	creds := model.Credentials{
		ServiceURL: strings.TrimSpace(url),
		ServiceKey: strings.TrimSpace(key),
	}
	if err := creds.Validate(); err != nil {
		return model.ConnectionTestResult{Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	client := m.factory(creds)
	defer m.closeHandle(client)

	err := client.Probe(ctx, m.cfg.ProbeTable)
	switch {
	case err == nil:
		return model.ConnectionTestResult{Success: true}
	case errors.Is(err, model.ErrSchemaNotProvisioned):
		m.logger.Info("connection test reached backend; probe table not provisioned",
			"url", creds.ServiceURL,
			"table", m.cfg.ProbeTable,
		)
		return model.ConnectionTestResult{Success: true}
	default:
		reason := err.Error()
		if reason == "" {
			reason = "connection test failed"
		}
		m.logger.Warn("connection test failed", "url", creds.ServiceURL, "error", err)
		return model.ConnectionTestResult{Error: reason}
	}
}

// Close discards the active handle, closing its long-lived resources.
func (m *ConnectionManager[C]) Close() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	var zero C
	m.mu.Lock()
	prev, hadPrev := m.client, m.active
	m.client = zero
	m.active = false
	m.mu.Unlock()

	if !hadPrev {
		return nil
	}
	return prev.Close()
}

func (m *ConnectionManager[C]) resolveCredentials(ctx context.Context) (model.Credentials, bool) {
	if stored := m.vault.Retrieve(ctx); stored != nil {
		return *stored, true
	}
	return m.cfg.Defaults, false
}

func (m *ConnectionManager[C]) closeHandle(client C) {
	if err := client.Close(); err != nil {
		m.logger.Warn("closing hosted client", "error", err)
	}
}
