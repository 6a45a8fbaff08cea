package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
)

// ConfigurationKey is the settings key the backend selection is stored under.
const ConfigurationKey = "backend_config"

// OperationObserver records the outcome of each façade operation.
type OperationObserver interface {
	ObserveOperation(backend model.BackendKind, op string, err error, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveOperation(model.BackendKind, string, error, time.Duration) {}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// WithObserver sets the observer notified after every operation.
func WithObserver(observer OperationObserver) FacadeOption {
	return func(f *Facade) {
		if observer != nil {
			f.observer = observer
		}
	}
}

// Facade is the single entry point for persistence operations. Each call
// reads the current configuration, resolves the matching backend and
// returns its response unchanged. It performs no validation of its own.
type Facade struct {
	settings driven.SettingsStore
	registry *BackendRegistry
	observer OperationObserver
	logger   *slog.Logger

	// writeMu orders the settings write with the in-memory swap.
	writeMu sync.Mutex

	mu  sync.RWMutex
	cfg model.Configuration
}

// NewFacade loads the persisted configuration, falling back to fallback when
// nothing valid is stored.
func NewFacade(
	ctx context.Context,
	settings driven.SettingsStore,
	fallback model.Configuration,
	registry *BackendRegistry,
	logger *slog.Logger,
	opts ...FacadeOption,
) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Facade{
		settings: settings,
		registry: registry,
		observer: noopObserver{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.cfg = f.loadConfig(ctx, fallback.Normalized())
	return f
}

func (f *Facade) loadConfig(ctx context.Context, fallback model.Configuration) model.Configuration {
	raw, ok, err := f.settings.Get(ctx, ConfigurationKey)
	if err != nil {
		f.logger.Warn("reading backend configuration failed, using defaults", "error", err)
		return fallback
	}
	if !ok {
		return fallback
	}

	var cfg model.Configuration
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		f.logger.Warn("stored backend configuration malformed, using defaults", "error", err)
		return fallback
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		f.logger.Warn("stored backend configuration invalid, using defaults", "error", err)
		return fallback
	}
	return cfg
}

// Config returns the active configuration.
func (f *Facade) Config() model.Configuration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

// SetConfig validates and persists cfg, then routes every later call by it.
// Invalid configurations are rejected with model.ErrInvalidConfiguration and
// leave the active configuration unchanged.
func (f *Facade) SetConfig(ctx context.Context, cfg model.Configuration) error {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal backend configuration: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.settings.Set(ctx, ConfigurationKey, string(data)); err != nil {
		return fmt.Errorf("persist backend configuration: %w", err)
	}

	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()

	f.logger.Info("backend configuration updated", "backend", cfg.BackendKind, "api_base_url", cfg.APIBaseURL)
	return nil
}

// Select reads rows from table on the active backend.
func (f *Facade) Select(ctx context.Context, table string, opts model.SelectOptions) model.Response {
	return f.dispatch("select", func(b driven.Backend) model.Response {
		return b.Select(ctx, table, opts)
	})
}

// Insert adds rows to table on the active backend.
func (f *Facade) Insert(ctx context.Context, table string, rows []model.Row) model.Response {
	return f.dispatch("insert", func(b driven.Backend) model.Response {
		return b.Insert(ctx, table, rows)
	})
}

// Update applies patch to the rows of table matching filters.
func (f *Facade) Update(ctx context.Context, table string, patch model.Row, filters model.Filters) model.Response {
	return f.dispatch("update", func(b driven.Backend) model.Response {
		return b.Update(ctx, table, patch, filters)
	})
}

// Upsert inserts rows, merging with existing rows per opts.
func (f *Facade) Upsert(ctx context.Context, table string, rows []model.Row, opts model.UpsertOptions) model.Response {
	return f.dispatch("upsert", func(b driven.Backend) model.Response {
		return b.Upsert(ctx, table, rows, opts)
	})
}

// Delete removes the rows of table matching filters.
func (f *Facade) Delete(ctx context.Context, table string, filters model.Filters) model.Response {
	return f.dispatch("delete", func(b driven.Backend) model.Response {
		return b.Delete(ctx, table, filters)
	})
}

// UploadFile stores blob at path in bucket.
func (f *Facade) UploadFile(ctx context.Context, bucket, path string, blob model.Blob) model.Response {
	return f.dispatch("upload_file", func(b driven.Backend) model.Response {
		return b.UploadFile(ctx, bucket, path, blob)
	})
}

// DownloadFile reads the object at path in bucket.
func (f *Facade) DownloadFile(ctx context.Context, bucket, path string) model.Response {
	return f.dispatch("download_file", func(b driven.Backend) model.Response {
		return b.DownloadFile(ctx, bucket, path)
	})
}

// DeleteFile removes the objects at paths in bucket.
func (f *Facade) DeleteFile(ctx context.Context, bucket string, paths []string) model.Response {
	return f.dispatch("delete_file", func(b driven.Backend) model.Response {
		return b.DeleteFile(ctx, bucket, paths)
	})
}

// GetPublicURL returns "" when no backend serves the active configuration.
func (f *Facade) GetPublicURL(bucket, path string) string {
	cfg := f.Config()
	backend, err := f.registry.Resolve(cfg)
	if err != nil {
		f.logger.Warn("public url unavailable", "backend", cfg.BackendKind, "error", err)
		return ""
	}
	return backend.GetPublicURL(bucket, path)
}

func (f *Facade) dispatch(op string, call func(driven.Backend) model.Response) model.Response {
	cfg := f.Config()
	start := time.Now()

	var resp model.Response
	backend, err := f.registry.Resolve(cfg)
	if err != nil {
		f.logger.Warn("no backend for operation", "op", op, "backend", cfg.BackendKind, "error", err)
		resp = model.Failure(err)
	} else {
		resp = call(backend)
	}

	f.observer.ObserveOperation(cfg.BackendKind, op, resp.Error, time.Since(start))
	return resp
}
