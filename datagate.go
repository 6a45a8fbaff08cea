// Package datagate is a pluggable persistence layer. A Store routes row and
// file operations to either a hosted backend-as-a-service or a self-hosted
// data API, chosen by a persisted configuration that can be switched at
// runtime. Hosted credentials live in an encoded vault and the hosted client
// handle is rebuilt whenever they change.
package datagate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/datagate/internal/adapter/driven/customapi"
	"github.com/ericfisherdev/datagate/internal/adapter/driven/hosted"
	"github.com/ericfisherdev/datagate/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/datagate/internal/application"
	"github.com/ericfisherdev/datagate/internal/config"
	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
	"github.com/ericfisherdev/datagate/internal/metrics"
	"github.com/ericfisherdev/datagate/internal/obscure"
)

type (
	Row                  = model.Row
	Filters              = model.Filters
	SelectOptions        = model.SelectOptions
	UpsertOptions        = model.UpsertOptions
	Blob                 = model.Blob
	FileObject           = model.FileObject
	Response             = model.Response
	BackendError         = model.BackendError
	BackendKind          = model.BackendKind
	Configuration        = model.Configuration
	Credentials          = model.Credentials
	ConnectionTestResult = model.ConnectionTestResult

	ChangeEvent   = hosted.ChangeEvent
	ChangeHandler = hosted.ChangeHandler
	Subscription  = hosted.Subscription
)

const (
	BackendHosted    = model.BackendHosted
	BackendCustomAPI = model.BackendCustomAPI
)

var (
	ErrInvalidConfiguration = model.ErrInvalidConfiguration
	ErrInvalidCredentials   = model.ErrInvalidCredentials
	ErrSchemaNotProvisioned = model.ErrSchemaNotProvisioned
	ErrNotFound             = model.ErrNotFound
	ErrBackendUnavailable   = model.ErrBackendUnavailable
)

// Options configures Open. Zero values select the documented defaults.
type Options struct {
	// DBPath is the SQLite file holding settings and the credential vault.
	DBPath string

	// SecretKey enables AES-GCM encryption of stored credentials. Without
	// it credentials are only base64-obfuscated.
	SecretKey string

	// DefaultCredentials are used until credentials are stored.
	DefaultCredentials Credentials

	// Backend is the selection used until one is persisted with SetConfig.
	Backend Configuration

	ProbeTable     string
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration

	// HostedHTTPClient and APIHTTPClient replace the default transports.
	HostedHTTPClient *http.Client
	APIHTTPClient    *http.Client

	Logger *slog.Logger
}

// OptionsFromConfig maps environment configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DBPath:             cfg.DBPath,
		SecretKey:          cfg.SecretKey,
		DefaultCredentials: cfg.DefaultCredentials(),
		Backend:            cfg.BackendConfiguration(),
		ProbeTable:         cfg.ProbeTable,
		ProbeTimeout:       cfg.ProbeTimeout,
		RequestTimeout:     cfg.RequestTimeout,
	}
}

// Store is the data access entry point. Row and file operations are
// promoted from the embedded façade and always return a Response.
type Store struct {
	*application.Facade

	db      *sqlite.DB
	vault   *sqlite.CredentialVault
	manager *application.ConnectionManager[*hosted.Client]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Open opens the settings database, runs migrations and wires the vault,
// connection manager, both backend adapters and the façade.
func Open(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DBPath == "" {
		opts.DBPath = "datagate.db"
	}
	if opts.Backend.BackendKind == "" {
		opts.Backend.BackendKind = model.BackendHosted
	}

	codec, err := newCodec(opts.SecretKey, logger)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.NewDB(ctx, opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	if err := sqlite.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}

	settings := sqlite.NewSettingsRepo(db)
	vault := sqlite.NewCredentialVault(settings, codec, logger)

	hostedOpts := []hosted.Option{hosted.WithLogger(logger)}
	if opts.HostedHTTPClient != nil {
		hostedOpts = append(hostedOpts, hosted.WithHTTPClient(opts.HostedHTTPClient))
	} else {
		hostedOpts = append(hostedOpts, hosted.WithTimeout(opts.RequestTimeout))
	}

	manager := application.NewConnectionManager(
		vault,
		func(creds model.Credentials) *hosted.Client {
			return hosted.NewClient(creds, hostedOpts...)
		},
		application.ManagerConfig{
			ProbeTable:   opts.ProbeTable,
			ProbeTimeout: opts.ProbeTimeout,
			Defaults:     opts.DefaultCredentials,
		},
		logger,
	)

	apiClient := opts.APIHTTPClient
	if apiClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		apiClient = &http.Client{Timeout: timeout}
	}

	registry := application.NewBackendRegistry()
	registry.RegisterBackend(hosted.NewAdapter(manager, logger))
	registry.Register(model.BackendCustomAPI, func(cfg model.Configuration) (driven.Backend, error) {
		return customapi.NewAdapter(cfg.APIBaseURL, apiClient, logger), nil
	})

	m := metrics.New()
	facade := application.NewFacade(ctx, settings, opts.Backend, registry, logger, application.WithObserver(m))

	logger.Info("datagate store opened",
		"db_path", opts.DBPath,
		"backend", facade.Config().BackendKind,
		"codec", codec.Name(),
	)

	return &Store{
		Facade:  facade,
		db:      db,
		vault:   vault,
		manager: manager,
		metrics: m,
		logger:  logger,
	}, nil
}

func newCodec(secretKey string, logger *slog.Logger) (obscure.Codec, error) {
	if secretKey == "" {
		logger.Warn("no secret key configured; stored credentials are obfuscated, not encrypted")
		return obscure.Base64{}, nil
	}
	codec, err := obscure.NewAESGCM([]byte(secretKey))
	if err != nil {
		return nil, fmt.Errorf("credential codec: %w", err)
	}
	return codec, nil
}

// UpdateCredentials stores new hosted credentials and rebinds the client.
func (s *Store) UpdateCredentials(ctx context.Context, url, key string) error {
	_, err := s.manager.UpdateCredentials(ctx, url, key)
	return err
}

// ResetToDefault forgets stored credentials.
func (s *Store) ResetToDefault(ctx context.Context) error {
	return s.manager.ResetToDefault(ctx)
}

// GetCurrentCredentials returns the stored credentials or the defaults.
func (s *Store) GetCurrentCredentials(ctx context.Context) Credentials {
	return s.manager.GetCurrentCredentials(ctx)
}

// TestConnection probes candidate credentials without storing them.
func (s *Store) TestConnection(ctx context.Context, url, key string) ConnectionTestResult {
	return s.manager.TestConnection(ctx, url, key)
}

// CredentialsStoredAt reports when credentials were last stored.
func (s *Store) CredentialsStoredAt(ctx context.Context) (time.Time, bool) {
	return s.vault.StoredAt(ctx)
}

// Subscribe streams row changes of table from the hosted backend. ctx only
// bounds the handshake. The subscription ends when it is closed, when
// credentials change or when the Store is closed.
func (s *Store) Subscribe(ctx context.Context, table string, handler ChangeHandler) (*Subscription, error) {
	return s.manager.GetClient(ctx).Subscribe(ctx, table, handler)
}

// MetricsHandler exposes the operation metrics in Prometheus format.
func (s *Store) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// Close releases the hosted client and the database.
func (s *Store) Close() error {
	return errors.Join(s.manager.Close(), s.db.Close())
}
