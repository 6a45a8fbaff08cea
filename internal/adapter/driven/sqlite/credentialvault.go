package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
	"github.com/ericfisherdev/datagate/internal/obscure"
)

// CredentialEnvelopeKey is the settings key the vault writes its envelope under.
const CredentialEnvelopeKey = "credential_envelope"

// Compile-time interface satisfaction check.
var _ driven.CredentialVault = (*CredentialVault)(nil)

// envelope is the plaintext wrapped by the codec. Data holds the
// credentials serialized as JSON text.
type envelope struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// CredentialVault stores the hosted backend credentials in the settings table.
// The envelope is only as confidential as the configured codec: obscure.Base64
// hides it from casual inspection, obscure.AESGCM encrypts it.
type CredentialVault struct {
	settings driven.SettingsStore
	codec    obscure.Codec
	logger   *slog.Logger
	now      func() time.Time
}

// NewCredentialVault creates a vault writing through settings. A nil codec
// falls back to obscure.Base64 and a nil logger to slog.Default().
func NewCredentialVault(settings driven.SettingsStore, codec obscure.Codec, logger *slog.Logger) *CredentialVault {
	if codec == nil {
		codec = obscure.Base64{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialVault{
		settings: settings,
		codec:    codec,
		logger:   logger,
		now:      time.Now,
	}
}

// Store serializes, timestamps, encodes and persists the credentials,
// overwriting any previous envelope.
func (v *CredentialVault) Store(ctx context.Context, url, key string) error {
	creds := model.Credentials{
		ServiceURL: strings.TrimSpace(url),
		ServiceKey: strings.TrimSpace(key),
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	inner, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	outer, err := json.Marshal(envelope{
		Data:      string(inner),
		Timestamp: v.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal credential envelope: %w", err)
	}

	encoded, err := v.codec.Encode(outer)
	if err != nil {
		return fmt.Errorf("encode credential envelope: %w", err)
	}

	if err := v.settings.Set(ctx, CredentialEnvelopeKey, encoded); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// Retrieve returns the stored credentials, or nil if none are stored or the
// envelope is unreadable. Failures are logged at debug level only.
func (v *CredentialVault) Retrieve(ctx context.Context) *model.Credentials {
	encoded, ok, err := v.settings.Get(ctx, CredentialEnvelopeKey)
	if err != nil {
		v.logger.Debug("credential envelope unreadable", "error", err)
		return nil
	}
	if !ok || strings.TrimSpace(encoded) == "" {
		return nil
	}

	raw, err := v.codec.Decode(encoded)
	if err != nil {
		v.logger.Debug("credential envelope decode failed", "codec", v.codec.Name(), "error", err)
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		v.logger.Debug("credential envelope malformed", "error", err)
		return nil
	}

	var creds model.Credentials
	if err := json.Unmarshal([]byte(env.Data), &creds); err != nil {
		v.logger.Debug("credential payload malformed", "error", err)
		return nil
	}
	if err := creds.Validate(); err != nil {
		v.logger.Debug("credential payload incomplete", "error", err)
		return nil
	}

	return &creds
}

// StoredAt returns the capture time of the stored envelope, if any.
func (v *CredentialVault) StoredAt(ctx context.Context) (time.Time, bool) {
	encoded, ok, err := v.settings.Get(ctx, CredentialEnvelopeKey)
	if err != nil || !ok {
		return time.Time{}, false
	}
	raw, err := v.codec.Decode(encoded)
	if err != nil {
		return time.Time{}, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Timestamp == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(env.Timestamp), true
}

// Clear removes the stored envelope.
func (v *CredentialVault) Clear(ctx context.Context) error {
	if err := v.settings.Delete(ctx, CredentialEnvelopeKey); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
