package driven

import (
	"context"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// CredentialVault obscures and persists the hosted backend credentials.
// The stored envelope is opaque to everything except the vault itself.
type CredentialVault interface {
	// Store validates and persists the credentials, overwriting any prior
	// envelope. Returns model.ErrInvalidCredentials for blank input.
	Store(ctx context.Context, url, key string) error

	// Retrieve returns the stored credentials, or nil when nothing is
	// stored or the stored envelope cannot be decoded. It never fails.
	Retrieve(ctx context.Context) *model.Credentials

	// Clear removes the stored envelope. Clearing an empty vault is a no-op.
	Clear(ctx context.Context) error
}
