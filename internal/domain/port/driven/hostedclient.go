package driven

import (
	"context"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// HostedClient is the live handle to the hosted backend. A handle is bound
// to one set of credentials for its whole life.
type HostedClient interface {
	// Credentials returns the credentials the handle was built with.
	Credentials() model.Credentials

	// Probe performs a minimal read against table. A missing table is
	// reported as an error matching model.ErrSchemaNotProvisioned.
	Probe(ctx context.Context, table string) error

	// Close releases long-lived resources such as realtime subscriptions.
	// Requests already in flight are not interrupted.
	Close() error
}
