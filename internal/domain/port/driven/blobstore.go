package driven

import (
	"context"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// BlobStore persists file contents keyed by bucket and path.
// It backs the custom API server.
type BlobStore interface {
	// Put stores or replaces the blob.
	Put(ctx context.Context, bucket, path string, blob model.Blob) (model.FileObject, error)
	// Get returns model.ErrNotFound when the blob does not exist.
	Get(ctx context.Context, bucket, path string) (model.Blob, error)
	// Delete removes the given paths and returns the ones that existed.
	Delete(ctx context.Context, bucket string, paths []string) ([]string, error)
}
