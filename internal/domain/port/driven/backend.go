package driven

import (
	"context"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// Backend is the operation contract shared by every backend adapter.
// Implementations never return raw errors or panic past this boundary:
// failures are reported through model.Response.Error with Data set to nil.
type Backend interface {
	// Kind identifies which configuration routes to this backend.
	Kind() model.BackendKind

	// Row operations

	Select(ctx context.Context, table string, opts model.SelectOptions) model.Response
	Insert(ctx context.Context, table string, rows []model.Row) model.Response
	Update(ctx context.Context, table string, patch model.Row, filters model.Filters) model.Response
	Upsert(ctx context.Context, table string, rows []model.Row, opts model.UpsertOptions) model.Response
	Delete(ctx context.Context, table string, filters model.Filters) model.Response

	// Blob operations

	UploadFile(ctx context.Context, bucket, path string, blob model.Blob) model.Response
	DownloadFile(ctx context.Context, bucket, path string) model.Response
	DeleteFile(ctx context.Context, bucket string, paths []string) model.Response

	// GetPublicURL returns a directly usable retrieval URL. It performs no I/O.
	GetPublicURL(bucket, path string) string
}
