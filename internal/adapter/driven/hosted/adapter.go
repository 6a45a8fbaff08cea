package hosted

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Backend = (*Adapter)(nil)

// ClientSource hands out the current client handle. The adapter asks for it
// on every call and never keeps it, so a credential swap takes effect on the
// next operation.
type ClientSource interface {
	GetClient(ctx context.Context) *Client
}

// Adapter implements driven.Backend on top of the hosted client.
type Adapter struct {
	source ClientSource
	logger *slog.Logger
}

// NewAdapter creates an Adapter drawing handles from source.
func NewAdapter(source ClientSource, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{source: source, logger: logger}
}

// Kind returns model.BackendHosted.
func (a *Adapter) Kind() model.BackendKind {
	return model.BackendHosted
}

// Select runs a PostgREST read through the current client handle.
func (a *Adapter) Select(ctx context.Context, table string, opts model.SelectOptions) (resp model.Response) {
	defer a.recoverPanic("select", &resp)

	client := a.source.GetClient(ctx)
	if opts.Single {
		row, err := client.SelectSingle(ctx, table, opts)
		if err != nil {
			return model.Failure(err)
		}
		return model.Response{Data: row}
	}

	rows, count, err := client.Select(ctx, table, opts)
	if err != nil {
		return model.Failure(err)
	}
	return model.Response{Data: rows, Count: count}
}

// Insert posts rows to the table endpoint.
func (a *Adapter) Insert(ctx context.Context, table string, rows []model.Row) (resp model.Response) {
	defer a.recoverPanic("insert", &resp)
	return rowsResponse(a.source.GetClient(ctx).Insert(ctx, table, rows))
}

// Update patches the rows matching filters.
func (a *Adapter) Update(ctx context.Context, table string, patch model.Row, filters model.Filters) (resp model.Response) {
	defer a.recoverPanic("update", &resp)
	return rowsResponse(a.source.GetClient(ctx).Update(ctx, table, patch, filters))
}

// Upsert inserts rows with merge-duplicates resolution.
func (a *Adapter) Upsert(ctx context.Context, table string, rows []model.Row, opts model.UpsertOptions) (resp model.Response) {
	defer a.recoverPanic("upsert", &resp)
	return rowsResponse(a.source.GetClient(ctx).Upsert(ctx, table, rows, opts.OnConflict))
}

// Delete removes the rows matching filters.
func (a *Adapter) Delete(ctx context.Context, table string, filters model.Filters) (resp model.Response) {
	defer a.recoverPanic("delete", &resp)
	return rowsResponse(a.source.GetClient(ctx).Delete(ctx, table, filters))
}

// UploadFile writes blob to object storage, replacing any existing object.
func (a *Adapter) UploadFile(ctx context.Context, bucket, path string, blob model.Blob) (resp model.Response) {
	defer a.recoverPanic("upload_file", &resp)

	obj, err := a.source.GetClient(ctx).Upload(ctx, bucket, path, blob)
	if err != nil {
		return model.Failure(err)
	}
	return model.Response{Data: obj}
}

// DownloadFile reads an object from storage.
func (a *Adapter) DownloadFile(ctx context.Context, bucket, path string) (resp model.Response) {
	defer a.recoverPanic("download_file", &resp)

	data, err := a.source.GetClient(ctx).Download(ctx, bucket, path)
	if err != nil {
		return model.Failure(err)
	}
	return model.Response{Data: data}
}

// DeleteFile removes objects from storage in one call.
func (a *Adapter) DeleteFile(ctx context.Context, bucket string, paths []string) (resp model.Response) {
	defer a.recoverPanic("delete_file", &resp)

	removed, err := a.source.GetClient(ctx).Remove(ctx, bucket, paths)
	if err != nil {
		return model.Failure(err)
	}
	return model.Response{Data: removed}
}

// GetPublicURL derives the URL from the current handle's service URL.
func (a *Adapter) GetPublicURL(bucket, path string) string {
	return a.source.GetClient(context.Background()).PublicURL(bucket, path)
}

func rowsResponse(rows []model.Row, err error) model.Response {
	if err != nil {
		return model.Failure(err)
	}
	return model.Response{Data: rows}
}

func (a *Adapter) recoverPanic(op string, resp *model.Response) {
	if r := recover(); r != nil {
		a.logger.Error("hosted adapter panic", "op", op, "panic", r)
		*resp = model.Failure(&model.BackendError{
			Backend: model.BackendHosted,
			Op:      op,
			Message: fmt.Sprintf("panic: %v", r),
		})
	}
}
