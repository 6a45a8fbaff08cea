package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/datagate/internal/domain/model"
)

// ErrInvalidColumn is returned when a column or collection name is not a
// plain identifier.
var ErrInvalidColumn = errors.New("invalid column name")

// ErrNotSingle is returned by a single-row select that matched zero or
// several rows.
var ErrNotSingle = errors.New("single row expected")

// ErrInvalidFilter is returned when a filter value is not a JSON scalar.
var ErrInvalidFilter = errors.New("invalid filter value")

// ErrDuplicateKey is returned when an insert reuses an existing row id.
var ErrDuplicateKey = errors.New("duplicate key")

// RecordStore persists schemaless rows grouped into named collections.
// It backs the custom API server.
type RecordStore interface {
	// Select returns matching rows and the total number of matches before
	// the limit is applied.
	Select(ctx context.Context, collection string, opts model.SelectOptions) ([]model.Row, int, error)
	Insert(ctx context.Context, collection string, rows []model.Row) ([]model.Row, error)
	Update(ctx context.Context, collection string, patch model.Row, filters model.Filters) ([]model.Row, error)
	Upsert(ctx context.Context, collection string, rows []model.Row, opts model.UpsertOptions) ([]model.Row, error)
	Delete(ctx context.Context, collection string, filters model.Filters) ([]model.Row, error)
}
