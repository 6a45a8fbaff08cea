package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BlobStore = (*BlobRepo)(nil)

const defaultContentType = "application/octet-stream"

// BlobRepo is the SQLite implementation of the BlobStore port interface.
type BlobRepo struct {
	db *DB
}

// NewBlobRepo creates a new BlobRepo backed by the given DB.
func NewBlobRepo(db *DB) *BlobRepo {
	return &BlobRepo{db: db}
}

// Put stores the blob, replacing any existing blob at the same bucket and path.
func (r *BlobRepo) Put(ctx context.Context, bucket, path string, blob model.Blob) (model.FileObject, error) {
	if bucket == "" || path == "" {
		return model.FileObject{}, fmt.Errorf("put blob: bucket and path are required")
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	data := blob.Data
	if data == nil {
		data = []byte{}
	}

	const query = `
		INSERT INTO blobs (bucket, path, content_type, data, size, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(bucket, path) DO UPDATE SET
			content_type = excluded.content_type,
			data = excluded.data,
			size = excluded.size,
			updated_at = excluded.updated_at
	`

	size := int64(len(data))
	if _, err := r.db.Writer.ExecContext(ctx, query, bucket, path, contentType, data, size); err != nil {
		return model.FileObject{}, fmt.Errorf("put blob %s/%s: %w", bucket, path, err)
	}

	return model.FileObject{Bucket: bucket, Path: path, Size: size}, nil
}

// Get returns the blob stored at bucket and path, or model.ErrNotFound.
func (r *BlobRepo) Get(ctx context.Context, bucket, path string) (model.Blob, error) {
	const query = `SELECT content_type, data FROM blobs WHERE bucket = ? AND path = ?`

	var blob model.Blob
	err := r.db.Reader.QueryRowContext(ctx, query, bucket, path).Scan(&blob.ContentType, &blob.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Blob{}, fmt.Errorf("get blob %s/%s: %w", bucket, path, model.ErrNotFound)
	}
	if err != nil {
		return model.Blob{}, fmt.Errorf("get blob %s/%s: %w", bucket, path, err)
	}
	return blob, nil
}

// Delete removes the given paths from bucket and returns those that existed.
// Missing paths are skipped silently.
func (r *BlobRepo) Delete(ctx context.Context, bucket string, paths []string) ([]string, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed := make([]string, 0, len(paths))
	for _, path := range paths {
		res, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE bucket = ? AND path = ?`, bucket, path)
		if err != nil {
			return nil, fmt.Errorf("delete blob %s/%s: %w", bucket, path, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("delete blob %s/%s: rows affected: %w", bucket, path, err)
		}
		if n > 0 {
			removed = append(removed, path)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return removed, nil
}
