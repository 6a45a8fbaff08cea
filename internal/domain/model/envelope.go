package model

import (
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors carried in Response.Error.
var (
	// ErrSchemaNotProvisioned indicates the target table or collection does not exist yet.
	ErrSchemaNotProvisioned = errors.New("schema not provisioned")

	// ErrNotFound indicates the requested row or object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBackendUnavailable indicates no adapter is registered for the selected backend kind.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Row is a single record keyed by column name.
type Row map[string]any

// Filters is an equality map. Entries are AND-combined.
type Filters map[string]any

// Keys returns the filter columns in sorted order so that both adapters
// build identical requests for the same map.
func (f Filters) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SelectOptions narrows a select. OrderBy sorts ascending by a single column.
type SelectOptions struct {
	Columns []string
	Filters Filters
	OrderBy string
	Limit   int
	Single  bool
}

// UpsertOptions configures conflict resolution. OnConflict defaults to "id".
type UpsertOptions struct {
	OnConflict string
}

// ConflictColumn returns the configured conflict column or "id".
func (o UpsertOptions) ConflictColumn() string {
	if o.OnConflict == "" {
		return "id"
	}
	return o.OnConflict
}

// Blob is the payload of an upload.
type Blob struct {
	Data        []byte
	ContentType string
}

// FileObject describes a stored blob.
type FileObject struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
}

// Response is the uniform result of every data and storage operation.
// On failure Data is nil and Error is set.
type Response struct {
	Data  any
	Error error
	Count *int
}

// OK reports whether the operation succeeded.
func (r Response) OK() bool {
	return r.Error == nil
}

// Rows returns multi-row data, or a single collapsed row wrapped in a slice.
func (r Response) Rows() []Row {
	switch v := r.Data.(type) {
	case []Row:
		return v
	case Row:
		return []Row{v}
	default:
		return nil
	}
}

// Row returns single-row data, or the first row of multi-row data.
func (r Response) Row() Row {
	switch v := r.Data.(type) {
	case Row:
		return v
	case []Row:
		if len(v) > 0 {
			return v[0]
		}
	}
	return nil
}

// Bytes returns downloaded file contents.
func (r Response) Bytes() []byte {
	b, _ := r.Data.([]byte)
	return b
}

// Failure builds an envelope for a failed operation.
func Failure(err error) Response {
	return Response{Error: err}
}

// IntPtr returns a pointer to n, for populating Response.Count.
func IntPtr(n int) *int {
	return &n
}

// BackendError is the normalized error value adapters place in Response.Error.
type BackendError struct {
	Backend    BackendKind
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *BackendError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Backend, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Backend, e.Op, msg)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel errors by backend error code or status.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrSchemaNotProvisioned:
		return isSchemaMissingCode(e.Code)
	case ErrNotFound:
		return e.StatusCode == 404 && !isSchemaMissingCode(e.Code)
	}
	return false
}

// PostgREST reports an unknown table as PGRST205 (schema cache miss) and
// Postgres as 42P01 (undefined_table). The custom API uses its own code.
func isSchemaMissingCode(code string) bool {
	switch code {
	case "PGRST205", "42P01", "SCHEMA_NOT_PROVISIONED":
		return true
	}
	return false
}
