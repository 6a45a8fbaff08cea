package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RecordStore = (*RecordRepo)(nil)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RecordRepo is the SQLite implementation of the RecordStore port interface.
// Rows are stored as JSON documents; filters and ordering go through json_extract.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new RecordRepo backed by the given DB.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// storedRow pairs a document with its storage id.
type storedRow struct {
	id  int64
	doc model.Row
}

// Select returns rows matching every filter, ordered ascending by opts.OrderBy
// (insertion order otherwise), together with the match count before the limit.
func (r *RecordRepo) Select(ctx context.Context, collection string, opts model.SelectOptions) ([]model.Row, int, error) {
	if err := checkIdent(collection); err != nil {
		return nil, 0, err
	}
	for _, col := range opts.Columns {
		if col == "*" {
			continue
		}
		if err := checkIdent(col); err != nil {
			return nil, 0, err
		}
	}

	where, args, err := whereClause(collection, opts.Filters)
	if err != nil {
		return nil, 0, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM records WHERE ` + where
	if err := r.db.Reader.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", collection, err)
	}

	query := `SELECT id, doc FROM records WHERE ` + where
	if opts.OrderBy != "" {
		if err := checkIdent(opts.OrderBy); err != nil {
			return nil, 0, err
		}
		query += ` ORDER BY ` + jsonField(opts.OrderBy) + ` ASC, id ASC`
	} else {
		query += ` ORDER BY id ASC`
	}
	selectArgs := append([]any(nil), args...)
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		selectArgs = append(selectArgs, opts.Limit)
	}

	stored, err := queryRows(ctx, r.db.Reader, query, selectArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("select %s: %w", collection, err)
	}

	rows := make([]model.Row, 0, len(stored))
	for _, s := range stored {
		rows = append(rows, project(s.doc, opts.Columns))
	}

	if opts.Single && len(rows) != 1 {
		return nil, total, fmt.Errorf("select %s: %w: matched %d rows", collection, driven.ErrNotSingle, len(rows))
	}

	return rows, total, nil
}

// Insert stores each row, assigning a UUID id to rows that lack one.
func (r *RecordRepo) Insert(ctx context.Context, collection string, rows []model.Row) ([]model.Row, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}

	var inserted []model.Row
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		inserted = make([]model.Row, 0, len(rows))
		for _, row := range rows {
			doc, err := prepareInsert(row)
			if err != nil {
				return err
			}
			existing, err := findOne(ctx, tx, collection, "id", doc["id"])
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("%w: id %v", driven.ErrDuplicateKey, doc["id"])
			}
			if err := insertDoc(ctx, tx, collection, doc); err != nil {
				return err
			}
			inserted = append(inserted, doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", collection, err)
	}
	return inserted, nil
}

// Update merges patch into every matching row and returns the updated rows.
func (r *RecordRepo) Update(ctx context.Context, collection string, patch model.Row, filters model.Filters) ([]model.Row, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}
	if err := checkKeys(patch); err != nil {
		return nil, err
	}
	where, args, err := whereClause(collection, filters)
	if err != nil {
		return nil, err
	}

	var updated []model.Row
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := queryRows(ctx, tx, `SELECT id, doc FROM records WHERE `+where+` ORDER BY id ASC`, args...)
		if err != nil {
			return err
		}
		updated = make([]model.Row, 0, len(stored))
		for _, s := range stored {
			merged := merge(s.doc, patch)
			if err := updateDoc(ctx, tx, s.id, merged); err != nil {
				return err
			}
			updated = append(updated, merged)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", collection, err)
	}
	return updated, nil
}

// Upsert inserts each row, or merges it into the existing row whose conflict
// column holds the same value.
func (r *RecordRepo) Upsert(ctx context.Context, collection string, rows []model.Row, opts model.UpsertOptions) ([]model.Row, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}
	conflict := opts.ConflictColumn()
	if err := checkIdent(conflict); err != nil {
		return nil, err
	}

	var result []model.Row
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		result = make([]model.Row, 0, len(rows))
		for _, row := range rows {
			if err := checkKeys(row); err != nil {
				return err
			}
			var existing *storedRow
			if key, ok := row[conflict]; ok && key != nil {
				found, err := findOne(ctx, tx, collection, conflict, key)
				if err != nil {
					return err
				}
				existing = found
			}

			if existing != nil {
				merged := merge(existing.doc, row)
				if err := updateDoc(ctx, tx, existing.id, merged); err != nil {
					return err
				}
				result = append(result, merged)
				continue
			}

			doc, err := prepareInsert(row)
			if err != nil {
				return err
			}
			if err := insertDoc(ctx, tx, collection, doc); err != nil {
				return err
			}
			result = append(result, doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return result, nil
}

// Delete removes every matching row and returns the removed rows.
func (r *RecordRepo) Delete(ctx context.Context, collection string, filters model.Filters) ([]model.Row, error) {
	if err := checkIdent(collection); err != nil {
		return nil, err
	}
	where, args, err := whereClause(collection, filters)
	if err != nil {
		return nil, err
	}

	var deleted []model.Row
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := queryRows(ctx, tx, `SELECT id, doc FROM records WHERE `+where+` ORDER BY id ASC`, args...)
		if err != nil {
			return err
		}
		deleted = make([]model.Row, 0, len(stored))
		for _, s := range stored {
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, s.id); err != nil {
				return fmt.Errorf("delete record %d: %w", s.id, err)
			}
			deleted = append(deleted, s.doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete from %s: %w", collection, err)
	}
	return deleted, nil
}

func (r *RecordRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", driven.ErrInvalidColumn, name)
	}
	return nil
}

func checkKeys(row model.Row) error {
	for key := range row {
		if err := checkIdent(key); err != nil {
			return err
		}
	}
	return nil
}

// jsonField builds the json_extract expression for an already validated column.
func jsonField(col string) string {
	return `json_extract(doc, '$.` + col + `')`
}

func whereClause(collection string, filters model.Filters) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`collection = ?`)
	args := []any{collection}

	for _, col := range filters.Keys() {
		if err := checkIdent(col); err != nil {
			return "", nil, err
		}
		value := filters[col]
		if value == nil {
			sb.WriteString(` AND ` + jsonField(col) + ` IS NULL`)
			continue
		}
		bound, err := sqlValue(value)
		if err != nil {
			return "", nil, fmt.Errorf("filter %q: %w", col, err)
		}
		field := jsonField(col)
		alt := coercedValue(bound)
		if _, isBool := value.(bool); isBool {
			alt = nil
		}
		switch alt.(type) {
		case float64:
			sb.WriteString(` AND (` + field + ` = ? OR (` + jsonType(col) + ` IN ('integer', 'real') AND ` + field + ` = ?))`)
			args = append(args, bound, alt)
		case string:
			sb.WriteString(` AND (` + field + ` = ? OR (` + jsonType(col) + ` = 'text' AND ` + field + ` = ?))`)
			args = append(args, bound, alt)
		default:
			sb.WriteString(` AND ` + field + ` = ?`)
			args = append(args, bound)
		}
	}

	return sb.String(), args, nil
}

func jsonType(col string) string {
	return `json_type(doc, '$.` + col + `')`
}

// coercedValue returns the alternate form a filter value takes when the
// stored scalar has the other type: numeric strings also match numbers and
// numbers also match their canonical text. It returns nil when there is none.
func coercedValue(bound any) any {
	switch val := bound.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil
		}
		return f
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return nil
}

// sqlValue converts a filter value into the representation json_extract
// produces for the same JSON scalar.
func sqlValue(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", driven.ErrInvalidFilter, v)
	}
}

func queryRows(ctx context.Context, q querier, query string, args ...any) ([]storedRow, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storedRow
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		doc := model.Row{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode record %d: %w", id, err)
		}
		out = append(out, storedRow{id: id, doc: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func findOne(ctx context.Context, q querier, collection, col string, value any) (*storedRow, error) {
	where, args, err := whereClause(collection, model.Filters{col: value})
	if err != nil {
		return nil, err
	}
	stored, err := queryRows(ctx, q, `SELECT id, doc FROM records WHERE `+where+` ORDER BY id ASC LIMIT 1`, args...)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, nil
	}
	return &stored[0], nil
}

func prepareInsert(row model.Row) (model.Row, error) {
	if err := checkKeys(row); err != nil {
		return nil, err
	}
	doc := maps.Clone(row)
	if doc == nil {
		doc = model.Row{}
	}
	if id, ok := doc["id"]; !ok || id == nil || id == "" {
		doc["id"] = uuid.NewString()
	}
	return doc, nil
}

func insertDoc(ctx context.Context, q querier, collection string, doc model.Row) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO records (collection, doc) VALUES (?, ?)`, collection, string(data)); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func updateDoc(ctx context.Context, q querier, id int64, doc model.Row) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	const query = `UPDATE records SET doc = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := q.ExecContext(ctx, query, string(data), id); err != nil {
		return fmt.Errorf("update record %d: %w", id, err)
	}
	return nil
}

func merge(base, patch model.Row) model.Row {
	out := maps.Clone(base)
	if out == nil {
		out = model.Row{}
	}
	maps.Copy(out, patch)
	return out
}

func project(doc model.Row, columns []string) model.Row {
	if len(columns) == 0 {
		return doc
	}
	out := make(model.Row, len(columns))
	for _, col := range columns {
		if col == "*" {
			return doc
		}
		if v, ok := doc[col]; ok {
			out[col] = v
		}
	}
	return out
}
