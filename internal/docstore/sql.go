package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/circuitbreaker"
)

// Dialect selects SQL generation for a backend
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// DefaultVectorField is the document field stored in the pgvector column on Postgres
const DefaultVectorField = "embedding"

var postgresSchema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS documents (
		seq BIGSERIAL PRIMARY KEY,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		embedding vector,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (collection, id)
	)`,
	`DROP INDEX IF EXISTS idx_documents_collection_created`,
	`CREATE INDEX IF NOT EXISTS idx_documents_collection_created_at
		ON documents (collection, (data #>> '{metadata,createdAt}') COLLATE "C")`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection)`,
}

// SQLOptions tunes an SQLStore
type SQLOptions struct {
	MaxBatchSize int
	// VectorField names the float-slice field kept in the pgvector column (Postgres only)
	VectorField string
}

// SQLStore keeps documents as JSON rows in a single table, keyed by (collection, id)
type SQLStore struct {
	db          *circuitbreaker.DatabaseWrapper
	dialect     Dialect
	maxBatch    int
	vectorField string
	logger      *zap.Logger
	now         func() time.Time
}

// NewSQLStore wraps an open pool. The caller keeps ownership of schema creation via EnsureSchema.
func NewSQLStore(db *sqlx.DB, dialect Dialect, opts SQLOptions, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.VectorField == "" {
		opts.VectorField = DefaultVectorField
	}
	return &SQLStore{
		db:          circuitbreaker.NewDatabaseWrapper(db, "docstore-"+string(dialect), logger),
		dialect:     dialect,
		maxBatch:    opts.MaxBatchSize,
		vectorField: opts.VectorField,
		logger:      logger,
		now:         time.Now,
	}
}

// EnsureSchema creates the documents table and indexes if missing
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect == DialectPostgres {
		stmts = postgresSchema
	}
	return s.db.Do(ctx, func(db *sqlx.DB) error {
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) selectColumns() string {
	if s.dialect == DialectPostgres {
		return "id, data, embedding"
	}
	return "id, data"
}

func (s *SQLStore) scanDocument(collection string, rows interface{ Scan(...interface{}) error }) (Document, error) {
	var (
		id  string
		raw []byte
		vec *pgvector.Vector
	)
	dest := []interface{}{&id, &raw}
	if s.dialect == DialectPostgres {
		dest = append(dest, &vec)
	}
	if err := rows.Scan(dest...); err != nil {
		return Document{}, err
	}
	data := map[string]interface{}{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return Document{}, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	if vec != nil {
		data[s.vectorField] = vec.Slice()
	}
	return Document{Ref: Ref{Collection: collection, ID: id}, Data: data}, nil
}

func (s *SQLStore) Get(ctx context.Context, ref Ref) (*Document, error) {
	query := s.rebind(fmt.Sprintf(`SELECT %s FROM documents WHERE collection = ? AND id = ?`, s.selectColumns()))

	var doc Document
	err := s.db.Do(ctx, func(db *sqlx.DB) error {
		row := db.QueryRowxContext(ctx, query, ref.Collection, ref.ID)
		var err error
		doc, err = s.scanDocument(ref.Collection, row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	return &doc, nil
}

func (s *SQLStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	where, args, err := s.where(collection, q)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE %s ORDER BY seq`, s.selectColumns(), where)
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	query = s.rebind(query)

	var docs []Document
	err = s.db.Do(ctx, func(db *sqlx.DB) error {
		rows, err := db.QueryxContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		docs = docs[:0]
		for rows.Next() {
			doc, err := s.scanDocument(collection, rows)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return docs, nil
}

// Count runs the filters of q as SELECT COUNT(*); no document bodies or vectors are read
func (s *SQLStore) Count(ctx context.Context, collection string, q Query) (int, error) {
	where, args, err := s.where(collection, q)
	if err != nil {
		return 0, err
	}
	query := s.rebind(`SELECT COUNT(*) FROM documents WHERE ` + where)

	var n int
	err = s.db.Do(ctx, func(db *sqlx.DB) error {
		return db.GetContext(ctx, &n, query, args...)
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	if q.Limit > 0 && n > q.Limit {
		n = q.Limit
	}
	return n, nil
}

func (s *SQLStore) where(collection string, q Query) (string, []interface{}, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	clauses := []string{"collection = ?"}
	args := []interface{}{collection}
	for _, f := range q.Filters {
		clause, arg, err := s.filterClause(f)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	return strings.Join(clauses, " AND "), args, nil
}

// filterClause renders one filter. Field paths are validated identifiers, so inlining them is safe.
func (s *SQLStore) filterClause(f Filter) (string, interface{}, error) {
	op := string(f.Op)
	if f.Op == OpEqual {
		op = "="
	}
	parts := strings.Split(f.Field, ".")

	var (
		typed string
		arg   interface{}
	)
	switch v := f.Value.(type) {
	case time.Time:
		// TimeLayout is fixed width, so byte order is time order; matches the createdAt index
		typed, arg = ` COLLATE "C"`, FormatTime(v)
	case string:
		arg = v
	case bool:
		typed, arg = "::boolean", v
		if s.dialect == DialectSQLite {
			// json_extract yields 1/0 for JSON booleans
			if v {
				arg = 1
			} else {
				arg = 0
			}
		}
	default:
		n, ok := Float(v)
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter value %T for %s", f.Value, f.Field)
		}
		typed, arg = "::double precision", n
	}

	if s.dialect == DialectPostgres {
		expr := fmt.Sprintf("(data #>> '{%s}')", strings.Join(parts, ","))
		return fmt.Sprintf("%s%s %s ?", expr, typed, op), arg, nil
	}
	return fmt.Sprintf("json_extract(data, '$.%s') %s ?", f.Field, op), arg, nil
}

func (s *SQLStore) Add(ctx context.Context, collection string, data map[string]interface{}) (Ref, error) {
	ref := Ref{Collection: collection, ID: uuid.NewString()}
	body, vec, err := s.encode(data)
	if err != nil {
		return Ref{}, err
	}
	now := s.timestamp()

	var (
		query string
		args  []interface{}
	)
	if s.dialect == DialectPostgres {
		query = `INSERT INTO documents (collection, id, data, embedding, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
		args = []interface{}{ref.Collection, ref.ID, body, vec, now, now}
	} else {
		query = `INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
		args = []interface{}{ref.Collection, ref.ID, body, now, now}
	}
	query = s.rebind(query)

	err = s.db.Do(ctx, func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return Ref{}, fmt.Errorf("add to %s: %w", collection, err)
	}
	return ref, nil
}

func (s *SQLStore) Update(ctx context.Context, ref Ref, data map[string]interface{}) error {
	selectQuery := fmt.Sprintf(`SELECT %s FROM documents WHERE collection = ? AND id = ?`, s.selectColumns())
	if s.dialect == DialectPostgres {
		selectQuery += " FOR UPDATE"
	}
	selectQuery = s.rebind(selectQuery)

	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := s.scanDocument(ref.Collection, tx.QueryRowxContext(ctx, selectQuery, ref.Collection, ref.ID))
		if err != nil {
			return err
		}
		for k, v := range data {
			existing.Data[k] = v
		}
		body, vec, err := s.encode(existing.Data)
		if err != nil {
			return err
		}

		var (
			query string
			args  []interface{}
		)
		if s.dialect == DialectPostgres {
			query = `UPDATE documents SET data = ?, embedding = ?, updated_at = ? WHERE collection = ? AND id = ?`
			args = []interface{}{body, vec, s.timestamp(), ref.Collection, ref.ID}
		} else {
			query = `UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`
			args = []interface{}{body, s.timestamp(), ref.Collection, ref.ID}
		}
		_, err = tx.ExecContext(ctx, s.rebind(query), args...)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}
	return nil
}

// BatchDelete removes refs in one transaction
func (s *SQLStore) BatchDelete(ctx context.Context, refs []Ref) error {
	if len(refs) == 0 {
		return nil
	}
	if len(refs) > s.maxBatch {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(refs), s.maxBatch)
	}
	query := s.rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`)

	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, ref := range refs {
			if _, err := tx.ExecContext(ctx, query, ref.Collection, ref.ID); err != nil {
				return fmt.Errorf("delete %s: %w", ref, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("batch delete: %w", err)
	}
	s.logger.Debug("Batch deleted documents", zap.Int("count", len(refs)))
	return nil
}

func (s *SQLStore) MaxBatchSize() int { return s.maxBatch }

func (s *SQLStore) ListCollections(ctx context.Context, suffix string) ([]string, error) {
	query := s.rebind(`SELECT DISTINCT collection FROM documents WHERE collection LIKE ?`)
	var names []string
	err := s.db.Do(ctx, func(db *sqlx.DB) error {
		return db.SelectContext(ctx, &names, query, "%"+suffix)
	})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	// LIKE treats _ and % in suffix as wildcards
	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, suffix) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BreakerOpen reports whether the database circuit breaker is rejecting calls
func (s *SQLStore) BreakerOpen() bool {
	return s.db.IsCircuitBreakerOpen()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) rebind(query string) string {
	if s.dialect == DialectPostgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

func (s *SQLStore) timestamp() interface{} {
	now := s.now().UTC()
	if s.dialect == DialectPostgres {
		return now
	}
	return FormatTime(now)
}

// encode renders data as JSON text. On Postgres the vector field is split out for the pgvector column.
func (s *SQLStore) encode(data map[string]interface{}) (string, interface{}, error) {
	var vec interface{}
	body := make(map[string]interface{}, len(data))
	for k, v := range data {
		if s.dialect == DialectPostgres && k == s.vectorField {
			if floats, ok := Float32s(v); ok {
				vec = pgvector.NewVector(floats)
				continue
			}
		}
		body[k] = normalize(v)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("encode document: %w", err)
	}
	return string(raw), vec, nil
}

// normalize rewrites timestamps into TimeLayout so stored values sort lexically
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return FormatTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return FormatTime(*t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, inner := range t {
			out[k] = normalize(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	}
	return v
}

// Float32s converts a numeric slice, including a decoded JSON array, to []float32
func Float32s(v interface{}) ([]float32, bool) {
	switch t := v.(type) {
	case []float32:
		return t, true
	case []float64:
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(f)
		}
		return out, true
	case []interface{}:
		out := make([]float32, len(t))
		for i, e := range t {
			f, ok := Float(e)
			if !ok {
				return nil, false
			}
			out[i] = float32(f)
		}
		return out, true
	}
	return nil, false
}
