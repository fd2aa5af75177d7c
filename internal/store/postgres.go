package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/negotiator/internal/db"
)

// PostgresStore implements Store on a JSONB documents table using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgGetDocument = `SELECT id, data, updated_at FROM documents WHERE collection = $1 AND id = $2`
	pgSetDocument = `INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	pgMergeDocument = `INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (collection, id) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = EXCLUDED.updated_at`
)

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"get_document":   pgGetDocument,
	"set_document":   pgSetDocument,
	"merge_document": pgMergeDocument,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_updated ON documents(collection, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING GIN (data jsonb_path_ops);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var doc Document
	var data []byte
	err := s.pool.QueryRow(ctx, pgGetDocument, collection, id).Scan(&doc.ID, &data, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, persistErr(err, fmt.Sprintf("postgres: get %s/%s", collection, id))
	}
	doc.Data = data
	return &doc, nil
}

// Set upserts a document. Merging is shallow: top-level keys of data
// replace the stored ones.
func (s *PostgresStore) Set(ctx context.Context, collection, id string, data any, merge bool) error {
	body, err := marshalData(data)
	if err != nil {
		return err
	}
	sql := pgSetDocument
	if merge {
		sql = pgMergeDocument
	}
	if _, err := s.pool.Exec(ctx, sql, collection, id, body, time.Now().UTC()); err != nil {
		return persistErr(err, fmt.Sprintf("postgres: set %s/%s", collection, id))
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	query := `SELECT id, data, updated_at FROM documents WHERE collection = $1`
	args := []any{collection}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, c := range q.Conditions {
		if c.Op == OpIn {
			vals, _ := expand(c.Value)
			if len(vals) == 0 {
				return nil, nil
			}
			strs := make([]string, len(vals))
			for i, v := range vals {
				strs[i] = fmt.Sprint(v)
			}
			query += fmt.Sprintf(" AND %s = ANY(%s)", pgTextField(c.Field), next(strs))
			continue
		}
		op := string(c.Op)
		if c.Op == OpEq {
			op = "="
		}
		v := scalar(c.Value)
		query += fmt.Sprintf(" AND %s %s %s", pgTypedField(c.Field, v), op, next(v))
	}

	if q.OrderBy != "" {
		if q.OrderBy == "updated_at" {
			query += " ORDER BY updated_at"
		} else {
			query += " ORDER BY " + pgJSONField(q.OrderBy)
		}
		if q.Descending {
			query += " DESC"
		}
	}
	if q.Limit > 0 {
		query += " LIMIT " + next(q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistErr(err, "postgres: query "+collection)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var data []byte
		if err := rows.Scan(&doc.ID, &data, &doc.UpdatedAt); err != nil {
			return nil, persistErr(err, "postgres: scan "+collection)
		}
		doc.Data = data
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(err, "postgres: iterate "+collection)
	}
	return docs, nil
}

func pgPath(field string) string {
	return "'{" + strings.ReplaceAll(field, ".", ",") + "}'"
}

func pgTextField(field string) string {
	return "data #>> " + pgPath(field)
}

func pgJSONField(field string) string {
	return "data #> " + pgPath(field)
}

// pgTypedField casts the extracted text so comparisons follow the bound
// value's type.
func pgTypedField(field string, v any) string {
	if field == "updated_at" {
		return "updated_at"
	}
	switch v.(type) {
	case int64, float64, int:
		return "(" + pgTextField(field) + ")::numeric"
	case bool:
		return "(" + pgTextField(field) + ")::boolean"
	}
	return pgTextField(field)
}
