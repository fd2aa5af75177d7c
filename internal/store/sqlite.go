package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite and its JSON1 functions.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection_updated ON documents(collection, updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, data, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)

	var doc Document
	var data string
	if err := row.Scan(&doc.ID, &data, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistErr(err, fmt.Sprintf("sqlite: get %s/%s", collection, id))
	}
	doc.Data = []byte(data)
	return &doc, nil
}

func (s *SQLiteStore) Set(ctx context.Context, collection, id string, data any, merge bool) error {
	body, err := marshalData(data)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	// json_patch applies RFC 7396 merge semantics to the stored document.
	update := `data = excluded.data`
	if merge {
		update = `data = json_patch(documents.data, excluded.data)`
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET `+update+`, updated_at = excluded.updated_at`,
		collection, id, string(body), now, now,
	)
	if err != nil {
		return persistErr(err, fmt.Sprintf("sqlite: set %s/%s", collection, id))
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	query := `SELECT id, data, updated_at FROM documents WHERE collection = ?`
	args := []any{collection}

	for _, c := range q.Conditions {
		expr := sqliteField(c.Field)
		if c.Op == OpIn {
			vals, _ := expand(c.Value)
			if len(vals) == 0 {
				return nil, nil
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(vals)), ", ")
			query += fmt.Sprintf(" AND %s IN (%s)", expr, placeholders)
			for _, v := range vals {
				args = append(args, sqliteValue(v))
			}
			continue
		}
		op := string(c.Op)
		if c.Op == OpEq {
			op = "="
		}
		query += fmt.Sprintf(" AND %s %s ?", expr, op)
		args = append(args, sqliteValue(scalar(c.Value)))
	}

	if q.OrderBy != "" {
		query += " ORDER BY " + sqliteField(q.OrderBy)
		if q.Descending {
			query += " DESC"
		}
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr(err, "sqlite: query "+collection)
	}
	defer rows.Close() //nolint:errcheck

	var docs []Document
	for rows.Next() {
		var doc Document
		var data string
		if err := rows.Scan(&doc.ID, &data, &doc.UpdatedAt); err != nil {
			return nil, persistErr(err, "sqlite: scan "+collection)
		}
		doc.Data = []byte(data)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(err, "sqlite: iterate "+collection)
	}
	return docs, nil
}

func sqliteField(field string) string {
	if field == "updated_at" {
		return "updated_at"
	}
	return fmt.Sprintf("json_extract(data, '$.%s')", field)
}

// sqliteValue maps booleans onto the integers json_extract yields for them.
func sqliteValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}
