package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, data, updated_at FROM documents WHERE collection = \$1 AND id = \$2`).
		WithArgs("negotiation_threads", "missing").
		WillReturnError(pgx.ErrNoRows)

	doc, err := s.Get(context.Background(), "negotiation_threads", "missing")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "data", "updated_at"}).
		AddRow("t1", []byte(`{"thread_id":"t1","status":"active"}`), now)
	mock.ExpectQuery(`SELECT id, data, updated_at FROM documents`).
		WithArgs("negotiation_threads", "t1").
		WillReturnRows(rows)

	doc, err := s.Get(context.Background(), "negotiation_threads", "t1")
	require.NoError(t, err)
	require.NotNil(t, doc)

	var got map[string]string
	require.NoError(t, doc.Decode(&got))
	assert.Equal(t, "active", got["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, data, updated_at FROM documents`).
		WithArgs("negotiation_threads", "t1").
		WillReturnError(errors.New("connection refused"))

	_, err := s.Get(context.Background(), "negotiation_threads", "t1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPostgresStore_Set_Replace(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(collection, id\) DO UPDATE SET data = EXCLUDED.data`).
		WithArgs("negotiation_patterns", "pat_1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Set(context.Background(), "negotiation_patterns", "pat_1", map[string]any{"usage_count": 1}, false)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Set_Merge(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DO UPDATE SET data = documents.data \|\| EXCLUDED.data`).
		WithArgs("approval_queue", "t1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Set(context.Background(), "approval_queue", "t1", map[string]any{"resolved": true}, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Set_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("approval_queue", "t1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))

	err := s.Set(context.Background(), "approval_queue", "t1", map[string]any{}, false)
	assert.True(t, errors.Is(err, ErrPersistence))
}

func TestPostgresStore_Query(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"id", "data", "updated_at"}).
		AddRow("t1", []byte(`{"status":"active"}`), now).
		AddRow("t2", []byte(`{"status":"waiting_response"}`), now)
	mock.ExpectQuery(`WHERE collection = \$1 AND data #>> '\{status\}' = ANY\(\$2\) AND \(data #>> '\{round_number\}'\)::numeric >= \$3 ORDER BY data #> '\{last_updated\}' DESC LIMIT \$4`).
		WithArgs("negotiation_threads", []string{"active", "waiting_response"}, int64(2), 10).
		WillReturnRows(rows)

	docs, err := s.Query(context.Background(), "negotiation_threads", Query{
		Conditions: []Condition{
			Where("status", OpIn, []string{"active", "waiting_response"}),
			Where("round_number", OpGte, 2),
		},
		OrderBy:    "last_updated",
		Descending: true,
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Query_NestedBool(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`\(data #>> '\{flags,processed\}'\)::boolean = \$2`).
		WithArgs("negotiation_outcomes", false).
		WillReturnRows(pgxmock.NewRows([]string{"id", "data", "updated_at"}))

	docs, err := s.Query(context.Background(), "negotiation_outcomes", Query{
		Conditions: []Condition{Where("flags.processed", OpEq, false)},
	})
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS documents`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
