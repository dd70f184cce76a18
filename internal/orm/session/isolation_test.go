package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
)

// txRecorder is a driver connector that records the options of every BeginTx
type txRecorder struct {
	options []driver.TxOptions
}

func (r *txRecorder) Connect(context.Context) (driver.Conn, error) { return &recordingConn{r}, nil }
func (r *txRecorder) Driver() driver.Driver                         { return nil }

type recordingConn struct{ r *txRecorder }

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, driver.ErrSkip
}
func (c *recordingConn) Close() error              { return nil }
func (c *recordingConn) Begin() (driver.Tx, error) { return recordingTx{}, nil }

func (c *recordingConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.r.options = append(c.r.options, opts)
	return recordingTx{}, nil
}

type recordingTx struct{}

func (recordingTx) Commit() error   { return nil }
func (recordingTx) Rollback() error { return nil }

func TestParseIsolation(t *testing.T) {
	tests := []struct {
		name string
		want IsolationLevel
	}{
		{"", DefaultIsolation},
		{"default", DefaultIsolation},
		{"read_committed", ReadCommitted},
		{"READ COMMITTED", ReadCommitted},
		{"repeatable-read", RepeatableRead},
		{"serializable", Serializable},
	}
	for _, tt := range tests {
		got, err := ParseIsolation(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := ParseIsolation("snapshot")
	assert.Error(t, err)
}

func TestTransactionalBeginsAtIsolationLevel(t *testing.T) {
	recorder := &txRecorder{}
	db := sql.OpenDB(recorder)
	t.Cleanup(func() { db.Close() })

	base, err := NewManager(db, query.Postgres, setupRegistry(t), nil)
	require.NoError(t, err)

	noop := func(context.Context) error { return nil }
	require.NoError(t, base.Transactional(context.Background(), noop))
	require.NoError(t, base.WithIsolation(Serializable).Transactional(context.Background(), noop))
	require.NoError(t, base.WithIsolation(ReadCommitted).Transactional(context.Background(), noop))

	require.Len(t, recorder.options, 3)
	assert.Equal(t, driver.IsolationLevel(sql.LevelDefault), recorder.options[0].Isolation)
	assert.Equal(t, driver.IsolationLevel(sql.LevelSerializable), recorder.options[1].Isolation)
	assert.Equal(t, driver.IsolationLevel(sql.LevelReadCommitted), recorder.options[2].Isolation)
	assert.Equal(t, DefaultIsolation, base.Isolation())
}

func TestWithIsolationKeepsStatements(t *testing.T) {
	m, mock := setupMockManager(t)
	m = m.WithIsolation(RepeatableRead)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "departments" ("name", "location") VALUES ($1, $2) RETURNING "id"`).
		WithArgs("Research", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectCommit()

	err := m.Transactional(context.Background(), func(ctx context.Context) error {
		return m.Persist(ctx, &department{Name: "Research"})
	})
	require.NoError(t, err)
	assert.Equal(t, RepeatableRead, m.Isolation())
	require.NoError(t, mock.ExpectationsWereMet())
}
