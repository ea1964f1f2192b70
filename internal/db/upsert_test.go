package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestBulkUpsert(t *testing.T) {
	pool := newMockPool(t)
	cols := []string{"external_id", "category", "price", "rank"}

	pool.ExpectBegin()
	pool.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	pool.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_products"}, cols).WillReturnResult(2)
	pool.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	pool.ExpectCommit()

	n, err := BulkUpsert(context.Background(), pool, UpsertConfig{
		Table:        "products",
		Columns:      cols,
		ConflictKeys: []string{"external_id"},
	}, [][]any{
		{"B0001", "Garden", 24.99, 1200},
		{"B0002", "Garden", 12.50, 4800},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	pool := newMockPool(t)
	n, err := BulkUpsert(context.Background(), pool, UpsertConfig{
		Table:        "products",
		Columns:      []string{"external_id"},
		ConflictKeys: []string{"external_id"},
	}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestBulkUpsert_RequiresConfig(t *testing.T) {
	pool := newMockPool(t)
	rows := [][]any{{"B0001"}}

	_, err := BulkUpsert(context.Background(), pool, UpsertConfig{
		Table: "products", ConflictKeys: []string{"external_id"},
	}, rows)
	assert.Error(t, err)

	_, err = BulkUpsert(context.Background(), pool, UpsertConfig{
		Table: "products", Columns: []string{"external_id"},
	}, rows)
	assert.Error(t, err)
}
