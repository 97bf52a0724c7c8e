// Package database provides database client helpers for integration tests.
package database

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/mecanolabs/jarvis/pkg/database"
	"github.com/mecanolabs/jarvis/test/util"
)

// NewTestClient creates a database client backed by an isolated,
// migrated schema. In CI (CI_DATABASE_URL set) it connects to the external
// PostgreSQL service; locally it uses a shared testcontainer. The pool is
// closed and the schema dropped when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	connStr := util.SetupTestDatabase(t)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	t.Cleanup(pool.Close)
	return database.NewClientFromPool(pool)
}
