//go:build integration

package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcc-issuer/internal/platform/config"
	"kcc-issuer/internal/platform/database"
	"kcc-issuer/pkg/testutil/containers"
)

func TestPool_MigrateIsRepeatable(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()

	pool, err := database.New(ctx, config.DatabaseConfig{URL: pg.DSN, MaxOpenConns: 2, MaxIdleConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	require.NoError(t, pool.Migrate(ctx))
	require.NoError(t, pool.Migrate(ctx))
	assert.NoError(t, pool.Health(ctx))

	var count int
	require.NoError(t, pool.DB().QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_name = 'audit_events'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestNew_EmptyURLMeansNoPool(t *testing.T) {
	pool, err := database.New(context.Background(), config.DatabaseConfig{})
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.Error(t, pool.Health(context.Background()))
}
