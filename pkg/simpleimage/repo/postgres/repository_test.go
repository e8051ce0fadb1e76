package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/migrate"
	"github.com/tendant/simple-image/pkg/simpleimage/repo/postgres"
	"github.com/tendant/simple-image/pkg/simpleimage/simpleimagetest"
)

// Requires TEST_DATABASE_URL pointing at a disposable database.
func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	m, err := migrate.New(stdlib.OpenDBFromPool(pool), migrate.Postgres, migrate.WithTable("images_test"))
	require.NoError(t, err)

	simpleimagetest.RepositoryContract(t, func(t *testing.T) simpleimage.Repository {
		require.NoError(t, m.Up(ctx))
		t.Cleanup(func() { require.NoError(t, m.Down(ctx)) })
		return postgres.NewWithTable(pool, "images_test")
	})
}
