package migrate_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/migrate"
	"github.com/tendant/simple-image/pkg/simpleimage/repo/sqlite"
)

func openSQLite(t *testing.T) (*sqlite.Repository, *sql.DB) {
	t.Helper()
	repo, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "images.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	db, err := repo.DB().DB()
	require.NoError(t, err)
	return repo, db
}

func TestMigrator_UpDown(t *testing.T) {
	ctx := context.Background()
	repo, db := openSQLite(t)

	m, err := migrate.New(db, migrate.SQLite)
	require.NoError(t, err)

	require.NoError(t, m.Up(ctx))
	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// the table is usable by the repository
	att := &simpleimage.Attachment{
		OwnerKey: 7, OwnerType: "Users", Field: "avatar",
		Filename: "abc.jpg", Mime: "image/jpeg", SizeBytes: 3, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.CreateAttachment(ctx, att))
	assert.NotZero(t, att.ID)

	// already applied: nothing to do
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'images'`).Scan(&n))
	assert.Equal(t, 0, n)

	// nothing left to roll back
	require.NoError(t, m.Down(ctx))
}

func TestMigrator_UpFailsWhenTableExists(t *testing.T) {
	ctx := context.Background()
	_, db := openSQLite(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE images (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	m, err := migrate.New(db, migrate.SQLite)
	require.NoError(t, err)

	err = m.Up(ctx)
	require.Error(t, err)
	var conflict *simpleimage.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "images", conflict.Table)
	assert.ErrorIs(t, err, simpleimage.ErrTableExists)

	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
}

func TestMigrator_CustomTable(t *testing.T) {
	ctx := context.Background()
	_, db := openSQLite(t)

	m, err := migrate.New(db, migrate.SQLite, migrate.WithTable("photos"))
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx))

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'photos'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNew_UnsupportedDialect(t *testing.T) {
	_, db := openSQLite(t)
	_, err := migrate.New(db, migrate.Dialect("oracle"))
	assert.Error(t, err)
}
