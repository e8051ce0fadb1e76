// Package migrate creates and drops the attachment table with goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Dialect selects the SQL flavour of the migration.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DefaultTable is the attachment table name.
const DefaultTable = "images"

// VersionTable records applied versions, separate from any goose table of
// the host application.
const VersionTable = "simpleimage_db_version"

// Migrator applies the attachment schema.
type Migrator struct {
	provider *goose.Provider
	dialect  Dialect
	table    string
}

type options struct {
	table  string
	logger *slog.Logger
}

// Option configures a Migrator
type Option func(*options)

// WithTable overrides the attachment table name
func WithTable(name string) Option {
	return func(o *options) {
		o.table = name
	}
}

// WithLogger routes goose output through logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a migrator for db.
func New(db *sql.DB, dialect Dialect, opts ...Option) (*Migrator, error) {
	o := options{table: DefaultTable}
	for _, opt := range opts {
		opt(&o)
	}
	if o.table == "" {
		return nil, fmt.Errorf("table name is required")
	}

	var gooseDialect goose.Dialect
	switch dialect {
	case Postgres:
		gooseDialect = goose.DialectPostgres
	case SQLite:
		gooseDialect = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	m := &Migrator{dialect: dialect, table: o.table}
	providerOpts := []goose.ProviderOption{
		goose.WithDisableGlobalRegistry(true),
		goose.WithTableName(VersionTable),
		goose.WithGoMigrations(goose.NewGoMigration(1,
			&goose.GoFunc{RunTx: m.createTable},
			&goose.GoFunc{RunTx: m.dropTable},
		)),
	}
	if o.logger != nil {
		providerOpts = append(providerOpts, goose.WithSlog(o.logger))
	}

	provider, err := goose.NewProvider(gooseDialect, db, nil, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	m.provider = provider
	return m, nil
}

// Up creates the attachment table. It fails with *simpleimage.ConflictError
// when the table exists without being recorded as migrated.
func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down drops the attachment table. Nothing to roll back is not an error.
func (m *Migrator) Down(ctx context.Context) error {
	if _, err := m.provider.Down(ctx); err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			return nil
		}
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version returns the applied schema version, 0 before Up.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	return m.provider.GetDBVersion(ctx)
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (m *Migrator) tableExists(ctx context.Context, tx *sql.Tx) (bool, error) {
	var query string
	switch m.dialect {
	case Postgres:
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`
	default:
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	}
	var n int
	if err := tx.QueryRowContext(ctx, query, m.table).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", m.table, err)
	}
	return n > 0, nil
}

func (m *Migrator) createTable(ctx context.Context, tx *sql.Tx) error {
	exists, err := m.tableExists(ctx, tx)
	if err != nil {
		return err
	}
	if exists {
		return &simpleimage.ConflictError{Table: m.table, Err: simpleimage.ErrTableExists}
	}

	for _, stmt := range m.schema() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %s: %w", m.table, err)
		}
	}
	return nil
}

func (m *Migrator) dropTable(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE `+quote(m.table)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", m.table, err)
	}
	return nil
}

func (m *Migrator) schema() []string {
	t := quote(m.table)
	var create string
	switch m.dialect {
	case Postgres:
		create = `CREATE TABLE ` + t + ` (
			id BIGSERIAL PRIMARY KEY,
			foreign_key BIGINT NOT NULL CHECK (foreign_key >= 0),
			model VARCHAR(255) NOT NULL,
			field VARCHAR(255) NOT NULL,
			filename VARCHAR(255) NOT NULL,
			mime VARCHAR(255) NOT NULL,
			size BIGINT NOT NULL CHECK (size >= 0),
			created TIMESTAMPTZ NOT NULL
		)`
	default:
		create = `CREATE TABLE ` + t + ` (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			foreign_key INTEGER NOT NULL CHECK (foreign_key >= 0),
			model VARCHAR(255) NOT NULL,
			field VARCHAR(255) NOT NULL,
			filename VARCHAR(255) NOT NULL,
			mime VARCHAR(255) NOT NULL,
			size INTEGER NOT NULL CHECK (size >= 0),
			created DATETIME NOT NULL
		)`
	}
	return []string{
		create,
		`CREATE INDEX ` + quote(m.table+"_owner_idx") + ` ON ` + t + ` (model, foreign_key, field)`,
		`CREATE INDEX ` + quote(m.table+"_filename_idx") + ` ON ` + t + ` (model, filename)`,
	}
}
