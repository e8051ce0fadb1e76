package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// DefaultTable is the attachment table name.
const DefaultTable = "images"

// DBTX is an interface that allows us to use either a connection pool or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements simpleimage.Repository using PostgreSQL
type Repository struct {
	db    DBTX
	table string
}

// New creates a new PostgreSQL repository over the images table
func New(db DBTX) *Repository {
	return NewWithTable(db, DefaultTable)
}

// NewWithTable creates a repository over a custom table
func NewWithTable(db DBTX, table string) *Repository {
	return &Repository{db: db, table: pgx.Identifier{table}.Sanitize()}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return New(pool)
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return simpleimage.ErrAttachmentNotFound
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

const columns = "id, foreign_key, model, field, filename, mime, size, created"

func scanAttachment(row pgx.Row) (*simpleimage.Attachment, error) {
	var att simpleimage.Attachment
	var id, ownerKey, size int64
	err := row.Scan(&id, &ownerKey, &att.OwnerType, &att.Field, &att.Filename, &att.Mime, &size, &att.CreatedAt)
	if err != nil {
		return nil, err
	}
	att.ID = uint64(id)
	att.OwnerKey = uint64(ownerKey)
	att.SizeBytes = size
	return &att, nil
}

func (r *Repository) CreateAttachment(ctx context.Context, att *simpleimage.Attachment) error {
	query := `INSERT INTO ` + r.table + ` (foreign_key, model, field, filename, mime, size, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		int64(att.OwnerKey), att.OwnerType, att.Field, att.Filename,
		att.Mime, att.SizeBytes, att.CreatedAt).Scan(&id)
	if err != nil {
		return r.handlePostgresError("create attachment", err)
	}
	att.ID = uint64(id)
	return nil
}

func (r *Repository) GetAttachment(ctx context.Context, id uint64) (*simpleimage.Attachment, error) {
	query := `SELECT ` + columns + ` FROM ` + r.table + ` WHERE id = $1`

	att, err := scanAttachment(r.db.QueryRow(ctx, query, int64(id)))
	if err != nil {
		return nil, r.handlePostgresError("get attachment", err)
	}
	return att, nil
}

func (r *Repository) ListAttachments(ctx context.Context, params simpleimage.ListAttachmentsParams) ([]*simpleimage.Attachment, error) {
	query, args := r.buildListQuery(params)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list attachments", err)
	}
	defer rows.Close()

	var result []*simpleimage.Attachment
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan attachment", err)
		}
		result = append(result, att)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list attachments", err)
	}
	return result, nil
}

func (r *Repository) buildListQuery(params simpleimage.ListAttachmentsParams) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if params.OwnerType != "" {
		add("model = $%d", params.OwnerType)
	}
	if params.OwnerKey != nil {
		add("foreign_key = $%d", int64(*params.OwnerKey))
	}
	if params.Field != nil {
		add("field = $%d", *params.Field)
	}
	if params.Filename != nil {
		add("filename = $%d", *params.Filename)
	}

	query := `SELECT ` + columns + ` FROM ` + r.table
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	if params.Limit != nil {
		args = append(args, *params.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if params.Offset != nil {
		args = append(args, *params.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func (r *Repository) DeleteAttachment(ctx context.Context, id uint64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM `+r.table+` WHERE id = $1`, int64(id))
	if err != nil {
		return r.handlePostgresError("delete attachment", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleimage.ErrAttachmentNotFound
	}
	return nil
}

func (r *Repository) CountByFilename(ctx context.Context, ownerType, filename string, excludeID uint64) (int64, error) {
	query := `SELECT COUNT(*) FROM ` + r.table + ` WHERE model = $1 AND filename = $2 AND id <> $3`

	var n int64
	if err := r.db.QueryRow(ctx, query, ownerType, filename, int64(excludeID)).Scan(&n); err != nil {
		return 0, r.handlePostgresError("count references", err)
	}
	return n, nil
}

// InTx runs fn in a pgx transaction. Inside a transaction, Begin opens a
// savepoint.
func (r *Repository) InTx(ctx context.Context, fn func(tx simpleimage.Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Repository{db: tx, table: r.table}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return r.handlePostgresError("commit transaction", err)
	}
	return nil
}
