package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// DefaultTable is the attachment table name.
const DefaultTable = "images"

// imageRow maps the images table.
type imageRow struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ForeignKey uint64    `gorm:"column:foreign_key;not null"`
	Model      string    `gorm:"column:model;size:255;not null"`
	Field      string    `gorm:"column:field;size:255;not null"`
	Filename   string    `gorm:"column:filename;size:255;not null"`
	Mime       string    `gorm:"column:mime;size:255;not null"`
	Size       int64     `gorm:"column:size;not null"`
	Created    time.Time `gorm:"column:created;not null"`
}

func fromAttachment(att *simpleimage.Attachment) *imageRow {
	return &imageRow{
		ID:         att.ID,
		ForeignKey: att.OwnerKey,
		Model:      att.OwnerType,
		Field:      att.Field,
		Filename:   att.Filename,
		Mime:       att.Mime,
		Size:       att.SizeBytes,
		Created:    att.CreatedAt,
	}
}

func (r *imageRow) attachment() *simpleimage.Attachment {
	return &simpleimage.Attachment{
		ID:        r.ID,
		OwnerKey:  r.ForeignKey,
		OwnerType: r.Model,
		Field:     r.Field,
		Filename:  r.Filename,
		Mime:      r.Mime,
		SizeBytes: r.Size,
		CreatedAt: r.Created.UTC(),
	}
}

// Config holds SQLite-specific configuration
type Config struct {
	Path     string
	Table    string
	LogLevel logger.LogLevel
}

// Repository implements simpleimage.Repository on SQLite through gorm
type Repository struct {
	db    *gorm.DB
	table string
}

// Open opens the SQLite database at cfg.Path. Use ":memory:" for tests.
func Open(cfg Config) (*Repository, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	// SQLite only supports one writer; a single connection also keeps
	// ":memory:" databases shared.
	sqlDB.SetMaxOpenConns(1)

	return New(db, cfg.Table), nil
}

// New wraps an existing gorm handle
func New(db *gorm.DB, table string) *Repository {
	if table == "" {
		table = DefaultTable
	}
	return &Repository{db: db, table: table}
}

// DB returns the underlying GORM database instance
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

func (r *Repository) query(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table)
}

func (r *Repository) CreateAttachment(ctx context.Context, att *simpleimage.Attachment) error {
	row := fromAttachment(att)
	row.ID = 0
	if err := r.query(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}
	att.ID = row.ID
	return nil
}

func (r *Repository) GetAttachment(ctx context.Context, id uint64) (*simpleimage.Attachment, error) {
	var row imageRow
	err := r.query(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, simpleimage.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return row.attachment(), nil
}

func (r *Repository) ListAttachments(ctx context.Context, params simpleimage.ListAttachmentsParams) ([]*simpleimage.Attachment, error) {
	q := r.query(ctx)
	if params.OwnerType != "" {
		q = q.Where("model = ?", params.OwnerType)
	}
	if params.OwnerKey != nil {
		q = q.Where("foreign_key = ?", *params.OwnerKey)
	}
	if params.Field != nil {
		q = q.Where("field = ?", *params.Field)
	}
	if params.Filename != nil {
		q = q.Where("filename = ?", *params.Filename)
	}
	if params.Limit != nil {
		q = q.Limit(*params.Limit)
	}
	if params.Offset != nil {
		q = q.Offset(*params.Offset)
	}

	var rows []imageRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	result := make([]*simpleimage.Attachment, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].attachment())
	}
	return result, nil
}

func (r *Repository) DeleteAttachment(ctx context.Context, id uint64) error {
	res := r.query(ctx).Where("id = ?", id).Delete(&imageRow{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete attachment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return simpleimage.ErrAttachmentNotFound
	}
	return nil
}

func (r *Repository) CountByFilename(ctx context.Context, ownerType, filename string, excludeID uint64) (int64, error) {
	var n int64
	err := r.query(ctx).
		Where("model = ? AND filename = ? AND id <> ?", ownerType, filename, excludeID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count references: %w", err)
	}
	return n, nil
}

// InTx runs fn in a gorm transaction; nested calls use savepoints.
func (r *Repository) InTx(ctx context.Context, fn func(tx simpleimage.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, table: r.table})
	})
}
