package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/migrate"
	"github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
	repopg "github.com/tendant/simple-image/pkg/simpleimage/repo/postgres"
	reposqlite "github.com/tendant/simple-image/pkg/simpleimage/repo/sqlite"
	fsstorage "github.com/tendant/simple-image/pkg/simpleimage/storage/fs"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
	s3storage "github.com/tendant/simple-image/pkg/simpleimage/storage/s3"
	"github.com/tendant/simple-image/pkg/simpleimage/transform"
	"github.com/tendant/simple-image/pkg/simpleimage/urlstrategy"
)

// Service bundles a Coordinator with the resources it was built from.
type Service struct {
	*simpleimage.Coordinator

	URLs urlstrategy.URLStrategy

	// Migrator is nil for the in-memory repository.
	Migrator *migrate.Migrator

	closers []func() error
}

// URL renders the public URL of att, or of its preset variant.
func (s *Service) URL(ctx context.Context, att *simpleimage.Attachment, preset string) (string, error) {
	return s.URLs.URL(ctx, att, preset)
}

// Close drains background work and releases database handles.
func (s *Service) Close() error {
	err := s.Coordinator.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}
	return err
}

// BuildService wires repository, blob store, transformer and URL strategy.
// extra options are applied after the configured ones.
func (c *Config) BuildService(ctx context.Context, logger *slog.Logger, extra ...simpleimage.Option) (_ *Service, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{}
	defer func() {
		if err != nil {
			for i := len(svc.closers) - 1; i >= 0; i-- {
				_ = svc.closers[i]()
			}
		}
	}()

	repo, err := c.buildRepository(ctx, svc, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	blobs, err := c.buildStorageBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend: %w", err)
	}

	options := []simpleimage.Option{
		simpleimage.WithRepository(repo),
		simpleimage.WithBlobStore(blobs),
		simpleimage.WithTransformer(transform.New()),
		simpleimage.WithOwners(c.owners()),
		simpleimage.WithLogger(logger),
		simpleimage.WithWorkers(c.Workers),
	}
	if c.ReclaimRecheck > 0 {
		options = append(options, simpleimage.WithReclaimRecheck(c.ReclaimRecheck))
	}
	if c.AsyncMaterialize {
		options = append(options, simpleimage.WithAsyncMaterialize())
	}
	options = append(options, extra...)

	coordinator, err := simpleimage.New(options...)
	if err != nil {
		return nil, err
	}
	svc.Coordinator = coordinator

	strategyType, err := c.strategyType()
	if err != nil {
		return nil, err
	}
	svc.URLs, err = urlstrategy.NewURLStrategy(urlstrategy.Config{
		Type:         strategyType,
		Registry:     coordinator.Registry(),
		BasePath:     c.WebRoot,
		PublicPrefix: c.PublicPrefix,
		CDNBaseURL:   c.CDNBaseURL,
		BlobStore:    blobs,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// buildRepository creates a Repository based on the configuration
func (c *Config) buildRepository(ctx context.Context, svc *Service, logger *slog.Logger) (simpleimage.Repository, error) {
	kind, err := c.databaseKind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case kindMemory:
		return memory.New(), nil

	case kindPostgres:
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse database_url: %w", err)
		}
		if schema := c.DatabaseSchema; schema != "" {
			cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
				_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
				return err
			}
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		svc.closers = append(svc.closers, func() error { pool.Close(); return nil })

		db := stdlib.OpenDBFromPool(pool)
		svc.closers = append(svc.closers, db.Close)
		if svc.Migrator, err = c.migrator(db, migrate.Postgres, logger); err != nil {
			return nil, err
		}
		return repopg.NewWithTable(pool, c.Table), nil

	case kindSQLite:
		repo, err := reposqlite.Open(reposqlite.Config{Path: sqlitePath(c.DatabaseURL), Table: c.Table})
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, repo.Close)

		db, err := repo.DB().DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database instance: %w", err)
		}
		if svc.Migrator, err = c.migrator(db, migrate.SQLite, logger); err != nil {
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unsupported database kind %s", kind)
}

func (c *Config) migrator(db *sql.DB, dialect migrate.Dialect, logger *slog.Logger) (*migrate.Migrator, error) {
	return migrate.New(db, dialect, migrate.WithTable(c.Table), migrate.WithLogger(logger))
}

// buildStorageBackend creates a BlobStore based on the storage URL
func (c *Config) buildStorageBackend(ctx context.Context) (simpleimage.BlobStore, error) {
	kind, err := c.storageKind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case kindFS:
		return fsstorage.New(fsstorage.Config{
			BaseDir:   c.fsRoot(),
			URLPrefix: strings.TrimSuffix(c.PublicPrefix, "/"),
		})
	case kindS3:
		s3Config, err := c.s3Config()
		if err != nil {
			return nil, err
		}
		return s3storage.New(ctx, s3Config)
	default:
		return memorystorage.New(), nil
	}
}

// s3Config parses s3://bucket/prefix?region=..&endpoint=..&path_style=true
// &sse=AES256&kms_key_id=..&create_bucket=true. Query values win over the
// s3 section and AWS_* variables.
func (c *Config) s3Config() (s3storage.Config, error) {
	u, err := url.Parse(c.StorageURL)
	if err != nil {
		return s3storage.Config{}, fmt.Errorf("invalid storage_url: %w", err)
	}
	q := u.Query()

	cfg := s3storage.Config{
		Bucket:          u.Host,
		Prefix:          strings.Trim(u.Path, "/"),
		Region:          firstNonEmpty(q.Get("region"), c.S3.Region),
		Endpoint:        firstNonEmpty(q.Get("endpoint"), c.S3.Endpoint),
		AccessKeyID:     c.S3.AccessKeyID,
		SecretAccessKey: c.S3.SecretAccessKey,
		PresignDuration: c.S3.PresignDuration,
		PublicBaseURL:   c.S3.PublicBaseURL,
		CacheControl:    c.S3.CacheControl,
		SSEAlgorithm:    q.Get("sse"),
		SSEKMSKeyID:     q.Get("kms_key_id"),
	}
	cfg.EnableSSE = cfg.SSEAlgorithm != ""

	for key, dst := range map[string]*bool{
		"path_style":    &cfg.UsePathStyle,
		"create_bucket": &cfg.CreateBucketIfNotExist,
	} {
		if v := q.Get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return s3storage.Config{}, fmt.Errorf("invalid boolean for %s in storage_url: %w", key, err)
			}
			*dst = b
		}
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
