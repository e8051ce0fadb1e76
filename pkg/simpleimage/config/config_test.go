package config_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/config"
	"github.com/tendant/simple-image/pkg/simpleimage/simpleimagetest"
	"github.com/tendant/simple-image/pkg/simpleimage/urlstrategy"
)

const sampleYAML = `
port: "9090"
database_url: memory
storage_url: memory://
public_prefix: /img
web_root: /var/www
workers: 2
reclaim_recheck: 250ms
log:
  level: debug
owners:
  Users:
    table: images
    path: /var/www/img
    quality: 90
    fields:
      avatar: one
      gallery: many
    presets:
      thumb:
        - op: resize
          params: { width: 100, height: 100 }
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseURL)
	assert.Equal(t, "memory://", cfg.StorageURL)
	assert.Equal(t, "images", cfg.Table)
	assert.Equal(t, simpleimage.DefaultWorkers, cfg.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_File(t *testing.T) {
	cfg, err := config.Load(config.WithFile(writeConfig(t, "simpleimage.yaml", sampleYAML)))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.ReclaimRecheck)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Log.MaxSizeMB)

	users, ok := cfg.Owners["Users"]
	require.True(t, ok)
	assert.Equal(t, simpleimage.One, users.Fields["avatar"])
	assert.Equal(t, simpleimage.Many, users.Fields["gallery"])
	assert.Equal(t, 90, users.EffectiveQuality())
	require.Len(t, users.Presets["thumb"], 1)
	assert.Equal(t, "resize", users.Presets["thumb"][0].Op)
	assert.EqualValues(t, 100, users.Presets["thumb"][0].Params["width"])
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("SIMPLEIMAGE_PORT", "7070")
	t.Setenv("SIMPLEIMAGE_WORKERS", "8")
	t.Setenv("SIMPLEIMAGE_LOG_FORMAT", "json")
	t.Setenv("SIMPLEIMAGE_CDN_BASE_URL", "https://cdn.example.com")

	cfg, err := config.Load(config.WithFile(writeConfig(t, "simpleimage.yaml", sampleYAML)))
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://cdn.example.com", cfg.CDNBaseURL)
	assert.Len(t, cfg.Owners, 1)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SIMPLEIMAGE_DATABASE_URL", "sqlite:///tmp/images.db")
	t.Setenv("SIMPLEIMAGE_STORAGE_URL", "file:///tmp/img")

	cfg, err := config.Load(config.WithEnv())
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/images.db", cfg.DatabaseURL)
	assert.Equal(t, "file:///tmp/img", cfg.StorageURL)
}

func TestLoad_Options(t *testing.T) {
	cfg, err := config.Load(
		config.WithPort("1234"),
		config.WithDatabaseURL("postgres://localhost/images"),
		config.WithStorageURL("s3://bucket/prefix?region=eu-west-1"),
		config.WithOwner("Users", simpleimagetest.UsersConfig()),
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "1234", cfg.Port)
	assert.Contains(t, cfg.Owners, "Users")

	_, err = config.Load(config.WithPort(""))
	assert.Error(t, err)
	_, err = config.Load(config.WithDatabaseURL(""))
	assert.Error(t, err)
	_, err = config.Load(config.WithStorageURL(""))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	badQuality := 150

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		errIs  error
	}{
		{"zero workers", func(c *config.Config) { c.Workers = 0 }, nil},
		{"empty port", func(c *config.Config) { c.Port = "" }, nil},
		{"empty table", func(c *config.Config) { c.Table = "" }, nil},
		{"unknown database", func(c *config.Config) { c.DatabaseURL = "mysql://x" }, nil},
		{"empty sqlite path", func(c *config.Config) { c.DatabaseURL = "sqlite://" }, nil},
		{"unknown storage", func(c *config.Config) { c.StorageURL = "ftp://x" }, nil},
		{"empty fs path", func(c *config.Config) { c.StorageURL = "file://" }, nil},
		{"empty bucket", func(c *config.Config) { c.StorageURL = "s3://" }, nil},
		{"cdn without base", func(c *config.Config) { c.URLStrategy = "cdn" }, nil},
		{"unknown strategy", func(c *config.Config) { c.URLStrategy = "magic" }, nil},
		{"bad multiplicity", func(c *config.Config) {
			c.Owners = map[string]simpleimage.OwnerConfig{"Users": {Fields: map[string]simpleimage.Multiplicity{"avatar": "several"}}}
		}, nil},
		{"bad quality", func(c *config.Config) {
			c.Owners = map[string]simpleimage.OwnerConfig{"Users": {Quality: &badQuality}}
		}, nil},
		{"empty preset", func(c *config.Config) {
			c.Owners = map[string]simpleimage.OwnerConfig{"Users": {Presets: map[string]simpleimage.Preset{"thumb": {}}}}
		}, nil},
		{"owner table differs", func(c *config.Config) {
			c.Owners = map[string]simpleimage.OwnerConfig{"Users": {Table: "avatars"}}
		}, nil},
		{"owner path outside storage root", func(c *config.Config) {
			c.StorageURL = "file:///data/img"
			c.Owners = map[string]simpleimage.OwnerConfig{"Users": {Path: "/var/www/img"}}
		}, nil},
		{"unknown operation", func(c *config.Config) {
			c.Owners = map[string]simpleimage.OwnerConfig{"Users": {Presets: map[string]simpleimage.Preset{"thumb": {{Op: "sepia"}}}}}
		}, simpleimage.ErrUnknownOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
		})
	}
}

func TestUsage(t *testing.T) {
	usage, err := config.Usage()
	require.NoError(t, err)
	assert.Contains(t, usage, "SIMPLEIMAGE_DATABASE_URL")
	assert.Contains(t, usage, "SIMPLEIMAGE_LOG_LEVEL")
}

func TestBuildService_Memory(t *testing.T) {
	cfg, err := config.Load(config.WithOwner("Users", simpleimagetest.UsersConfig()))
	require.NoError(t, err)
	cfg.PublicPrefix = "/"
	cfg.WebRoot = "/var/www"

	svc, err := cfg.BuildService(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, svc.Close()) })

	assert.Nil(t, svc.Migrator)
	assert.IsType(t, &urlstrategy.PathPrefixStrategy{}, svc.URLs)

	ctx := context.Background()
	res, err := svc.Save(ctx, simpleimage.OwnerRef{Type: "Users", Key: 1, New: true}, simpleimage.Payload{
		"avatar": {{OriginalName: "me.png", TempPath: simpleimagetest.TempUpload(t, simpleimagetest.PNG(t, 40, 40, 3))}},
	})
	require.NoError(t, err)
	require.True(t, res.Report.OK())
	require.Len(t, res.Created, 1)

	u, err := svc.URL(ctx, res.Created[0], "thumb")
	require.NoError(t, err)
	assert.Equal(t, "/img/Users/thumb/"+res.Created[0].Filename, u)
}

func TestBuildService_SQLiteAndFilesystem(t *testing.T) {
	dir := t.TempDir()
	users := simpleimagetest.UsersConfig()
	users.Path = filepath.Join(dir, "img")
	cfg, err := config.Load(
		config.WithDatabaseURL("sqlite://"+filepath.Join(dir, "images.db")),
		config.WithStorageURL("file://"+filepath.Join(dir, "img")),
		config.WithOwner("Users", users),
	)
	require.NoError(t, err)
	cfg.URLStrategy = string(urlstrategy.StrategyTypeStorageDelegated)
	cfg.PublicPrefix = "/img/"

	ctx := context.Background()
	svc, err := cfg.BuildService(ctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, svc.Close()) })

	require.NotNil(t, svc.Migrator)
	require.NoError(t, svc.Migrator.Up(ctx))

	res, err := svc.Save(ctx, simpleimage.OwnerRef{Type: "Users", Key: 5, New: true}, simpleimage.Payload{
		"gallery": {{OriginalName: "one.png", TempPath: simpleimagetest.TempUpload(t, simpleimagetest.PNG(t, 30, 30, 9))}},
	})
	require.NoError(t, err)
	require.True(t, res.Report.OK())
	require.Len(t, res.Created, 1)

	filename := res.Created[0].Filename
	assert.FileExists(t, filepath.Join(dir, "img", "Users", filename))
	assert.FileExists(t, filepath.Join(dir, "img", "Users", "thumb", filename))

	u, err := svc.URL(ctx, res.Created[0], "thumb")
	require.NoError(t, err)
	assert.Equal(t, "/img/Users/thumb/"+filename, u)

	atts, err := svc.Attachments(ctx, "Users", 5, "gallery")
	require.NoError(t, err)
	assert.Len(t, atts, 1)
}

func TestBuildService_UnknownOperationFromExtraOptions(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	_, err = cfg.BuildService(context.Background(), nil, simpleimage.WithOwner("Users", simpleimage.OwnerConfig{
		Presets: map[string]simpleimage.Preset{"thumb": {{Op: "sepia"}}},
	}))
	assert.ErrorIs(t, err, simpleimage.ErrUnknownOperation)
}

func TestValidate_OwnerTableAndPath(t *testing.T) {
	users := simpleimagetest.UsersConfig()
	users.Path = "/data/img/"

	cfg, err := config.Load(
		config.WithStorageURL("file:///data/img"),
		config.WithOwner("Users", users),
	)
	require.NoError(t, err)

	// outside filesystem storage the path only shapes URLs
	cfg.StorageURL = "memory://"
	cfg.Owners["Users"] = simpleimagetest.UsersConfig()
	assert.NoError(t, cfg.Validate())
}

func TestBuildService_OwnerPathDefaultsToStorageRoot(t *testing.T) {
	dir := t.TempDir()
	users := simpleimagetest.UsersConfig()
	users.Path = ""
	cfg, err := config.Load(
		config.WithStorageURL("file://"+filepath.Join(dir, "img")),
		config.WithOwner("Users", users),
	)
	require.NoError(t, err)
	cfg.WebRoot = dir
	cfg.PublicPrefix = "/"

	ctx := context.Background()
	svc, err := cfg.BuildService(ctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, svc.Close()) })

	owner, err := svc.Registry().Owner("Users")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "img"), owner.Path)
	assert.Empty(t, cfg.Owners["Users"].Path)

	res, err := svc.Save(ctx, simpleimage.OwnerRef{Type: "Users", Key: 1, New: true}, simpleimage.Payload{
		"avatar": {{OriginalName: "me.png", TempPath: simpleimagetest.TempUpload(t, simpleimagetest.PNG(t, 20, 20, 4))}},
	})
	require.NoError(t, err)
	require.True(t, res.Report.OK())

	filename := res.Created[0].Filename
	u, err := svc.URL(ctx, res.Created[0], "thumb")
	require.NoError(t, err)
	assert.Equal(t, "/img/Users/thumb/"+filename, u)
	assert.FileExists(t, filepath.Join(dir, strings.TrimPrefix(u, "/")))
}
