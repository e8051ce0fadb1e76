// Package simpleimagetest wires an in-memory Coordinator for tests.
package simpleimagetest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
	"github.com/tendant/simple-image/pkg/simpleimage/transform"
)

// Env is a coordinator over in-memory repository and blob store.
type Env struct {
	*simpleimage.Coordinator
	Repo        *memory.Repository
	Blobs       *memorystorage.Backend
	Transformer *CountingTransformer
}

// UsersConfig is the owner configuration used across tests: a single
// avatar, a gallery, and a 100x100 thumb preset at quality 90.
func UsersConfig() simpleimage.OwnerConfig {
	quality := 90
	return simpleimage.OwnerConfig{
		Table: "images",
		Path:  "/var/www/img",
		Fields: map[string]simpleimage.Multiplicity{
			"avatar":  simpleimage.One,
			"gallery": simpleimage.Many,
		},
		Presets: map[string]simpleimage.Preset{
			"thumb": {{Op: "resize", Params: map[string]any{"width": 100, "height": 100}}},
		},
		Quality: &quality,
	}
}

// New builds an Env with the "Users" owner registered. opts are applied
// after the defaults and may override them.
func New(t testing.TB, opts ...simpleimage.Option) *Env {
	t.Helper()

	env := &Env{
		Repo:        memory.New(),
		Blobs:       memorystorage.New(),
		Transformer: NewCountingTransformer(transform.New()),
	}
	base := []simpleimage.Option{
		simpleimage.WithRepository(env.Repo),
		simpleimage.WithBlobStore(env.Blobs),
		simpleimage.WithTransformer(env.Transformer),
		simpleimage.WithOwner("Users", UsersConfig()),
	}

	c, err := simpleimage.New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	env.Coordinator = c
	return env
}

// Has reports whether key is stored.
func (e *Env) Has(t testing.TB, key string) bool {
	t.Helper()
	ok, err := e.Blobs.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

// CountingTransformer counts Transform calls of the wrapped transformer.
type CountingTransformer struct {
	simpleimage.Transformer
	calls atomic.Int64
}

// NewCountingTransformer wraps t.
func NewCountingTransformer(t simpleimage.Transformer) *CountingTransformer {
	return &CountingTransformer{Transformer: t}
}

// Transform counts and delegates.
func (c *CountingTransformer) Transform(ctx context.Context, dst io.Writer, src io.Reader, steps []simpleimage.Step, enc simpleimage.Encoding) error {
	c.calls.Add(1)
	return c.Transformer.Transform(ctx, dst, src, steps, enc)
}

// Calls returns the number of Transform calls so far.
func (c *CountingTransformer) Calls() int64 {
	return c.calls.Load()
}

// PNG returns a w x h png whose pixels depend on seed, so different seeds
// give different content hashes.
func PNG(t testing.TB, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// TempUpload writes data to a fresh temp file, as an upload handler would.
func TempUpload(t testing.TB, data []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "upload-*")
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

// WriteFile writes data under dir with name and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}
