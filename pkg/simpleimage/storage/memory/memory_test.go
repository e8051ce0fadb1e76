package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

func TestMemoryBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := New()

	exists, err := b.Exists(ctx, "Users/a.png")
	require.NoError(t, err)
	assert.False(t, exists)

	err = b.UploadWithParams(ctx, bytes.NewReader([]byte("pixels")), simpleimage.UploadParams{
		ObjectKey: "Users/a.png",
		MimeType:  "image/png",
	})
	require.NoError(t, err)

	exists, err = b.Exists(ctx, "Users/a.png")
	require.NoError(t, err)
	assert.True(t, exists)

	meta, err := b.GetObjectMeta(ctx, "Users/a.png")
	require.NoError(t, err)
	assert.Equal(t, int64(6), meta.Size)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.NotEmpty(t, meta.ETag)

	rc, err := b.Download(ctx, "Users/a.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	require.NoError(t, b.Delete(ctx, "Users/a.png"))
	assert.Empty(t, b.Keys())
}

func TestMemoryBackend_MissingObjects(t *testing.T) {
	ctx := context.Background()
	b := New()

	_, err := b.Download(ctx, "nope")
	assert.ErrorIs(t, err, simpleimage.ErrObjectNotFound)

	_, err = b.GetObjectMeta(ctx, "nope")
	assert.ErrorIs(t, err, simpleimage.ErrObjectNotFound)

	assert.ErrorIs(t, b.Delete(ctx, "nope"), simpleimage.ErrObjectNotFound)
}

func TestMemoryBackend_DefaultMimeType(t *testing.T) {
	ctx := context.Background()
	b := New()

	require.NoError(t, b.Upload(ctx, "k", bytes.NewReader(nil)))
	meta, err := b.GetObjectMeta(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", meta.ContentType)
}
