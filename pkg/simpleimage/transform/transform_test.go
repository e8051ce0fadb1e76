package transform

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

func testPNG(t *testing.T, w, h int) *bytes.Buffer {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &buf
}

func TestTransform_Steps(t *testing.T) {
	tr := New()

	tests := []struct {
		name   string
		steps  []simpleimage.Step
		format string
		w, h   int
	}{
		{
			name:   "resize exact",
			steps:  []simpleimage.Step{{Op: "resize", Params: map[string]any{"width": 100, "height": 50}}},
			format: "png",
			w:      100, h: 50,
		},
		{
			name:   "resize keeps aspect",
			steps:  []simpleimage.Step{{Op: "resize", Params: map[string]any{"width": 100}}},
			format: "png",
			w:      100, h: 50,
		},
		{
			name:   "thumbnail fits",
			steps:  []simpleimage.Step{{Op: "thumbnail", Params: map[string]any{"width": 40.0, "height": 40.0}}},
			format: "jpg",
			w:      40, h: 20,
		},
		{
			name: "crop then grayscale",
			steps: []simpleimage.Step{
				{Op: "crop", Params: map[string]any{"x": 10, "y": 10, "width": 30, "height": 20}},
				{Op: "grayscale"},
			},
			format: "png",
			w:      30, h: 20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := tr.Transform(context.Background(), &out, testPNG(t, 200, 100), tt.steps,
				simpleimage.Encoding{Format: tt.format, Quality: 80})
			require.NoError(t, err)

			cfg, format, err := image.DecodeConfig(&out)
			require.NoError(t, err)
			assert.Equal(t, tt.w, cfg.Width)
			assert.Equal(t, tt.h, cfg.Height)
			if tt.format == "jpg" {
				assert.Equal(t, "jpeg", format)
			} else {
				assert.Equal(t, tt.format, format)
			}
		})
	}
}

func TestTransform_KeepsSourceFormatByDefault(t *testing.T) {
	var out bytes.Buffer
	err := New().Transform(context.Background(), &out, testPNG(t, 10, 10), nil, simpleimage.Encoding{})
	require.NoError(t, err)
	_, format, err := image.DecodeConfig(&out)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestTransform_Errors(t *testing.T) {
	tr := New()
	ctx := context.Background()

	err := tr.Transform(ctx, &bytes.Buffer{}, testPNG(t, 10, 10),
		[]simpleimage.Step{{Op: "blur"}}, simpleimage.Encoding{})
	assert.ErrorIs(t, err, simpleimage.ErrUnknownOperation)

	err = tr.Transform(ctx, &bytes.Buffer{}, bytes.NewBufferString("not an image"), nil, simpleimage.Encoding{})
	assert.Error(t, err)

	err = tr.Transform(ctx, &bytes.Buffer{}, testPNG(t, 10, 10),
		[]simpleimage.Step{{Op: "resize"}}, simpleimage.Encoding{})
	assert.Error(t, err)

	err = tr.Transform(ctx, &bytes.Buffer{}, testPNG(t, 10, 10),
		[]simpleimage.Step{{Op: "crop", Params: map[string]any{"x": 50}}}, simpleimage.Encoding{})
	assert.Error(t, err)
}

func TestTransformer_CustomOperation(t *testing.T) {
	called := false
	tr := New(WithOperation("noop", func(img image.Image, _ Params) (image.Image, error) {
		called = true
		return img, nil
	}))
	assert.True(t, tr.Supports("noop"))
	assert.False(t, tr.Supports("blur"))
	assert.Contains(t, tr.Operations(), "resize")

	err := tr.Transform(context.Background(), &bytes.Buffer{}, testPNG(t, 5, 5),
		[]simpleimage.Step{{Op: "noop"}}, simpleimage.Encoding{Format: "png"})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestEncode_QualityAffectsJPEGSize(t *testing.T) {
	img, err := png.Decode(testPNG(t, 64, 64))
	require.NoError(t, err)

	var low, high bytes.Buffer
	require.NoError(t, Encode(&low, img, "jpeg", 5))
	require.NoError(t, Encode(&high, img, "jpeg", 100))
	assert.Less(t, low.Len(), high.Len())

	_, err = jpeg.Decode(&low)
	assert.NoError(t, err)
}

func TestPngLevel(t *testing.T) {
	assert.Equal(t, png.NoCompression, pngLevel(0))
	assert.Equal(t, png.BestSpeed, pngLevel(2))
	assert.Equal(t, png.DefaultCompression, pngLevel(5))
	assert.Equal(t, png.BestCompression, pngLevel(9))
}

func TestParams_Int(t *testing.T) {
	p := Params{"a": 3, "b": 4.0, "c": "5", "d": 1.5, "e": []int{1}}

	v, err := p.Int("a", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	v, err = p.Int("b", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, v)

	v, err = p.Int("c", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	v, err = p.Int("missing", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, v)

	_, err = p.Int("d", 0)
	assert.Error(t, err)
	_, err = p.Int("e", 0)
	assert.Error(t, err)
}
