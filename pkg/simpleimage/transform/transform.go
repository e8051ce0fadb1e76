// Package transform implements simpleimage.Transformer with nfnt/resize and
// the standard image codecs.
package transform

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/nfnt/resize"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Params are the parameters of one step.
type Params map[string]any

// Int returns params[key] as an int, or def when absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("param %s: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
	}
}

// OpFunc applies one operation to an image.
type OpFunc func(img image.Image, params Params) (image.Image, error)

// Transformer runs preset steps over decoded images.
type Transformer struct {
	interp resize.InterpolationFunction
	ops    map[string]OpFunc
}

// Option configures a Transformer
type Option func(*Transformer)

// WithInterpolation sets the resampling filter, Lanczos3 by default
func WithInterpolation(interp resize.InterpolationFunction) Option {
	return func(t *Transformer) {
		t.interp = interp
	}
}

// WithOperation registers or replaces an operation
func WithOperation(name string, fn OpFunc) Option {
	return func(t *Transformer) {
		t.ops[name] = fn
	}
}

// New creates a transformer with the built-in operations: resize, thumbnail,
// crop and grayscale.
func New(opts ...Option) *Transformer {
	t := &Transformer{
		interp: resize.Lanczos3,
		ops:    make(map[string]OpFunc),
	}
	t.ops["resize"] = t.resize
	t.ops["thumbnail"] = t.thumbnail
	t.ops["crop"] = crop
	t.ops["grayscale"] = grayscale
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Supports reports whether op is registered
func (t *Transformer) Supports(op string) bool {
	_, ok := t.ops[op]
	return ok
}

// Operations returns the registered operation names
func (t *Transformer) Operations() []string {
	names := make([]string, 0, len(t.ops))
	for name := range t.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Transform decodes src, applies steps in order and encodes to dst.
func (t *Transformer) Transform(ctx context.Context, dst io.Writer, src io.Reader, steps []simpleimage.Step, enc simpleimage.Encoding) error {
	img, format, err := image.Decode(src)
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn, ok := t.ops[step.Op]
		if !ok {
			return fmt.Errorf("%w: %s", simpleimage.ErrUnknownOperation, step.Op)
		}
		img, err = fn(img, Params(step.Params))
		if err != nil {
			return fmt.Errorf("%s: %w", step.Op, err)
		}
	}

	if enc.Format != "" {
		format = enc.Format
	}
	return Encode(dst, img, format, enc.Quality)
}

// Encode writes img in format using the encoder's native quality: 0-100 for
// jpeg, a 0-9 compression level for png. Unknown formats fall back to png.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: min(max(quality, 1), 100)})
	case "gif":
		return gif.Encode(w, img, nil)
	default:
		e := png.Encoder{CompressionLevel: pngLevel(quality)}
		return e.Encode(w, img)
	}
}

// pngLevel maps a 0-9 compression level onto the levels image/png offers.
func pngLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

// resize scales to width x height; a zero dimension keeps the aspect ratio.
func (t *Transformer) resize(img image.Image, params Params) (image.Image, error) {
	w, err := params.Int("width", 0)
	if err != nil {
		return nil, err
	}
	h, err := params.Int("height", 0)
	if err != nil {
		return nil, err
	}
	if w < 0 || h < 0 || (w == 0 && h == 0) {
		return nil, fmt.Errorf("invalid size %dx%d", w, h)
	}
	return resize.Resize(uint(w), uint(h), img, t.interp), nil
}

// thumbnail fits the image inside width x height, never upscaling.
func (t *Transformer) thumbnail(img image.Image, params Params) (image.Image, error) {
	w, err := params.Int("width", 0)
	if err != nil {
		return nil, err
	}
	h, err := params.Int("height", w)
	if err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", w, h)
	}
	return resize.Thumbnail(uint(w), uint(h), img, t.interp), nil
}

// crop cuts the rectangle at (x, y) of width x height, clipped to the image.
func crop(img image.Image, params Params) (image.Image, error) {
	x, err := params.Int("x", 0)
	if err != nil {
		return nil, err
	}
	y, err := params.Int("y", 0)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	w, err := params.Int("width", b.Dx()-x)
	if err != nil {
		return nil, err
	}
	h, err := params.Int("height", b.Dy()-y)
	if err != nil {
		return nil, err
	}

	rect := image.Rect(b.Min.X+x, b.Min.Y+y, b.Min.X+x+w, b.Min.Y+y+h).Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("crop %d,%d %dx%d outside image %v", x, y, w, h, b)
	}

	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out, nil
}

func grayscale(img image.Image, _ Params) (image.Image, error) {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}
