package simpleimage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
)

// DefaultWorkers bounds concurrent preset generation.
const DefaultWorkers = 4

// VariantGenerator materializes preset variants of stored originals.
type VariantGenerator struct {
	blobs       BlobStore
	transformer Transformer
	scales      map[string]QualityScale
	workers     int
	logger      *slog.Logger
	hooks       *Hooks
}

// NewVariantGenerator creates a generator with the default quality scales.
func NewVariantGenerator(blobs BlobStore, transformer Transformer, logger *slog.Logger) *VariantGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &VariantGenerator{
		blobs:       blobs,
		transformer: transformer,
		scales:      DefaultQualityScales(),
		workers:     DefaultWorkers,
		logger:      logger,
	}
}

// Ensure makes sure the preset variant of att exists and returns its key.
// An existing variant is left alone unless force is set.
func (g *VariantGenerator) Ensure(ctx context.Context, att *Attachment, name string, preset Preset, quality int, force bool) (string, error) {
	key := att.VariantKey(name)
	fail := func(op string, err error) (string, error) {
		return "", &VariantError{Preset: name, Filename: att.Filename, Op: op, Err: err}
	}

	if !force {
		exists, err := g.blobs.Exists(ctx, key)
		if err != nil {
			return fail("exists", err)
		}
		if exists {
			g.hooks.executeAfterVariant(ctx, att, name, false)
			return key, nil
		}
	}

	for _, step := range preset {
		if !g.transformer.Supports(step.Op) {
			return fail("transform", fmt.Errorf("%w: %s", ErrUnknownOperation, step.Op))
		}
	}

	src, err := g.blobs.Download(ctx, att.Key())
	if err != nil {
		return fail("download", err)
	}
	defer src.Close()

	format := FormatOf(att.Filename)
	enc := Encoding{Format: format, Quality: nativeQuality(g.scales, format, quality)}

	var out bytes.Buffer
	if err := g.transformer.Transform(ctx, &out, src, preset, enc); err != nil {
		return fail("transform", err)
	}

	if err := g.blobs.UploadWithParams(ctx, &out, UploadParams{ObjectKey: key, MimeType: att.Mime}); err != nil {
		return fail("upload", err)
	}

	g.logger.DebugContext(ctx, "variant generated", "key", key, "quality", enc.Quality)
	g.hooks.executeAfterVariant(ctx, att, name, true)
	return key, nil
}

// EnsureAll runs Ensure for every preset on a bounded pool. A failing preset
// never stops the others; all failures end up in the report.
func (g *VariantGenerator) EnsureAll(ctx context.Context, att *Attachment, cfg OwnerConfig, force bool) *Report {
	report := NewReport()
	names := cfg.PresetNames()
	if len(names) == 0 {
		return report
	}

	quality := cfg.EffectiveQuality()
	p := pool.New().WithMaxGoroutines(max(g.workers, 1))
	for _, name := range names {
		preset := cfg.Presets[name]
		p.Go(func() {
			if _, err := g.Ensure(ctx, att, name, preset, quality, force); err != nil {
				g.logger.ErrorContext(ctx, "variant generation failed", "preset", name, "filename", att.Filename, "err", err)
				g.hooks.executeOnError(ctx, "ensure_variant", err)
				report.Add(err)
			}
		})
	}
	p.Wait()
	return report
}
