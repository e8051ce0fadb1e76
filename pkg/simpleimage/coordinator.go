package simpleimage

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Coordinator drives uploads through storage, records and variants around
// the owner's save and delete transactions.
type Coordinator struct {
	repo        Repository
	blobs       BlobStore
	transformer Transformer
	owners      map[string]OwnerConfig
	logger      *slog.Logger
	hooks       *Hooks
	newHash     func() hash.Hash
	scales      map[string]QualityScale
	workers     int
	recheck     time.Duration
	async       bool

	registry *Registry
	store    *ContentStore
	variants *VariantGenerator
	records  *AttachmentManager

	bgMu   sync.RWMutex
	bg     *pool.Pool
	closed bool
}

// Option represents a functional option for configuring the coordinator
type Option func(*Coordinator)

// WithRepository sets the attachment repository
func WithRepository(repo Repository) Option {
	return func(c *Coordinator) {
		c.repo = repo
	}
}

// WithBlobStore sets the blob storage backend
func WithBlobStore(store BlobStore) Option {
	return func(c *Coordinator) {
		c.blobs = store
	}
}

// WithTransformer sets the image transformer used for presets
func WithTransformer(t Transformer) Option {
	return func(c *Coordinator) {
		c.transformer = t
	}
}

// WithOwner registers the configuration of one owner type
func WithOwner(ownerType string, cfg OwnerConfig) Option {
	return func(c *Coordinator) {
		c.owners[ownerType] = cfg
	}
}

// WithOwners registers several owner types
func WithOwners(owners map[string]OwnerConfig) Option {
	return func(c *Coordinator) {
		for name, cfg := range owners {
			c.owners[name] = cfg
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHooks adds lifecycle hooks
func WithHooks(hooks *Hooks) Option {
	return func(c *Coordinator) {
		c.hooks.Merge(hooks)
	}
}

// WithHasher replaces SHA-256 as the content hash, e.g. md5.New for an
// existing md5-named layout.
func WithHasher(newHash func() hash.Hash) Option {
	return func(c *Coordinator) {
		c.newHash = newHash
	}
}

// WithQualityScale sets the native quality scale of an output format
func WithQualityScale(format string, scale QualityScale) Option {
	return func(c *Coordinator) {
		c.scales[format] = scale
	}
}

// WithWorkers bounds concurrent variant generation
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		c.workers = n
	}
}

// WithReclaimRecheck counts references again after d before deleting a file
func WithReclaimRecheck(d time.Duration) Option {
	return func(c *Coordinator) {
		c.recheck = d
	}
}

// WithAsyncMaterialize runs post-commit work on a background pool. Close
// waits for it.
func WithAsyncMaterialize() Option {
	return func(c *Coordinator) {
		c.async = true
	}
}

// New creates a coordinator with the given options
func New(options ...Option) (*Coordinator, error) {
	c := &Coordinator{
		owners:  make(map[string]OwnerConfig),
		logger:  slog.Default(),
		hooks:   &Hooks{},
		scales:  DefaultQualityScales(),
		workers: DefaultWorkers,
	}

	for _, option := range options {
		option(c)
	}

	if c.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if c.blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if c.workers < 1 {
		return nil, fmt.Errorf("workers must be positive, got %d", c.workers)
	}

	registry, err := NewRegistry(c.owners)
	if err != nil {
		return nil, err
	}
	if err := c.checkOperations(registry); err != nil {
		return nil, err
	}
	c.registry = registry

	c.store = NewContentStore(c.blobs, c.logger)
	c.store.hooks = c.hooks
	if c.newHash != nil {
		c.store.newHash = c.newHash
	}

	c.variants = NewVariantGenerator(c.blobs, c.transformer, c.logger)
	c.variants.hooks = c.hooks
	c.variants.scales = c.scales
	c.variants.workers = c.workers

	c.records = NewAttachmentManager(c.repo, c.store, registry, c.logger)
	c.records.hooks = c.hooks
	c.records.recheck = c.recheck

	if c.async {
		c.bg = pool.New().WithMaxGoroutines(c.workers)
	}
	return c, nil
}

func (c *Coordinator) checkOperations(registry *Registry) error {
	for _, ownerType := range registry.OwnerTypes() {
		cfg, _ := registry.Owner(ownerType)
		if len(cfg.Presets) > 0 && c.transformer == nil {
			return fmt.Errorf("owner %s: presets require a transformer", ownerType)
		}
		for _, name := range cfg.PresetNames() {
			for _, step := range cfg.Presets[name] {
				if !c.transformer.Supports(step.Op) {
					return fmt.Errorf("owner %s preset %s: %w: %s", ownerType, name, ErrUnknownOperation, step.Op)
				}
			}
		}
	}
	return nil
}

// Registry returns the owner configuration registry
func (c *Coordinator) Registry() *Registry { return c.registry }

// Repository returns the attachment repository
func (c *Coordinator) Repository() Repository { return c.repo }

// BlobStore returns the blob store
func (c *Coordinator) BlobStore() BlobStore { return c.blobs }

// Store returns the content store
func (c *Coordinator) Store() *ContentStore { return c.store }

// Variants returns the variant generator
func (c *Coordinator) Variants() *VariantGenerator { return c.variants }

// Records returns the attachment manager
func (c *Coordinator) Records() *AttachmentManager { return c.records }

// Result is the outcome of a save or delete. Report holds per-item failures
// that did not abort the operation.
type Result struct {
	Owner OwnerRef
	Changes
	Report *Report
}

// BeforeCommit stores every upload of configured fields and writes the
// attachment rows through tx. Unreadable items are skipped and reported; a
// repository failure is returned so the caller rolls back.
func (c *Coordinator) BeforeCommit(ctx context.Context, tx Repository, owner OwnerRef, payload Payload) (*Result, error) {
	cfg, err := c.registry.Owner(owner.Type)
	if err != nil {
		return nil, err
	}

	res := &Result{Owner: owner, Report: NewReport()}
	for field := range payload {
		if _, ok := cfg.Fields[field]; !ok {
			c.logger.DebugContext(ctx, "ignoring unconfigured field", "owner", owner.String(), "field", field)
		}
	}

	fields := make([]string, 0, len(cfg.Fields))
	for field := range cfg.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		items := payload[field]
		if len(items) == 0 {
			continue
		}
		multiplicity := cfg.Fields[field]
		stored := c.storeItems(ctx, owner, field, multiplicity, items, res.Report)
		if len(stored) == 0 {
			continue
		}

		var changes *Changes
		if multiplicity == One && !owner.New {
			changes, err = c.records.ReplaceSingle(ctx, tx, owner, field, stored)
		} else {
			changes, err = c.records.AppendMany(ctx, tx, owner, field, stored)
		}
		if err != nil {
			return nil, err
		}
		res.merge(changes)
	}
	return res, nil
}

// storeItems stores the uploads of one field. A one-valued field keeps the
// last item that stores successfully; the temp files of items before it are
// removed unread.
func (c *Coordinator) storeItems(ctx context.Context, owner OwnerRef, field string, m Multiplicity, items []Upload, report *Report) []*StoredFile {
	if m != One {
		stored := make([]*StoredFile, 0, len(items))
		for _, item := range items {
			if file := c.storeItem(ctx, owner, field, item, report); file != nil {
				stored = append(stored, file)
			}
		}
		return stored
	}

	for i := len(items) - 1; i >= 0; i-- {
		file := c.storeItem(ctx, owner, field, items[i], report)
		if file == nil {
			continue
		}
		for _, skipped := range items[:i] {
			c.discard(ctx, skipped)
		}
		return []*StoredFile{file}
	}
	return nil
}

func (c *Coordinator) storeItem(ctx context.Context, owner OwnerRef, field string, item Upload, report *Report) *StoredFile {
	file, err := c.storeUpload(ctx, owner.Type, item)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to store upload", "owner", owner.String(), "field", field, "err", err)
		c.hooks.executeOnError(ctx, "store", err)
		report.Add(fmt.Errorf("%s: %w", field, err))
		return nil
	}
	return file
}

// discard removes the temp file of an upload that was superseded within the
// same payload.
func (c *Coordinator) discard(ctx context.Context, u Upload) {
	if u.TempPath == "" {
		return
	}
	if err := os.Remove(u.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.WarnContext(ctx, "failed to remove unused upload", "path", u.TempPath, "err", err)
	}
}

func (c *Coordinator) storeUpload(ctx context.Context, ownerType string, u Upload) (*StoredFile, error) {
	switch {
	case u.TempPath != "":
		return c.store.Store(ctx, ownerType, u.OriginalName, SourcePath(u.TempPath), TransferMove)
	case u.LocalPath != "":
		return c.store.Store(ctx, ownerType, firstName(u.OriginalName, u.LocalPath), SourcePath(u.LocalPath), TransferCopy)
	case u.Reference != "":
		if !isStoredName(u.Reference) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReference, u.Reference)
		}
		key := ObjectKey(ownerType, "", u.Reference)
		return c.store.Store(ctx, ownerType, firstName(u.OriginalName, u.Reference), SourceKey(key), TransferCopy)
	default:
		return nil, ErrSourceMissing
	}
}

func firstName(original, fallback string) string {
	if original != "" {
		return original
	}
	return fallback
}

// isStoredName reports whether ref can be a content-addressed filename:
// no directories and no dot segments.
func isStoredName(ref string) bool {
	return ref != "." && ref != ".." && !strings.ContainsAny(ref, `/\`)
}

// AfterCommit reclaims superseded files and materializes the presets of
// created attachments. Failures are reported and never undo the save. With
// WithAsyncMaterialize the work is queued and the returned report is empty.
func (c *Coordinator) AfterCommit(ctx context.Context, res *Result) *Report {
	if res == nil {
		return NewReport()
	}

	c.bgMu.RLock()
	if c.bg != nil && !c.closed {
		bgCtx := context.WithoutCancel(ctx)
		c.bg.Go(func() {
			if err := c.materialize(bgCtx, res).Err(); err != nil {
				c.logger.ErrorContext(bgCtx, "background materialization failed", "owner", res.Owner.String(), "err", err)
			}
		})
		c.bgMu.RUnlock()
		return NewReport()
	}
	c.bgMu.RUnlock()

	return c.materialize(ctx, res)
}

func (c *Coordinator) materialize(ctx context.Context, res *Result) *Report {
	report := NewReport()

	for _, att := range res.Superseded {
		c.hooks.executeAfterAttachmentDelete(ctx, att)
		if _, err := c.records.Reclaim(ctx, att); err != nil {
			c.logger.ErrorContext(ctx, "failed to reclaim file", "filename", att.Filename, "err", err)
			c.hooks.executeOnError(ctx, "reclaim", err)
			report.Add(err)
		}
	}

	for _, att := range res.Created {
		c.hooks.executeAfterAttachmentCreate(ctx, att)
		cfg, err := c.registry.Owner(att.OwnerType)
		if err != nil {
			report.Add(err)
			continue
		}
		report.Merge(c.variants.EnsureAll(ctx, att, cfg, false))
	}
	return report
}

// Save runs BeforeCommit inside a repository transaction followed by
// AfterCommit. The returned result's report carries both phases' failures.
func (c *Coordinator) Save(ctx context.Context, owner OwnerRef, payload Payload) (*Result, error) {
	var res *Result
	err := c.repo.InTx(ctx, func(tx Repository) error {
		r, err := c.BeforeCommit(ctx, tx, owner, payload)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Report.Merge(c.AfterCommit(ctx, res))
	return res, nil
}

// BeforeDelete removes every attachment row of the owner through tx.
func (c *Coordinator) BeforeDelete(ctx context.Context, tx Repository, ownerType string, ownerKey uint64) (*Result, error) {
	if _, err := c.registry.Owner(ownerType); err != nil {
		return nil, err
	}
	rows, err := c.records.DeleteForOwner(ctx, tx, ownerType, ownerKey)
	if err != nil {
		return nil, err
	}
	return &Result{
		Owner:   OwnerRef{Type: ownerType, Key: ownerKey},
		Changes: Changes{Superseded: rows},
		Report:  NewReport(),
	}, nil
}

// AfterDelete reclaims the files of rows removed by BeforeDelete.
func (c *Coordinator) AfterDelete(ctx context.Context, res *Result) *Report {
	return c.AfterCommit(ctx, res)
}

// DeleteOwner runs BeforeDelete in a transaction followed by AfterDelete.
func (c *Coordinator) DeleteOwner(ctx context.Context, ownerType string, ownerKey uint64) (*Result, error) {
	var res *Result
	err := c.repo.InTx(ctx, func(tx Repository) error {
		r, err := c.BeforeDelete(ctx, tx, ownerType, ownerKey)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Report.Merge(c.AfterDelete(ctx, res))
	return res, nil
}

// DeleteAttachment removes one attachment and reclaims its files.
func (c *Coordinator) DeleteAttachment(ctx context.Context, id uint64) (*Attachment, *Report, error) {
	return c.records.Delete(ctx, id)
}

const regeneratePageSize = 100

// Regenerate ensures the presets of every attachment of ownerType, replacing
// existing variants when force is set.
func (c *Coordinator) Regenerate(ctx context.Context, ownerType string, force bool) (*Report, error) {
	cfg, err := c.registry.Owner(ownerType)
	if err != nil {
		return nil, err
	}

	report := NewReport()
	seen := make(map[string]bool)
	for offset := 0; ; offset += regeneratePageSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, err := c.repo.ListAttachments(ctx, NewListParams(ownerType, WithPagination(regeneratePageSize, offset)))
		if err != nil {
			return report, fmt.Errorf("failed to list attachments of %s: %w", ownerType, err)
		}
		for _, att := range page {
			// rows sharing a filename share their variants
			if seen[att.Filename] {
				continue
			}
			seen[att.Filename] = true
			report.Merge(c.variants.EnsureAll(ctx, att, cfg, force))
		}
		if len(page) < regeneratePageSize {
			return report, nil
		}
	}
}

// Attachments lists the attachments of an owner, optionally restricted to a
// field.
func (c *Coordinator) Attachments(ctx context.Context, ownerType string, ownerKey uint64, field string) ([]*Attachment, error) {
	cfg, err := c.registry.Owner(ownerType)
	if err != nil {
		return nil, err
	}
	opts := []ListOption{WithOwnerKey(ownerKey)}
	if field != "" {
		if _, ok := cfg.Fields[field]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		opts = append(opts, WithField(field))
	}
	return c.repo.ListAttachments(ctx, NewListParams(ownerType, opts...))
}

// Variant ensures one preset of att exists and returns its key.
func (c *Coordinator) Variant(ctx context.Context, att *Attachment, preset string) (string, error) {
	cfg, err := c.registry.Owner(att.OwnerType)
	if err != nil {
		return "", err
	}
	steps, ok := cfg.Presets[preset]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPreset, preset)
	}
	return c.variants.Ensure(ctx, att, preset, steps, cfg.EffectiveQuality(), false)
}

// Close waits for queued background work. Later AfterCommit calls run
// synchronously.
func (c *Coordinator) Close() error {
	c.bgMu.Lock()
	if c.bg == nil || c.closed {
		c.bgMu.Unlock()
		return nil
	}
	c.closed = true
	c.bgMu.Unlock()

	c.bg.Wait()
	return nil
}

// IsNotFound reports whether err means a missing attachment or object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAttachmentNotFound) || errors.Is(err, ErrObjectNotFound)
}
