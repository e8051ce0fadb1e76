package simpleimage

import (
	"fmt"
	"strings"
	"time"
)

// Multiplicity is the cardinality of an attachment field.
type Multiplicity string

// Multiplicity constants (typed).
const (
	One  Multiplicity = "one"
	Many Multiplicity = "many"
)

// Valid reports whether m is a known multiplicity.
func (m Multiplicity) Valid() bool {
	return m == One || m == Many
}

// TransferMode selects how ContentStore places the source bytes.
type TransferMode int

const (
	// TransferMove consumes the source; the temp file is removed after storing.
	TransferMove TransferMode = iota
	// TransferCopy leaves the source in place.
	TransferCopy
)

func (m TransferMode) String() string {
	if m == TransferCopy {
		return "copy"
	}
	return "move"
}

// Attachment is the metadata row for one stored upload.
type Attachment struct {
	ID        uint64    `json:"id" db:"id"`
	OwnerKey  uint64    `json:"owner_key" db:"foreign_key"`
	OwnerType string    `json:"owner_type" db:"model"`
	Field     string    `json:"field" db:"field"`
	Filename  string    `json:"filename" db:"filename"`
	Mime      string    `json:"mime" db:"mime"`
	SizeBytes int64     `json:"size" db:"size"`
	CreatedAt time.Time `json:"created_at" db:"created"`
}

// Key returns the blob store key of the original file.
func (a *Attachment) Key() string {
	return ObjectKey(a.OwnerType, "", a.Filename)
}

// VariantKey returns the blob store key of the given preset variant.
func (a *Attachment) VariantKey(preset string) string {
	return ObjectKey(a.OwnerType, preset, a.Filename)
}

// ObjectKey builds {ownerType}/[{preset}/]{filename}.
func ObjectKey(ownerType, preset, filename string) string {
	if preset == "" {
		return ownerType + "/" + filename
	}
	return ownerType + "/" + preset + "/" + filename
}

// Step is one transform operation of a preset pipeline.
type Step struct {
	Op     string         `json:"op" yaml:"op"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

func (s Step) String() string {
	return fmt.Sprintf("%s%v", s.Op, s.Params)
}

// Preset is an ordered list of steps applied left to right.
type Preset []Step

// OwnerConfig describes how one owner type stores its images.
type OwnerConfig struct {
	// Table is the metadata table name. All owner types share the one
	// table the repository is bound to, so a non-empty value must match it.
	Table string `json:"table" yaml:"table"`
	// Path is the filesystem root the owner's files live under. Used by the
	// path-prefix URL strategy. With filesystem storage it must be the
	// storage root and defaults to it.
	Path    string                  `json:"path" yaml:"path"`
	Fields  map[string]Multiplicity `json:"fields" yaml:"fields"`
	Presets map[string]Preset       `json:"presets" yaml:"presets"`
	// Quality is applied to all presets on a 0-100 scale. Nil means
	// DefaultQuality.
	Quality *int `json:"quality,omitempty" yaml:"quality,omitempty"`
}

// DefaultQuality is used when an owner omits quality.
const DefaultQuality = 100

// EffectiveQuality returns the configured quality or DefaultQuality.
func (c OwnerConfig) EffectiveQuality() int {
	if c.Quality == nil {
		return DefaultQuality
	}
	return *c.Quality
}

// Multiplicity returns the multiplicity of field and whether it is configured.
func (c OwnerConfig) Multiplicity(field string) (Multiplicity, bool) {
	m, ok := c.Fields[field]
	return m, ok
}

// Validate checks field multiplicities, quality range and preset shape.
func (c OwnerConfig) Validate() error {
	for name, m := range c.Fields {
		if !m.Valid() {
			return fmt.Errorf("field %q: invalid multiplicity %q (use %q or %q)", name, m, One, Many)
		}
	}
	if c.Quality != nil && (*c.Quality < 0 || *c.Quality > 100) {
		return fmt.Errorf("quality %d out of range 0-100", *c.Quality)
	}
	for name, p := range c.Presets {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("invalid preset name %q", name)
		}
		if len(p) == 0 {
			return fmt.Errorf("preset %q has no steps", name)
		}
		for i, s := range p {
			if s.Op == "" {
				return fmt.Errorf("preset %q step %d: missing op", name, i)
			}
		}
	}
	return nil
}

// OwnerRef identifies the owner record being saved or deleted.
type OwnerRef struct {
	Type string
	Key  uint64
	// New is true when the owner record is being inserted rather than updated.
	New bool
}

func (o OwnerRef) String() string {
	return fmt.Sprintf("%s#%d", o.Type, o.Key)
}

// Upload is one item of an upload payload. Exactly one of TempPath,
// LocalPath or Reference is expected to be set.
type Upload struct {
	// OriginalName is the client file name; only its extension is kept.
	OriginalName string
	// TempPath is a temporary upload file; it is moved into storage.
	TempPath string
	// LocalPath is a trusted local file; it is copied and left in place.
	// Never fill it from client input.
	LocalPath string
	// Reference is the stored filename of a file of the same owner type, as
	// in Attachment.Filename; it is copied. It is only resolved in the blob
	// store.
	Reference string
}

// Payload maps field names to upload items. One-valued fields use a single
// element.
type Payload map[string][]Upload

// StoredFile is the result of ContentStore.Store.
type StoredFile struct {
	Filename  string
	Key       string
	SizeBytes int64
	Mime      string
	CreatedAt time.Time
	// Deduplicated is true when the destination already existed.
	Deduplicated bool
}

// ListAttachmentsParams filters Repository.ListAttachments. Nil fields are
// not filtered.
type ListAttachmentsParams struct {
	OwnerType string
	OwnerKey  *uint64
	Field     *string
	Filename  *string
	Limit     *int
	Offset    *int
}

// ListOption configures ListAttachmentsParams.
type ListOption func(*ListAttachmentsParams)

// WithOwnerKey filters by owner key.
func WithOwnerKey(key uint64) ListOption {
	return func(p *ListAttachmentsParams) {
		p.OwnerKey = &key
	}
}

// WithField filters by field name.
func WithField(field string) ListOption {
	return func(p *ListAttachmentsParams) {
		p.Field = &field
	}
}

// WithFilename filters by content filename.
func WithFilename(filename string) ListOption {
	return func(p *ListAttachmentsParams) {
		p.Filename = &filename
	}
}

// WithPagination sets both limit and offset
func WithPagination(limit, offset int) ListOption {
	return func(p *ListAttachmentsParams) {
		p.Limit = &limit
		p.Offset = &offset
	}
}

// NewListParams builds list parameters for an owner type.
func NewListParams(ownerType string, opts ...ListOption) ListAttachmentsParams {
	p := ListAttachmentsParams{OwnerType: ownerType}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
