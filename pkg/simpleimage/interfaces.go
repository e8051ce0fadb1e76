package simpleimage

import (
	"context"
	"io"
	"time"
)

// BlobStore holds originals and variants under {ownerType}/[{preset}/]{filename} keys.
type BlobStore interface {
	// Exists reports whether an object is stored under objectKey
	Exists(ctx context.Context, objectKey string) (bool, error)

	// Upload writes reader to objectKey, replacing any existing object.
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams is Upload with a content type.
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download opens objectKey for reading. Missing objects yield ErrObjectNotFound.
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete removes objectKey. Missing objects yield ErrObjectNotFound.
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta returns the stored metadata of objectKey.
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)

	// GetDownloadURL returns a URL a browser can fetch objectKey from.
	GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error)
}

// LocalMover is implemented by blob stores that can adopt a local file
// without copying it (the filesystem backend renames it).
type LocalMover interface {
	MoveFrom(ctx context.Context, objectKey string, localPath string) error
}

// Repository persists attachment rows.
type Repository interface {
	CreateAttachment(ctx context.Context, attachment *Attachment) error
	GetAttachment(ctx context.Context, id uint64) (*Attachment, error)
	ListAttachments(ctx context.Context, params ListAttachmentsParams) ([]*Attachment, error)
	DeleteAttachment(ctx context.Context, id uint64) error

	// CountByFilename counts rows of ownerType referencing filename, ignoring
	// the row with id excludeID.
	CountByFilename(ctx context.Context, ownerType, filename string, excludeID uint64) (int64, error)

	// InTx runs fn inside a transaction. The Repository passed to fn is
	// bound to that transaction; returning an error rolls back.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

// Transformer applies preset steps to an encoded image.
type Transformer interface {
	// Transform decodes src, runs steps left to right and encodes the result
	// to dst using enc.
	Transform(ctx context.Context, dst io.Writer, src io.Reader, steps []Step, enc Encoding) error

	// Supports reports whether op is a known operation
	Supports(op string) bool
}

// Encoding selects the output format and its library-native quality.
type Encoding struct {
	Format  string
	Quality int
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// UploadParams names the destination key and content type of an upload.
type UploadParams struct {
	ObjectKey string
	MimeType  string
}
