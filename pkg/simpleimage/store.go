package simpleimage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Source is where ContentStore reads upload bytes from: a local file or an
// object already present in the blob store.
type Source struct {
	Path string
	Key  string
}

// SourcePath reads from a local file.
func SourcePath(path string) Source {
	return Source{Path: path}
}

// SourceKey reads from an existing blob store object.
func SourceKey(key string) Source {
	return Source{Key: key}
}

func (s Source) String() string {
	if s.Path != "" {
		return s.Path
	}
	return s.Key
}

// ContentStore places upload bytes in the blob store under a
// content-addressed filename.
type ContentStore struct {
	blobs   BlobStore
	newHash func() hash.Hash
	logger  *slog.Logger
	hooks   *Hooks
	now     func() time.Time
}

// NewContentStore creates a store over blobs hashing with SHA-256.
func NewContentStore(blobs BlobStore, logger *slog.Logger) *ContentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentStore{
		blobs:   blobs,
		newHash: sha256.New,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the object key of a file or one of its preset variants.
func (s *ContentStore) Path(ownerType, preset, filename string) string {
	return ObjectKey(ownerType, preset, filename)
}

// Filename derives the stored filename from a digest and the original name.
func Filename(digest []byte, originalName string) string {
	name := hex.EncodeToString(digest)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalName), "."))
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// Store hashes src, and places it at {ownerType}/{filename} unless that key
// already exists. TransferMove removes a local source afterwards, including
// when the content was already stored.
func (s *ContentStore) Store(ctx context.Context, ownerType, originalName string, src Source, mode TransferMode) (*StoredFile, error) {
	if originalName == "" {
		originalName = filepath.Base(src.String())
	}

	digest, size, mime, err := s.scan(ctx, src)
	if err != nil {
		return nil, &StorageError{Key: src.String(), Op: "read", Err: err}
	}

	filename := Filename(digest, originalName)
	key := ObjectKey(ownerType, "", filename)
	file := &StoredFile{
		Filename:  filename,
		Key:       key,
		SizeBytes: size,
		Mime:      mime,
		CreatedAt: s.now(),
	}

	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return nil, &StorageError{Key: key, Op: "exists", Err: err}
	}

	switch {
	case exists:
		file.Deduplicated = true
		s.logger.DebugContext(ctx, "content already stored", "key", key)
	case mode == TransferMove && src.Path != "":
		if err := s.move(ctx, key, src.Path, mime); err != nil {
			return nil, &StorageError{Key: key, Op: "move", Err: err}
		}
	default:
		if err := s.copy(ctx, key, src, mime); err != nil {
			return nil, &StorageError{Key: key, Op: "copy", Err: err}
		}
	}

	if mode == TransferMove && src.Path != "" {
		if err := os.Remove(src.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.WarnContext(ctx, "failed to remove upload source", "path", src.Path, "err", err)
		}
	}

	s.hooks.executeAfterStore(ctx, ownerType, file)
	return file, nil
}

// scan reads src once, returning its digest, size and sniffed mime type.
func (s *ContentStore) scan(ctx context.Context, src Source) ([]byte, int64, string, error) {
	r, err := s.open(ctx, src)
	if err != nil {
		return nil, 0, "", err
	}
	defer r.Close()

	h := s.newHash()
	head := &headBuffer{}
	size, err := io.Copy(io.MultiWriter(h, head), r)
	if err != nil {
		return nil, 0, "", err
	}
	return h.Sum(nil), size, http.DetectContentType(head.buf), nil
}

func (s *ContentStore) open(ctx context.Context, src Source) (io.ReadCloser, error) {
	switch {
	case src.Path != "":
		f, err := os.Open(src.Path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, src.Path)
		}
		return f, err
	case src.Key != "":
		rc, err := s.blobs.Download(ctx, src.Key)
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, src.Key)
		}
		return rc, err
	default:
		return nil, ErrSourceMissing
	}
}

func (s *ContentStore) move(ctx context.Context, key, path, mime string) error {
	if mover, ok := s.blobs.(LocalMover); ok {
		return mover.MoveFrom(ctx, key, path)
	}
	return s.copy(ctx, key, SourcePath(path), mime)
}

func (s *ContentStore) copy(ctx context.Context, key string, src Source, mime string) error {
	r, err := s.open(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close()
	return s.blobs.UploadWithParams(ctx, r, UploadParams{ObjectKey: key, MimeType: mime})
}

// Reclaim deletes the original and every listed preset variant of filename.
// Objects that are already gone are ignored.
func (s *ContentStore) Reclaim(ctx context.Context, ownerType, filename string, presets []string) error {
	keys := make([]string, 0, len(presets)+1)
	keys = append(keys, ObjectKey(ownerType, "", filename))
	for _, preset := range presets {
		keys = append(keys, ObjectKey(ownerType, preset, filename))
	}

	var errs error
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				continue
			}
			errs = multierr.Append(errs, &StorageError{Key: key, Op: "delete", Err: err})
			continue
		}
		s.logger.DebugContext(ctx, "reclaimed object", "key", key)
	}
	return errs
}

const sniffLen = 512

// headBuffer keeps the first sniffLen bytes written to it.
type headBuffer struct {
	buf []byte
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if rem := sniffLen - len(h.buf); rem > 0 {
		if len(p) < rem {
			rem = len(p)
		}
		h.buf = append(h.buf, p[:rem]...)
	}
	return len(p), nil
}
