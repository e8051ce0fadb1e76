package urlstrategy

import (
	"context"
	"fmt"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// StorageDelegatedStrategy asks the blob store for the URL. S3 returns a
// presigned link, the filesystem backend its public prefix.
type StorageDelegatedStrategy struct {
	BlobStore simpleimage.BlobStore
}

// NewStorageDelegatedStrategy creates a new storage-delegated URL strategy
func NewStorageDelegatedStrategy(blobStore simpleimage.BlobStore) *StorageDelegatedStrategy {
	return &StorageDelegatedStrategy{BlobStore: blobStore}
}

func (s *StorageDelegatedStrategy) URL(ctx context.Context, att *simpleimage.Attachment, preset string) (string, error) {
	if empty(att) {
		return "", nil
	}
	u, err := s.BlobStore.GetDownloadURL(ctx, att.VariantKey(preset), "")
	if err != nil {
		return "", fmt.Errorf("failed to get download URL for %s: %w", att.VariantKey(preset), err)
	}
	return u, nil
}
