// Package urlstrategy renders public URLs for stored images and their
// preset variants.
package urlstrategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// URLStrategy produces the public URL of an attachment. An empty preset
// addresses the original file.
type URLStrategy interface {
	URL(ctx context.Context, att *simpleimage.Attachment, preset string) (string, error)
}

// StrategyType names a URL strategy.
type StrategyType string

const (
	StrategyTypePathPrefix       StrategyType = "path-prefix"
	StrategyTypeCDN              StrategyType = "cdn"
	StrategyTypeStorageDelegated StrategyType = "storage-delegated"
)

// Config holds the inputs of NewURLStrategy.
type Config struct {
	Type StrategyType

	// Path-prefix strategy
	Registry     *simpleimage.Registry
	BasePath     string
	PublicPrefix string

	// CDN strategy
	CDNBaseURL string

	// Storage-delegated strategy
	BlobStore simpleimage.BlobStore
}

// NewURLStrategy creates a URL strategy based on the configuration
func NewURLStrategy(config Config) (URLStrategy, error) {
	switch config.Type {
	case StrategyTypePathPrefix, "":
		return NewPathPrefixStrategy(config.Registry, config.BasePath, config.PublicPrefix), nil
	case StrategyTypeCDN:
		if config.CDNBaseURL == "" {
			return nil, fmt.Errorf("CDN base URL is required for CDN strategy")
		}
		return NewCDNStrategy(config.CDNBaseURL), nil
	case StrategyTypeStorageDelegated:
		if config.BlobStore == nil {
			return nil, fmt.Errorf("blob store is required for storage-delegated strategy")
		}
		return NewStorageDelegatedStrategy(config.BlobStore), nil
	default:
		return nil, fmt.Errorf("unknown URL strategy type: %s", config.Type)
	}
}

func join(prefix string, att *simpleimage.Attachment, preset string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + simpleimage.ObjectKey(att.OwnerType, preset, att.Filename)
}

func empty(att *simpleimage.Attachment) bool {
	return att == nil || att.Filename == ""
}
