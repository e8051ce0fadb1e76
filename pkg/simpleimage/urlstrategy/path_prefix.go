package urlstrategy

import (
	"context"
	"strings"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// PathPrefixStrategy serves files straight from the web root. The owner's
// configured storage path has BasePath replaced by PublicPrefix, so an owner
// stored under /var/www/img with BasePath /var/www renders as /img/...
type PathPrefixStrategy struct {
	Registry     *simpleimage.Registry
	BasePath     string
	PublicPrefix string
}

// NewPathPrefixStrategy creates a path-prefix strategy. registry may be nil,
// in which case every owner renders under publicPrefix.
func NewPathPrefixStrategy(registry *simpleimage.Registry, basePath, publicPrefix string) *PathPrefixStrategy {
	return &PathPrefixStrategy{
		Registry:     registry,
		BasePath:     strings.TrimSuffix(basePath, "/"),
		PublicPrefix: strings.TrimSuffix(publicPrefix, "/"),
	}
}

func (s *PathPrefixStrategy) URL(ctx context.Context, att *simpleimage.Attachment, preset string) (string, error) {
	if empty(att) {
		return "", nil
	}
	return join(s.prefix(att.OwnerType), att, preset), nil
}

func (s *PathPrefixStrategy) prefix(ownerType string) string {
	if s.Registry == nil {
		return s.PublicPrefix
	}
	cfg, err := s.Registry.Owner(ownerType)
	if err != nil || cfg.Path == "" {
		return s.PublicPrefix
	}
	path := strings.TrimSuffix(cfg.Path, "/")
	if s.BasePath != "" && (path == s.BasePath || strings.HasPrefix(path, s.BasePath+"/")) {
		return s.PublicPrefix + strings.TrimPrefix(path, s.BasePath)
	}
	return s.PublicPrefix
}
