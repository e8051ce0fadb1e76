package urlstrategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// CDNStrategy points directly at a CDN mirroring the blob store layout.
type CDNStrategy struct {
	BaseURL string // e.g. "https://cdn.example.com"
}

// NewCDNStrategy creates a new CDN URL strategy
func NewCDNStrategy(baseURL string) *CDNStrategy {
	return &CDNStrategy{BaseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *CDNStrategy) URL(ctx context.Context, att *simpleimage.Attachment, preset string) (string, error) {
	if empty(att) {
		return "", nil
	}
	if s.BaseURL == "" {
		return "", fmt.Errorf("CDN base URL not configured")
	}
	return join(s.BaseURL, att, preset), nil
}
