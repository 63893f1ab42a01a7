package registry

import (
	"context"
	"log/slog"

	coreregistry "github.com/artpar/preflight/internal/core/registry"
)

// =============================================================================
// Tag Resolver
// =============================================================================

// TagLister is the registry surface resolution needs.
type TagLister interface {
	ListTags(ctx context.Context, repo string) ([]string, error)
	TagExists(ctx context.Context, repo, tag string) (bool, error)
}

// Resolver picks exactly one tag per image per run. Resolutions are cached
// per image name for the lifetime of the resolver (one provisioning run), so
// retries reuse the resolved tag; there is no cross-run or cross-image
// sharing.
type Resolver struct {
	registry TagLister
	logger   *slog.Logger
	resolved map[string]string
}

// NewResolver creates a per-run tag resolver.
func NewResolver(registry TagLister, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		registry: registry,
		logger:   logger.With("component", "tag_resolver"),
		resolved: make(map[string]string),
	}
}

// ResolveTag resolves the tag to pull for an image.
//
// With useLatest false the pinned literal is returned unconditionally and no
// network call is made. With useLatest true, "latest" is probed directly
// first (the cheapest round trip); only when it is absent is the full
// listing fetched and the selection rules applied. When nothing yields a
// tag, the literal "latest" is the final fallback, with a warning.
func (r *Resolver) ResolveTag(ctx context.Context, imageName string, useLatest bool) (string, error) {
	if !useLatest {
		return coreregistry.PinnedTag, nil
	}

	if tag, ok := r.resolved[imageName]; ok {
		return tag, nil
	}

	tag, err := r.resolve(ctx, imageName)
	if err != nil {
		return "", err
	}
	r.resolved[imageName] = tag
	return tag, nil
}

// ForceResolve discards any cached resolution for the image and resolves
// again.
func (r *Resolver) ForceResolve(ctx context.Context, imageName string, useLatest bool) (string, error) {
	delete(r.resolved, imageName)
	return r.ResolveTag(ctx, imageName, useLatest)
}

func (r *Resolver) resolve(ctx context.Context, imageName string) (string, error) {
	exists, err := r.registry.TagExists(ctx, imageName, "latest")
	if err != nil {
		return "", err
	}
	if exists {
		r.logger.Debug("resolved tag via direct probe", "image", imageName, "tag", "latest")
		return "latest", nil
	}

	listing, err := r.registry.ListTags(ctx, imageName)
	if err != nil {
		return "", err
	}

	if tag, ok := coreregistry.SelectTag(listing); ok {
		r.logger.Debug("resolved tag from listing", "image", imageName, "tag", tag, "listing_size", len(listing))
		return tag, nil
	}

	r.logger.Warn("no tag could be selected, falling back to literal latest", "image", imageName)
	return "latest", nil
}
