package images

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/preflight/internal/core/domain"
	"github.com/artpar/preflight/internal/core/pull"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// LocalEngine is the container engine surface acquisition needs: local
// presence checks and streamed pulls.
type LocalEngine interface {
	ImageExists(ctx context.Context, image string) (bool, error)
	PullImage(ctx context.Context, image string) (output string, err error)
}

// RemoteProber probes the registry for manifest existence without
// downloading anything.
type RemoteProber interface {
	TagExists(ctx context.Context, repo, tag string) (bool, error)
}

// TagResolver resolves exactly one tag per image per run.
type TagResolver interface {
	ResolveTag(ctx context.Context, imageName string, useLatest bool) (string, error)
}

// =============================================================================
// Engine
// =============================================================================

// Config holds acquisition tuning. Attempts and intervals are injectable so
// tests run without real delays.
type Config struct {
	// RegistryHost, when set, prefixes image names for the engine pull
	// (e.g. "registry.example.com").
	RegistryHost string

	// PullAttempts bounds attempts per tag. Only transient (network)
	// failures are retried; permanent ones surface immediately.
	PullAttempts int

	// RetryWait is the pause between pull attempts.
	RetryWait time.Duration
}

// Engine acquires images: resolve, skip-if-present, pull, classify, fall
// back.
type Engine struct {
	docker   LocalEngine
	registry RemoteProber
	resolver TagResolver
	cfg      Config
	logger   *slog.Logger

	// sleep is swapped out in tests
	sleep func(time.Duration)
}

// NewEngine creates an acquisition engine.
func NewEngine(docker LocalEngine, registry RemoteProber, resolver TagResolver, cfg Config, logger *slog.Logger) *Engine {
	if cfg.PullAttempts == 0 {
		cfg.PullAttempts = 3
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		docker:   docker,
		registry: registry,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With("component", "image_engine"),
		sleep:    time.Sleep,
	}
}

// fullName renders the engine-facing image name.
func (e *Engine) fullName(ref domain.ImageReference) string {
	if e.cfg.RegistryHost == "" {
		return ref.String()
	}
	return e.cfg.RegistryHost + "/" + ref.String()
}

// =============================================================================
// Existence & Pre-flight
// =============================================================================

// Exists probes the remote manifest for a reference. No download.
func (e *Engine) Exists(ctx context.Context, ref domain.ImageReference) (bool, error) {
	return e.registry.TagExists(ctx, ref.Name, ref.Tag)
}

// ValidateAll sweeps the manifest for remote existence at the resolved tags.
// The result is advisory: callers may proceed despite missing images.
func (e *Engine) ValidateAll(ctx context.Context, manifest *Manifest, useLatest bool) (missing []domain.ImageReference, err error) {
	for _, name := range manifest.Images {
		tag, err := e.resolver.ResolveTag(ctx, name, useLatest)
		if err != nil {
			return nil, err
		}
		ref := domain.ImageReference{Name: name, Tag: tag}
		exists, err := e.Exists(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, ref)
		}
	}
	return missing, nil
}

// =============================================================================
// Pull
// =============================================================================

// Pull acquires one reference. Present-locally short-circuits to a skip
// (local inspection only). Failures carry the raw captured output next to
// the classification; transient failures get bounded retries.
func (e *Engine) Pull(ctx context.Context, ref domain.ImageReference) domain.PullResult {
	name := e.fullName(ref)

	present, err := e.docker.ImageExists(ctx, name)
	if err == nil && present {
		e.logger.Debug("image already present, skipping pull", "image", name)
		return domain.PullResult{Ref: ref, Outcome: domain.PullSkipped}
	}

	var output string
	var lastErr error
	for attempt := 1; attempt <= e.cfg.PullAttempts; attempt++ {
		e.logger.Info("pulling image", "image", name, "attempt", attempt)

		output, lastErr = e.docker.PullImage(ctx, name)
		if lastErr == nil {
			return domain.PullResult{Ref: ref, Outcome: domain.PullSucceeded, Output: output}
		}

		class := pull.Classify(output + "\n" + lastErr.Error())
		if class.FailureClass() != domain.FailureTransient || attempt == e.cfg.PullAttempts {
			return domain.PullResult{
				Ref:     ref,
				Outcome: domain.PullFailed,
				Class:   class.FailureClass(),
				Output:  output + "\n" + lastErr.Error(),
				Err:     lastErr,
			}
		}

		e.logger.Warn("transient pull failure, retrying", "image", name, "attempt", attempt, "error", lastErr)
		e.sleep(e.cfg.RetryWait)
	}

	// Unreachable: the loop always returns. Kept for the compiler.
	return domain.PullResult{Ref: ref, Outcome: domain.PullFailed, Err: lastErr, Output: output}
}

// PullWithFallback tries the resolved tag first, then the ordered fallback
// chain derived from its shape. A fallback candidate counts only when both
// the remote existence probe and the pull succeed.
func (e *Engine) PullWithFallback(ctx context.Context, imageName, primaryTag string) domain.PullResult {
	var last domain.PullResult

	for i, tag := range pull.FallbackTags(primaryTag) {
		ref := domain.ImageReference{Name: imageName, Tag: tag}

		if i > 0 { // the primary was already probed during resolution
			exists, err := e.Exists(ctx, ref)
			if err != nil || !exists {
				e.logger.Debug("fallback tag absent", "image", imageName, "tag", tag)
				continue
			}
			e.logger.Info("falling back to alternate tag", "image", imageName, "tag", tag)
		}

		result := e.Pull(ctx, ref)
		if result.Outcome != domain.PullFailed {
			return result
		}
		last = result
	}

	if last.Ref.Name == "" {
		last = domain.PullResult{
			Ref:     domain.ImageReference{Name: imageName, Tag: primaryTag},
			Outcome: domain.PullFailed,
			Class:   domain.FailurePermanent,
			Err:     fmt.Errorf("no fallback tag exists for %s", imageName),
		}
	}
	return last
}

// PullAll acquires every image in the manifest independently: one failure
// never aborts the rest, and partial success is a valid end state. The
// summary carries remediation hints keyed by the failure classes observed.
func (e *Engine) PullAll(ctx context.Context, manifest *Manifest, useLatest bool) domain.PullSummary {
	var results []domain.PullResult

	for _, name := range manifest.Images {
		tag, err := e.resolver.ResolveTag(ctx, name, useLatest)
		if err != nil {
			e.logger.Error("tag resolution failed", "image", name, "error", err)
			results = append(results, domain.PullResult{
				Ref:     domain.ImageReference{Name: name},
				Outcome: domain.PullFailed,
				Class:   domain.FailureTransient,
				Output:  err.Error(),
				Err:     err,
			})
			continue
		}
		results = append(results, e.PullWithFallback(ctx, name, tag))
	}

	summary := pull.Summarize(results)
	e.logger.Info("image acquisition finished",
		"successes", summary.Successes,
		"failures", summary.Failures,
		"total", len(manifest.Images),
	)
	return summary
}
