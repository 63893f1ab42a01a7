// Package pipeline sequences the provisioning stages: certificate, registry
// authentication, image acquisition, service activation, and run recording.
// The pipeline is single-threaded and sequential; every stage failure is
// surfaced as a StageError carrying its class and remediation.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/preflight/internal/core/compose"
	"github.com/artpar/preflight/internal/core/domain"
	"github.com/artpar/preflight/internal/shell/images"
	"github.com/artpar/preflight/internal/shell/store"
)

// =============================================================================
// Stage Names
// =============================================================================

const (
	StageCertificate = "certificate"
	StageAuth        = "registry-auth"
	StageImages      = "image-acquisition"
	StageActivation  = "service-activation"
)

// =============================================================================
// Collaborators
// =============================================================================

// CertProvisioner produces a valid certificate bundle for a domain.
type CertProvisioner interface {
	Provision(ctx context.Context, domainName string) (domain.CertificateBundle, error)
}

// ExpirationChecker classifies the remaining validity window of a bundle.
type ExpirationChecker interface {
	Expiration(bundle domain.CertificateBundle) (domain.ExpirationCheck, bool)
}

// Authenticator establishes a registry session from a credential.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*domain.RegistrySession, error)
}

// ImageAcquirer brings every manifest image to the local engine.
type ImageAcquirer interface {
	PullAll(ctx context.Context, manifest *images.Manifest, useLatest bool) domain.PullSummary
	ValidateAll(ctx context.Context, manifest *images.Manifest, useLatest bool) ([]domain.ImageReference, error)
}

// Activator drives declared services to healthy.
type Activator interface {
	Preflight(ctx context.Context, decl *compose.Declaration, bundle domain.CertificateBundle, domainName string) error
	Activate(ctx context.Context, decl *compose.Declaration) (domain.ActivationOutcome, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config is one run's inputs.
type Config struct {
	// Domain the certificate must cover.
	Domain string

	// Credential is the registry access token.
	Credential string

	// UseLatest switches tag resolution from the pinned tag to the
	// latest-selection rules.
	UseLatest bool

	// AllowMissingImages lets the run continue to activation when some
	// pulls failed.
	AllowMissingImages bool
}

// Result is the terminal report of one pipeline run.
type Result struct {
	RunID      string
	Bundle     domain.CertificateBundle
	Session    *domain.RegistrySession
	Pulls      domain.PullSummary
	Activation domain.ActivationOutcome

	// RenewalAdvice is set when the provisioned bundle is inside the
	// renewal window.
	RenewalAdvice string
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline runs the stages in order against one engine and one registry.
type Pipeline struct {
	certs      CertProvisioner
	expiration ExpirationChecker
	registry   Authenticator
	acquirer   ImageAcquirer
	activator  Activator
	manifest   *images.Manifest
	decl       *compose.Declaration
	history    store.Store
	logger     *slog.Logger

	now func() time.Time
}

// New assembles a pipeline. history may be nil to skip run recording.
func New(
	certs CertProvisioner,
	expiration ExpirationChecker,
	registry Authenticator,
	acquirer ImageAcquirer,
	activator Activator,
	manifest *images.Manifest,
	decl *compose.Declaration,
	history store.Store,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		certs:      certs,
		expiration: expiration,
		registry:   registry,
		acquirer:   acquirer,
		activator:  activator,
		manifest:   manifest,
		decl:       decl,
		history:    history,
		logger:     logger.With("component", "pipeline"),
		now:        time.Now,
	}
}

// Run executes the full sequence. The run record is persisted in every case,
// including failures; the registry session is never written anywhere.
func (p *Pipeline) Run(ctx context.Context, cfg Config) (*Result, error) {
	record := &domain.RunRecord{
		ID:        uuid.New().String(),
		Domain:    cfg.Domain,
		UseLatest: cfg.UseLatest,
		Phase:     domain.PhaseNotStarted,
		StartedAt: p.now().UTC(),
	}
	p.recordStart(ctx, record)

	result := &Result{RunID: record.ID}
	err := p.run(ctx, cfg, result, record)

	finished := p.now().UTC()
	record.FinishedAt = &finished
	if err != nil {
		record.ErrorMessage = err.Error()
	}
	p.recordFinish(ctx, record)

	if err != nil {
		return result, err
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, cfg Config, result *Result, record *domain.RunRecord) error {
	// Stage 1: certificate. Total strategy exhaustion is fatal.
	bundle, err := p.certs.Provision(ctx, cfg.Domain)
	if err != nil {
		return p.stageError(StageCertificate, err)
	}
	result.Bundle = bundle
	record.CertStrategy = bundle.Strategy
	p.adviseRenewal(result)

	// Stage 2: registry authentication.
	session, err := p.registry.Authenticate(ctx, cfg.Credential)
	if err != nil {
		return p.stageError(StageAuth, err)
	}
	result.Session = session
	p.logger.Info("registry session established",
		"principal", session.Principal, "scope", session.Scope)

	// Advisory sweep: report which manifest images are absent locally. The
	// outcome never gates the run; the pull stage settles it.
	if missing, verr := p.acquirer.ValidateAll(ctx, p.manifest, cfg.UseLatest); verr != nil {
		p.logger.Warn("image existence sweep failed", "error", verr)
	} else {
		for _, ref := range missing {
			p.logger.Info("image absent locally, will pull", "image", ref.String())
		}
	}

	// Stage 3: image acquisition. Partial failure is terminal unless the
	// caller allows activation with missing images.
	summary := p.acquirer.PullAll(ctx, p.manifest, cfg.UseLatest)
	result.Pulls = summary
	record.PullSuccesses = summary.Successes
	record.PullFailures = summary.Failures

	if summary.AllFailed() {
		return p.stageError(StageImages, domain.ErrAllPullsFailed)
	}
	if summary.Failures > 0 && !cfg.AllowMissingImages {
		return p.stageError(StageImages, domain.ErrPreflightFailed)
	}

	// Stage 4: activation.
	if err := p.activator.Preflight(ctx, p.decl, bundle, cfg.Domain); err != nil {
		return p.stageError(StageActivation, err)
	}
	outcome, err := p.activator.Activate(ctx, p.decl)
	result.Activation = outcome
	record.Phase = outcome.Phase
	record.Healthy = outcome.Healthy
	record.Total = outcome.Total
	if err != nil {
		return p.stageError(StageActivation, err)
	}

	p.logger.Info("pipeline finished",
		"run", record.ID,
		"phase", outcome.Phase,
		"healthy", outcome.Healthy,
		"total", outcome.Total,
	)
	return nil
}

// adviseRenewal surfaces the renewal window without failing the run.
func (p *Pipeline) adviseRenewal(result *Result) {
	if p.expiration == nil {
		return
	}
	check, ok := p.expiration.Expiration(result.Bundle)
	if !ok {
		return
	}
	switch check.Status {
	case domain.ExpirationRenewNow:
		result.RenewalAdvice = "certificate expires within 7 days, renew now"
	case domain.ExpirationRenewSoon:
		result.RenewalAdvice = "certificate expires within 30 days, plan renewal"
	}
	if result.RenewalAdvice != "" {
		p.logger.Warn("certificate renewal advised",
			"days_remaining", check.DaysRemaining)
	}
}

// stageError wraps a stage failure with its class and remediation. An error
// that already is a StageError passes through unchanged.
func (p *Pipeline) stageError(stage string, err error) error {
	var se *domain.StageError
	if errors.As(err, &se) {
		return err
	}

	class := classify(err)
	p.logger.Error("stage failed", "stage", stage, "class", class, "error", err)
	return domain.NewStageError(stage, class, err)
}

// classify maps known sentinels to failure classes; anything unmatched is
// unknown.
func classify(err error) domain.FailureClass {
	switch {
	case errors.Is(err, domain.ErrMalformedCredential),
		errors.Is(err, domain.ErrBindingOverlap),
		errors.Is(err, compose.ErrInvalidYAML),
		errors.Is(err, compose.ErrEmptyDeclaration):
		return domain.FailureValidation

	case errors.Is(err, domain.ErrAuthenticationFailed),
		errors.Is(err, domain.ErrTagNotFound),
		errors.Is(err, domain.ErrNoValidCertificate),
		errors.Is(err, domain.ErrActivationAborted):
		return domain.FailurePermanent

	case errors.Is(err, domain.ErrEngineUnreachable),
		errors.Is(err, domain.ErrAllPullsFailed),
		errors.Is(err, domain.ErrPreflightFailed):
		return domain.FailureTransient
	}
	return domain.FailureUnknown
}

// =============================================================================
// Run Recording
// =============================================================================

func (p *Pipeline) recordStart(ctx context.Context, record *domain.RunRecord) {
	if p.history == nil {
		return
	}
	if err := p.history.CreateRun(ctx, record); err != nil {
		p.logger.Warn("could not record run start", "run", record.ID, "error", err)
	}
}

func (p *Pipeline) recordFinish(ctx context.Context, record *domain.RunRecord) {
	if p.history == nil {
		return
	}
	if err := p.history.FinishRun(ctx, record); err != nil {
		p.logger.Warn("could not record run finish", "run", record.ID, "error", err)
	}
}
