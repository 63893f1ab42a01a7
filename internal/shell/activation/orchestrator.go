// Package activation drives services from declared to healthy: pre-flight
// checks, conflict resolution against whatever is already running, ordered
// convergence, and readiness polling. Decisions are pure (internal/core/
// activation); this package owns the engine calls.
package activation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	coreactivation "github.com/artpar/preflight/internal/core/activation"
	"github.com/artpar/preflight/internal/core/compose"
	"github.com/artpar/preflight/internal/core/domain"
	"github.com/artpar/preflight/internal/shell/docker"
)

// =============================================================================
// Collaborators
// =============================================================================

// BundleValidator answers whether a certificate bundle is currently usable.
type BundleValidator interface {
	Validate(bundle domain.CertificateBundle, expectedDomain string) bool
}

// ConflictDecider is consulted when pre-existing managed containers are
// found and an interactive caller wants to choose the resolution. A nil
// decider means the non-interactive policy applies.
type ConflictDecider interface {
	Decide(conflicts []string) domain.ConflictDecision
}

// =============================================================================
// Configuration
// =============================================================================

// Config tunes one activation run. Poll interval, timeout, and clock are all
// injectable so tests never wait.
type Config struct {
	// NetworkName is the deployment network, created when absent.
	NetworkName string

	// NamePrefix prefixes managed container names.
	NamePrefix string

	// PollInterval is the readiness poll cadence.
	PollInterval time.Duration

	// HealthTimeout bounds the whole readiness wait.
	HealthTimeout time.Duration

	// StopTimeout is granted to containers being stopped during conflict
	// resolution.
	StopTimeout time.Duration

	// ForceReplace recreates conflicting containers without asking.
	ForceReplace bool

	// KeepExisting aborts instead of touching conflicting containers.
	KeepExisting bool
}

func (c *Config) applyDefaults() {
	if c.NetworkName == "" {
		c.NetworkName = "preflight"
	}
	if c.NamePrefix == "" {
		c.NamePrefix = "preflight-"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = 300 * time.Second
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 30 * time.Second
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator converges declared services toward healthy on one engine.
type Orchestrator struct {
	engine    docker.Engine
	validator BundleValidator
	decider   ConflictDecider
	cfg       Config
	logger    *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// NewOrchestrator creates an orchestrator. decider may be nil for
// non-interactive runs.
func NewOrchestrator(engine docker.Engine, validator BundleValidator, decider ConflictDecider, cfg Config, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		engine:    engine,
		validator: validator,
		decider:   decider,
		cfg:       cfg,
		logger:    logger.With("component", "activation"),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// =============================================================================
// Pre-flight
// =============================================================================

// Preflight verifies the hard preconditions before any mutation: the engine
// answers, the deployment network exists or is created, the certificate
// bundle validates, and the declaration names at least one service. Any
// failure aborts the run before a single container is touched.
func (o *Orchestrator) Preflight(ctx context.Context, decl *compose.Declaration, bundle domain.CertificateBundle, domainName string) error {
	if err := o.engine.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrEngineUnreachable, err)
	}

	if _, err := o.engine.EnsureNetwork(ctx, o.cfg.NetworkName); err != nil {
		return fmt.Errorf("ensure network %q: %w", o.cfg.NetworkName, err)
	}

	if !o.validator.Validate(bundle, domainName) {
		return fmt.Errorf("%w: bundle at %s does not validate for %q",
			domain.ErrNoValidCertificate, bundle.CertPath, domainName)
	}

	if decl == nil || len(decl.Services) == 0 {
		return compose.ErrEmptyDeclaration
	}

	o.logger.Debug("pre-flight passed",
		"network", o.cfg.NetworkName, "services", len(decl.Services))
	return nil
}

// =============================================================================
// Conflict Handling
// =============================================================================

// DetectConflicts enumerates running containers that carry the managed
// label: anything already occupying this deployment's naming convention.
func (o *Orchestrator) DetectConflicts(ctx context.Context) ([]docker.ContainerInfo, error) {
	containers, err := o.engine.ListContainers(ctx, docker.ListOptions{
		All:     true,
		Filters: map[string]string{"label": docker.LabelManaged + "=true"},
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate managed containers: %w", err)
	}
	return containers, nil
}

// ResolveConflicts applies the chosen decision to the detected containers.
// An interactive decider overrides the configured policy when present, but
// forced replacement is never put to the decider.
func (o *Orchestrator) ResolveConflicts(ctx context.Context, conflicts []docker.ContainerInfo) (domain.ConflictDecision, error) {
	names := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		names = append(names, c.Name)
	}

	var decision domain.ConflictDecision
	if o.decider != nil && len(names) > 0 && !o.cfg.ForceReplace {
		decision = o.decider.Decide(names)
	} else {
		decision = coreactivation.DecideConflict(names, o.cfg.ForceReplace, o.cfg.KeepExisting)
	}

	switch decision {
	case domain.DecisionNone:
		return decision, nil

	case domain.DecisionAbort:
		return decision, fmt.Errorf("%w: %d existing containers kept", domain.ErrActivationAborted, len(conflicts))

	case domain.DecisionStopAndContinue:
		for _, c := range conflicts {
			o.logger.Info("stopping conflicting container", "container", c.Name)
			timeout := o.cfg.StopTimeout
			if err := o.engine.StopContainer(ctx, c.ID, &timeout); err != nil {
				return decision, fmt.Errorf("stop %s: %w", c.Name, err)
			}
		}
		return decision, nil

	case domain.DecisionForceRecreate:
		for _, c := range conflicts {
			o.logger.Info("removing conflicting container", "container", c.Name)
			timeout := o.cfg.StopTimeout
			if err := o.engine.StopContainer(ctx, c.ID, &timeout); err != nil {
				return decision, fmt.Errorf("stop %s: %w", c.Name, err)
			}
			if err := o.engine.RemoveContainer(ctx, c.ID, true); err != nil {
				return decision, fmt.Errorf("remove %s: %w", c.Name, err)
			}
		}
		return decision, nil
	}

	return decision, fmt.Errorf("unknown conflict decision %q", decision)
}

// =============================================================================
// Convergence
// =============================================================================

// Converge brings the engine to the planned state in one pass: orphaned
// managed containers are removed, then each planned service is created or
// started in dependency order.
func (o *Orchestrator) Converge(ctx context.Context, decl *compose.Declaration, plan *domain.ActivationPlan) error {
	byName := make(map[string]compose.Service, len(decl.Services))
	for _, svc := range decl.Services {
		byName[svc.Name] = svc
	}

	if err := o.removeOrphans(ctx, plan); err != nil {
		return err
	}

	for _, desc := range plan.Services {
		svc, ok := byName[desc.Name]
		if !ok {
			return fmt.Errorf("planned service %q missing from declaration", desc.Name)
		}
		if err := o.convergeService(ctx, svc); err != nil {
			return fmt.Errorf("converge %s: %w", desc.Name, err)
		}
	}
	return nil
}

// removeOrphans deletes managed containers belonging to services the plan
// no longer declares.
func (o *Orchestrator) removeOrphans(ctx context.Context, plan *domain.ActivationPlan) error {
	planned := make(map[string]bool, len(plan.Services))
	for _, svc := range plan.Services {
		planned[svc.Name] = true
	}

	existing, err := o.DetectConflicts(ctx)
	if err != nil {
		return err
	}
	for _, c := range existing {
		service := c.Labels[docker.LabelService]
		if planned[service] {
			continue
		}
		o.logger.Info("removing orphaned container", "container", c.Name, "service", service)
		timeout := o.cfg.StopTimeout
		if err := o.engine.StopContainer(ctx, c.ID, &timeout); err != nil {
			return fmt.Errorf("stop orphan %s: %w", c.Name, err)
		}
		if err := o.engine.RemoveContainer(ctx, c.ID, true); err != nil {
			return fmt.Errorf("remove orphan %s: %w", c.Name, err)
		}
	}
	return nil
}

// convergeService creates the service's container when absent, otherwise
// starts it if stopped. A running container is left alone.
func (o *Orchestrator) convergeService(ctx context.Context, svc compose.Service) error {
	existing, err := o.findServiceContainer(ctx, svc.Name)
	if err != nil {
		return err
	}

	if existing != nil {
		if existing.Running() {
			o.logger.Debug("service already running", "service", svc.Name)
			return nil
		}
		o.logger.Info("starting existing container", "service", svc.Name)
		return o.engine.StartContainer(ctx, existing.ID)
	}

	o.logger.Info("creating container", "service", svc.Name, "image", svc.Image)
	id, err := o.engine.CreateContainer(ctx, o.containerSpec(svc))
	if err != nil {
		return err
	}
	return o.engine.StartContainer(ctx, id)
}

func (o *Orchestrator) findServiceContainer(ctx context.Context, serviceName string) (*docker.ContainerInfo, error) {
	containers, err := o.engine.ListContainers(ctx, docker.ListOptions{
		All:     true,
		Filters: map[string]string{"label": docker.LabelService + "=" + serviceName},
	})
	if err != nil {
		return nil, err
	}
	if len(containers) == 0 {
		return nil, nil
	}
	return &containers[0], nil
}

// containerSpec maps a declared service onto the engine's creation spec,
// stamping the management labels used for enumeration.
func (o *Orchestrator) containerSpec(svc compose.Service) docker.ContainerSpec {
	labels := map[string]string{
		docker.LabelManaged: "true",
		docker.LabelService: svc.Name,
	}
	for k, v := range svc.Labels {
		labels[k] = v
	}

	spec := docker.ContainerSpec{
		Name:          o.cfg.NamePrefix + svc.Name,
		Image:         svc.Image,
		Command:       svc.Command,
		Entrypoint:    svc.Entrypoint,
		Env:           svc.Environment,
		Labels:        labels,
		Networks:      []string{o.cfg.NetworkName},
		RestartPolicy: svc.Restart,
	}

	for _, p := range svc.Ports {
		spec.Ports = append(spec.Ports, docker.PortBinding{
			ContainerPort: p.Target,
			HostPort:      p.Published,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}
	for _, m := range svc.Volumes {
		spec.Volumes = append(spec.Volumes, docker.VolumeMount{
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	if hc := svc.HealthCheck; hc != nil {
		spec.HealthCheck = &docker.HealthCheck{
			Test:        hc.Test,
			Interval:    hc.Interval,
			Timeout:     hc.Timeout,
			Retries:     hc.Retries,
			StartPeriod: hc.StartPeriod,
		}
	}
	return spec
}

// =============================================================================
// Readiness
// =============================================================================

// WaitForHealthy polls per-service health until every planned service is
// healthy or the timeout elapses. A timeout is a reported outcome carrying
// the healthy/total fraction, never an error: the caller decides whether a
// partially ready deployment is acceptable.
func (o *Orchestrator) WaitForHealthy(ctx context.Context, plan *domain.ActivationPlan) domain.ActivationOutcome {
	deadline := o.now().Add(o.cfg.HealthTimeout)
	total := len(plan.Services)

	outcome := domain.ActivationOutcome{
		Phase:    domain.PhaseWaitingForHealth,
		Total:    total,
		Decision: plan.Decision,
	}

	for {
		healthy, services := o.observe(ctx, plan.Services)
		outcome.Healthy = healthy
		outcome.Services = services

		if healthy == total {
			outcome.Phase = domain.PhaseHealthy
			o.logger.Info("all services healthy", "total", total)
			return outcome
		}

		if err := ctx.Err(); err != nil {
			outcome.Phase = domain.PhaseFailed
			return outcome
		}
		if !o.now().Before(deadline) {
			outcome.Phase = domain.PhaseTimedOut
			o.logger.Warn("health wait timed out",
				"healthy", healthy, "total", total, "fraction", outcome.ReadinessFraction())
			return outcome
		}

		o.logger.Debug("waiting for health", "healthy", healthy, "total", total)
		o.sleep(o.cfg.PollInterval)
	}
}

// observe reads one readiness snapshot for the planned services. Listing
// locates each service's container; health only comes back from a full
// inspect, so every found container is inspected.
func (o *Orchestrator) observe(ctx context.Context, services []domain.ServiceDescriptor) (int, []domain.ServiceHealth) {
	observations := make([]coreactivation.Observation, 0, len(services))
	for _, desc := range services {
		obs := coreactivation.Observation{Name: desc.Name, HasHealth: desc.HasHealthCheck}

		if found, err := o.findServiceContainer(ctx, desc.Name); err == nil && found != nil {
			if info, err := o.engine.InspectContainer(ctx, found.ID); err == nil {
				obs.Running = info.Running()
				obs.Health = info.Health
			}
		}
		observations = append(observations, obs)
	}
	return coreactivation.Aggregate(observations)
}

// =============================================================================
// Activate
// =============================================================================

// Activate is the full run: detect and resolve conflicts, build the ordered
// plan, converge, and wait for health. The returned outcome is terminal for
// this run; only precondition and engine errors surface as errors.
func (o *Orchestrator) Activate(ctx context.Context, decl *compose.Declaration) (domain.ActivationOutcome, error) {
	outcome := domain.ActivationOutcome{Phase: domain.PhaseNotStarted}

	conflicts, err := o.DetectConflicts(ctx)
	if err != nil {
		outcome.Phase = domain.PhaseFailed
		return outcome, err
	}

	var conflictNames []string
	if len(conflicts) > 0 {
		outcome.Phase = domain.PhaseConflictDetected
		for _, c := range conflicts {
			conflictNames = append(conflictNames, c.Name)
		}
	}

	decision, err := o.ResolveConflicts(ctx, conflicts)
	outcome.Decision = decision
	if err != nil {
		outcome.Phase = domain.PhaseFailed
		return outcome, err
	}
	if len(conflicts) > 0 {
		outcome.Phase = domain.PhaseConflictResolved
	}

	plan, err := coreactivation.BuildPlan(decl.Descriptors(), decision, conflictNames)
	if err != nil {
		outcome.Phase = domain.PhaseFailed
		return outcome, err
	}

	outcome.Phase = domain.PhaseStarting
	if err := o.Converge(ctx, decl, plan); err != nil {
		outcome.Phase = domain.PhaseFailed
		return outcome, err
	}

	return o.WaitForHealthy(ctx, plan), nil
}
