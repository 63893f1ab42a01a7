package domain

// =============================================================================
// Service Activation Types
// =============================================================================

// ActivationPhase is the state the orchestrator is in for one run.
type ActivationPhase string

const (
	PhaseNotStarted       ActivationPhase = "not-started"
	PhaseConflictDetected ActivationPhase = "conflict-detected"
	PhaseConflictResolved ActivationPhase = "conflict-resolved"
	PhaseStarting         ActivationPhase = "starting"
	PhaseWaitingForHealth ActivationPhase = "waiting-for-health"
	PhaseHealthy          ActivationPhase = "healthy"
	PhaseFailed           ActivationPhase = "failed"
	PhaseTimedOut         ActivationPhase = "timed-out"
)

// HostBinding is a host-side port binding a service declares.
type HostBinding struct {
	HostIP   string
	HostPort int
	Protocol string // "tcp" or "udp"
}

// ServiceDescriptor declares one service the deployment requires.
type ServiceDescriptor struct {
	Name      string
	Image     string
	Bindings  []HostBinding
	DependsOn []string
	// HasHealthCheck records whether the service declares a health predicate.
	// Without one, "running" is accepted as an explicit approximation of
	// healthy.
	HasHealthCheck bool
}

// ConflictDecision is the resolution chosen for already-running entities
// that match this deployment's naming convention.
type ConflictDecision string

const (
	DecisionNone            ConflictDecision = "none" // no conflicts found
	DecisionStopAndContinue ConflictDecision = "stop-and-continue"
	DecisionForceRecreate   ConflictDecision = "force-recreate"
	DecisionAbort           ConflictDecision = "abort"
)

// ActivationPlan is the ordered service set plus the conflict resolution
// applied before starting. Construction guarantees no two planned services
// share a host binding.
type ActivationPlan struct {
	Services  []ServiceDescriptor // dependency order
	Decision  ConflictDecision
	Conflicts []string // names of pre-existing entities that were resolved
}

// ServiceHealth is the per-service readiness observed at one poll tick.
type ServiceHealth struct {
	Name    string
	Running bool
	Health  string // "healthy", "unhealthy", "starting", "" when no predicate
	Healthy bool
}

// ActivationOutcome is the terminal report of one activation run. A timeout
// is an outcome, not a crash: the caller decides whether to accept it.
type ActivationOutcome struct {
	Phase    ActivationPhase
	Healthy  int
	Total    int
	Services []ServiceHealth
	Decision ConflictDecision
}

// ReadinessFraction is healthy-service-count over total-service-count.
func (o ActivationOutcome) ReadinessFraction() float64 {
	if o.Total == 0 {
		return 0
	}
	return float64(o.Healthy) / float64(o.Total)
}

// Succeeded reports whether every service reached healthy before timeout.
func (o ActivationOutcome) Succeeded() bool {
	return o.Phase == PhaseHealthy
}
