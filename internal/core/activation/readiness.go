package activation

import "github.com/artpar/preflight/internal/core/domain"

// =============================================================================
// Readiness Aggregation
// =============================================================================

// Observation is the raw per-service state read from the engine at one poll
// tick.
type Observation struct {
	Name      string
	Running   bool
	Health    string // "healthy", "unhealthy", "starting", "" when none configured
	HasHealth bool   // whether a health predicate is configured at all
}

// EvaluateService maps one observation to a readiness verdict. A service is
// healthy when it is running AND its reported health is "healthy" - or no
// health predicate is defined, in which case running is accepted as an
// explicit approximation of healthy.
func EvaluateService(obs Observation) domain.ServiceHealth {
	healthy := obs.Running && (!obs.HasHealth || obs.Health == "healthy")
	return domain.ServiceHealth{
		Name:    obs.Name,
		Running: obs.Running,
		Health:  obs.Health,
		Healthy: healthy,
	}
}

// Aggregate folds per-service observations into the healthy/total counts a
// poll tick reports.
func Aggregate(observations []Observation) (healthy int, services []domain.ServiceHealth) {
	for _, obs := range observations {
		sh := EvaluateService(obs)
		if sh.Healthy {
			healthy++
		}
		services = append(services, sh)
	}
	return healthy, services
}
