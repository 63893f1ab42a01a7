// Package activation contains pure service activation logic: plan
// construction, conflict decisions, dependency ordering, and readiness
// aggregation. The engine calls live in internal/shell/activation.
package activation

import (
	"fmt"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Plan Construction
// =============================================================================

// BuildPlan orders the declared services by their dependencies and verifies
// the binding invariant: no two services in one plan may declare the same
// host binding, since both would be converged toward running at once.
func BuildPlan(services []domain.ServiceDescriptor, decision domain.ConflictDecision, conflicts []string) (*domain.ActivationPlan, error) {
	if err := checkBindingOverlap(services); err != nil {
		return nil, err
	}

	return &domain.ActivationPlan{
		Services:  TopologicalSort(services),
		Decision:  decision,
		Conflicts: conflicts,
	}, nil
}

// checkBindingOverlap rejects service sets where two services bind the same
// host address/port/protocol triple.
func checkBindingOverlap(services []domain.ServiceDescriptor) error {
	type key struct {
		ip    string
		port  int
		proto string
	}
	owner := make(map[key]string)

	for _, svc := range services {
		for _, b := range svc.Bindings {
			proto := b.Protocol
			if proto == "" {
				proto = "tcp"
			}
			k := key{ip: b.HostIP, port: b.HostPort, proto: proto}
			if first, taken := owner[k]; taken && first != svc.Name {
				return fmt.Errorf("%w: %s and %s both bind %s:%d/%s",
					domain.ErrBindingOverlap, first, svc.Name, b.HostIP, b.HostPort, proto)
			}
			owner[k] = svc.Name
		}
	}
	return nil
}

// =============================================================================
// Conflict Decisions
// =============================================================================

// DecideConflict determines how pre-existing entities are handled when the
// caller did not get to choose interactively:
//
//   - forced-replace requested: recreate regardless of what is running
//   - keep-existing configured: abort and leave the old entities alone
//   - otherwise: stop the old entities and continue
//
// With no conflicts there is nothing to decide.
func DecideConflict(conflicts []string, forceReplace, keepExisting bool) domain.ConflictDecision {
	if len(conflicts) == 0 {
		return domain.DecisionNone
	}
	if forceReplace {
		return domain.DecisionForceRecreate
	}
	if keepExisting {
		return domain.DecisionAbort
	}
	return domain.DecisionStopAndContinue
}

// =============================================================================
// Dependency Ordering
// =============================================================================

// TopologicalSort orders services so that dependencies come before their
// dependents (Kahn's algorithm, BFS). If a cycle slips through parsing, the
// remaining services are appended as a fallback rather than dropped.
func TopologicalSort(services []domain.ServiceDescriptor) []domain.ServiceDescriptor {
	if len(services) == 0 {
		return services
	}

	serviceMap := make(map[string]domain.ServiceDescriptor)
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	var queue []string
	for _, svc := range services {
		if inDegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}

	var result []domain.ServiceDescriptor
	processed := make(map[string]bool)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		result = append(result, serviceMap[name])
		processed[name] = true

		for _, dependent := range dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Cycle fallback: keep declaration order for whatever remains.
	for _, svc := range services {
		if !processed[svc.Name] {
			result = append(result, svc)
		}
	}
	return result
}
