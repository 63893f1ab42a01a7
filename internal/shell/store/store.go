package store

import (
	"context"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for run history.
type Store interface {
	// CreateRun inserts the record for a run that just started.
	CreateRun(ctx context.Context, run *domain.RunRecord) error

	// FinishRun writes the terminal fields of a completed run.
	FinishRun(ctx context.Context, run *domain.RunRecord) error

	// GetRun fetches one run by ID.
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)

	// ListRuns returns runs most recent first.
	ListRuns(ctx context.Context, opts ListOptions) ([]domain.RunRecord, error)

	// ListRunsByDomain returns runs for one domain, most recent first.
	ListRunsByDomain(ctx context.Context, domainName string, opts ListOptions) ([]domain.RunRecord, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
