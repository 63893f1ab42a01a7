package domain

import "time"

// =============================================================================
// Run Records
// =============================================================================

// RunRecord is the audit row persisted for one provisioning run: which
// strategy produced the certificate, how acquisition went, and where
// activation ended. The registry session is deliberately absent; it lives
// only in process memory.
type RunRecord struct {
	ID            string
	Domain        string
	CertStrategy  CertStrategy
	UseLatest     bool
	PullSuccesses int
	PullFailures  int
	Phase         ActivationPhase
	Healthy       int
	Total         int
	ErrorMessage  string
	StartedAt     time.Time
	FinishedAt    *time.Time
}
