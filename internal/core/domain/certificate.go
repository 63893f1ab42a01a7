// Package domain contains pure business types shared across the pipeline.
// These types have no I/O and no framework dependencies.
package domain

import "time"

// =============================================================================
// Certificate Types
// =============================================================================

// CertStrategy identifies which provisioning strategy produced a bundle.
type CertStrategy string

const (
	StrategyReuse       CertStrategy = "reuse"
	StrategyConsolidate CertStrategy = "consolidate"
	StrategySelfSigned  CertStrategy = "self-signed"
	StrategyPublicCA    CertStrategy = "public-ca"
	StrategyFallback    CertStrategy = "fallback"
)

// SSLMode is the caller-supplied strategy hint.
type SSLMode string

const (
	SSLModeAuto       SSLMode = "auto"
	SSLModeExisting   SSLMode = "existing"
	SSLModeSelfSigned SSLMode = "self-signed"
	SSLModePublicCA   SSLMode = "public-ca"
)

// CertificateBundle is a certificate plus its matching private key and
// validation metadata. A bundle is valid only if cert and key match
// cryptographically and the current time is inside the validity window.
type CertificateBundle struct {
	CertPath  string
	KeyPath   string
	Domain    string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	Strategy  CertStrategy
}

// ExpirationStatus classifies how close a bundle is to its NotAfter bound.
type ExpirationStatus string

const (
	ExpirationExpired     ExpirationStatus = "expired"      // daysRemaining <= 0
	ExpirationRenewNow    ExpirationStatus = "renew-now"    // <= 7 days
	ExpirationRenewSoon   ExpirationStatus = "renew-soon"   // <= 30 days
	ExpirationValid       ExpirationStatus = "valid"
)

// ExpirationCheck is the result of checking a bundle's validity window.
type ExpirationCheck struct {
	Status        ExpirationStatus
	DaysRemaining int
}
