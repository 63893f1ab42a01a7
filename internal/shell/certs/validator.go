package certs

import (
	"log/slog"
	"os"
	"time"

	corecerts "github.com/artpar/preflight/internal/core/certs"
	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Bundle Validator
// =============================================================================

// Validator answers one question: is this on-disk pair usable for the
// expected domain right now. It never returns an error; every failing check
// is logged at DEBUG and collapses to false, so callers branch on a single
// boolean.
type Validator struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewValidator creates a bundle validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		logger: logger.With("component", "cert_validator"),
		now:    time.Now,
	}
}

// Validate checks readability, structural parse, key match, domain coverage,
// and the validity window for the pair at bundle's paths.
func (v *Validator) Validate(bundle domain.CertificateBundle, expectedDomain string) bool {
	info := v.inspect(bundle)
	if info == nil {
		return false
	}

	if expectedDomain != "" && !corecerts.CoversDomain(info, expectedDomain) {
		v.logger.Debug("certificate does not cover domain",
			"cert", bundle.CertPath, "domain", expectedDomain, "subject", info.Subject)
		return false
	}

	check := corecerts.CheckExpiration(info.NotAfter, v.now())
	if check.Status == domain.ExpirationExpired {
		v.logger.Debug("certificate expired",
			"cert", bundle.CertPath, "not_after", info.NotAfter)
		return false
	}

	return true
}

// Describe parses the pair and returns its info, or nil when any check up to
// the key match fails.
func (v *Validator) Describe(bundle domain.CertificateBundle) *corecerts.Info {
	return v.inspect(bundle)
}

// Expiration classifies the remaining validity window of the pair, assuming
// it parses.
func (v *Validator) Expiration(bundle domain.CertificateBundle) (domain.ExpirationCheck, bool) {
	info := v.inspect(bundle)
	if info == nil {
		return domain.ExpirationCheck{}, false
	}
	return corecerts.CheckExpiration(info.NotAfter, v.now()), true
}

func (v *Validator) inspect(bundle domain.CertificateBundle) *corecerts.Info {
	certPEM, err := os.ReadFile(bundle.CertPath)
	if err != nil {
		v.logger.Debug("certificate unreadable", "cert", bundle.CertPath, "error", err)
		return nil
	}
	keyPEM, err := os.ReadFile(bundle.KeyPath)
	if err != nil {
		v.logger.Debug("private key unreadable", "key", bundle.KeyPath, "error", err)
		return nil
	}

	info, err := corecerts.Inspect(certPEM, keyPEM)
	if err != nil {
		v.logger.Debug("certificate pair failed inspection",
			"cert", bundle.CertPath, "key", bundle.KeyPath, "error", err)
		return nil
	}
	return info
}
