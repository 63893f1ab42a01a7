// Package registry contains pure registry decision logic: credential shape
// validation and tag selection. Network calls live in internal/shell/registry.
package registry

import (
	"fmt"
	"strings"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Credential Shape
// =============================================================================

const (
	// CredentialPrefix is the fixed prefix every registry access token carries.
	CredentialPrefix = "dckr_pat_"

	// Token body length bounds, checked before any network call.
	minTokenBody = 16
	maxTokenBody = 256
)

// ValidateCredential checks the shape of a registry credential: fixed
// prefix, length-bounded body, restricted charset. Shape failures are
// ValidationFailures - they fail fast with zero network cost.
func ValidateCredential(credential string) error {
	if !strings.HasPrefix(credential, CredentialPrefix) {
		return fmt.Errorf("%w: missing %q prefix", domain.ErrMalformedCredential, CredentialPrefix)
	}

	body := strings.TrimPrefix(credential, CredentialPrefix)
	if len(body) < minTokenBody {
		return fmt.Errorf("%w: token body shorter than %d characters", domain.ErrMalformedCredential, minTokenBody)
	}
	if len(body) > maxTokenBody {
		return fmt.Errorf("%w: token body longer than %d characters", domain.ErrMalformedCredential, maxTokenBody)
	}

	for _, r := range body {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return fmt.Errorf("%w: token body contains invalid character %q", domain.ErrMalformedCredential, r)
		}
	}
	return nil
}
