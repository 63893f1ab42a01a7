package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// ValidateCredential Tests
// =============================================================================

func TestValidateCredential_Valid(t *testing.T) {
	assert.NoError(t, ValidateCredential("dckr_pat_abcdefghij0123456789"))
	assert.NoError(t, ValidateCredential("dckr_pat_with-dash_and_underscore42"))
}

func TestValidateCredential_MissingPrefix(t *testing.T) {
	err := ValidateCredential("pat_abcdefghij0123456789")
	assert.ErrorIs(t, err, domain.ErrMalformedCredential)
}

func TestValidateCredential_BodyTooShort(t *testing.T) {
	err := ValidateCredential("dckr_pat_short")
	assert.ErrorIs(t, err, domain.ErrMalformedCredential)
}

func TestValidateCredential_BodyTooLong(t *testing.T) {
	err := ValidateCredential("dckr_pat_" + strings.Repeat("a", 257))
	assert.ErrorIs(t, err, domain.ErrMalformedCredential)
}

func TestValidateCredential_InvalidCharacters(t *testing.T) {
	err := ValidateCredential("dckr_pat_abcdef ghij0123456789")
	assert.ErrorIs(t, err, domain.ErrMalformedCredential)

	err = ValidateCredential("dckr_pat_abcdefghij01234567!9")
	assert.ErrorIs(t, err, domain.ErrMalformedCredential)
}

func TestValidateCredential_Empty(t *testing.T) {
	assert.ErrorIs(t, ValidateCredential(""), domain.ErrMalformedCredential)
}
