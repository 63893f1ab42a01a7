package pull

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Classify Tests
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected Class
	}{
		{"unauthorized", "Error response from daemon: unauthorized: access token has insufficient scopes", ClassAuthentication},
		{"auth required", "authentication required", ClassAuthentication},
		{"forbidden", "403 Forbidden", ClassForbidden},
		{"denied", "pull access denied for repo/app", ClassForbidden},
		{"manifest unknown", "manifest unknown: manifest tagged by \"v9.9.9\" is not found", ClassNotFound},
		{"repo missing", "repository does not exist or may require authorization", ClassNotFound},
		{"timeout", "net/http: request canceled (Client.Timeout exceeded)... i/o timeout", ClassNetwork},
		{"refused", "dial tcp 10.0.0.1:443: connection refused", ClassNetwork},
		{"dns", "lookup registry.example.com: no such host", ClassNetwork},
		{"disk", "write /var/lib/docker/tmp: no space left on device", ClassDiskSpace},
		{"unknown", "something entirely novel happened", ClassUnknown},
		{"empty", "", ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.output))
		})
	}
}

// First match wins: output mentioning both auth and disk markers classifies
// as authentication because that classifier is evaluated first.
func TestClassify_OrderedFirstMatchWins(t *testing.T) {
	output := "unauthorized; also no space left on device"
	assert.Equal(t, ClassAuthentication, Classify(output))
}

func TestClassify_CaseInsensitive(t *testing.T) {
	assert.Equal(t, ClassNotFound, Classify("MANIFEST UNKNOWN"))
}

// =============================================================================
// FailureClass Mapping Tests
// =============================================================================

func TestClassFailureClass(t *testing.T) {
	assert.Equal(t, domain.FailurePermanent, ClassAuthentication.FailureClass())
	assert.Equal(t, domain.FailurePermanent, ClassForbidden.FailureClass())
	assert.Equal(t, domain.FailurePermanent, ClassNotFound.FailureClass())
	assert.Equal(t, domain.FailureTransient, ClassNetwork.FailureClass())
	assert.Equal(t, domain.FailureResourceExhaustion, ClassDiskSpace.FailureClass())
	assert.Equal(t, domain.FailureUnknown, ClassUnknown.FailureClass())
}

// =============================================================================
// Remediation Tests
// =============================================================================

func TestRemediation_EveryClassHasAHint(t *testing.T) {
	for _, class := range classOrder {
		assert.NotEmpty(t, Remediation(class), "class %s", class)
	}
}

// =============================================================================
// FallbackTags Tests
// =============================================================================

func TestFallbackTags_SemverPrimary(t *testing.T) {
	assert.Equal(t, []string{"v1.2.3", "latest", "main", "master"}, FallbackTags("v1.2.3"))
	assert.Equal(t, []string{"1.2.3", "latest", "main", "master"}, FallbackTags("1.2.3"))
	assert.Equal(t, []string{"2.0.0-rc.1", "latest", "main", "master"}, FallbackTags("2.0.0-rc.1"))
}

func TestFallbackTags_LatestPrimary(t *testing.T) {
	assert.Equal(t, []string{"latest", "main", "master"}, FallbackTags("latest"))
}

func TestFallbackTags_OtherPrimary(t *testing.T) {
	assert.Equal(t, []string{"nightly", "latest"}, FallbackTags("nightly"))
	assert.Equal(t, []string{"main", "latest"}, FallbackTags("main"))
}

// =============================================================================
// Summarize Tests
// =============================================================================

func TestSummarize_PartialSuccess(t *testing.T) {
	results := []domain.PullResult{
		{Ref: domain.ImageReference{Name: "app/web", Tag: "v1.0.0"}, Outcome: domain.PullSucceeded},
		{Ref: domain.ImageReference{Name: "app/api", Tag: "v1.0.0"}, Outcome: domain.PullSkipped},
		{Ref: domain.ImageReference{Name: "app/worker", Tag: "v1.0.0"}, Outcome: domain.PullFailed, Output: "manifest unknown"},
		{Ref: domain.ImageReference{Name: "app/db", Tag: "v1.0.0"}, Outcome: domain.PullFailed, Output: "no space left on device"},
	}

	summary := Summarize(results)

	assert.Equal(t, 2, summary.Successes)
	assert.Equal(t, 2, summary.Failures)
	assert.False(t, summary.AllFailed())
	assert.Len(t, summary.Remediation, 2)
	assert.Contains(t, summary.Remediation[0], "does not exist")
	assert.Contains(t, summary.Remediation[1], "disk space")
}

func TestSummarize_AllFailed(t *testing.T) {
	results := []domain.PullResult{
		{Outcome: domain.PullFailed, Output: "connection refused"},
	}
	summary := Summarize(results)
	assert.True(t, summary.AllFailed())
}

func TestSummarize_DuplicateClassesCollapse(t *testing.T) {
	results := []domain.PullResult{
		{Outcome: domain.PullFailed, Output: "not found"},
		{Outcome: domain.PullFailed, Output: "manifest unknown"},
	}
	summary := Summarize(results)
	assert.Len(t, summary.Remediation, 1)
}

func TestSummarize_Empty(t *testing.T) {
	summary := Summarize(nil)
	assert.Zero(t, summary.Successes)
	assert.Zero(t, summary.Failures)
	assert.False(t, summary.AllFailed())
}
