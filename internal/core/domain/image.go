package domain

import (
	"fmt"

	"github.com/distribution/reference"
)

// =============================================================================
// Image Types
// =============================================================================

// ImageReference is a repository short-name plus one resolved tag. Exactly
// one tag is resolved per image per run; Digest is filled in only after a
// successful pull.
type ImageReference struct {
	Name   string
	Tag    string
	Digest string
}

// String renders the reference in name:tag form.
func (r ImageReference) String() string {
	if r.Tag == "" {
		return r.Name
	}
	return r.Name + ":" + r.Tag
}

// Validate checks the reference against the distribution naming grammar.
func (r ImageReference) Validate() error {
	if _, err := reference.ParseNormalizedNamed(r.String()); err != nil {
		return fmt.Errorf("invalid image reference %q: %w", r.String(), err)
	}
	return nil
}

// ParseImageReference splits a name[:tag] string into an ImageReference,
// normalizing through the distribution reference grammar.
func ParseImageReference(s string) (ImageReference, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return ImageReference{}, fmt.Errorf("invalid image reference %q: %w", s, err)
	}
	ref := ImageReference{Name: reference.Path(named)}
	if tagged, ok := named.(reference.Tagged); ok {
		ref.Tag = tagged.Tag()
	}
	return ref, nil
}

// =============================================================================
// Pull Results
// =============================================================================

// PullOutcome is the terminal state of one pull attempt.
type PullOutcome string

const (
	PullSucceeded PullOutcome = "succeeded"
	PullSkipped   PullOutcome = "skipped" // already present locally
	PullFailed    PullOutcome = "failed"
)

// PullResult records the outcome of acquiring one image.
type PullResult struct {
	Ref     ImageReference
	Outcome PullOutcome
	Class   FailureClass // set only when Outcome == PullFailed
	Output  string       // raw captured engine output, kept alongside the classification
	Err     error
}

// PullSummary aggregates the results of a full acquisition run. Partial
// success is a valid end state; the summary gates activation.
type PullSummary struct {
	Results   []PullResult
	Successes int
	Failures  int
	// Remediation holds one hint per failure class that occurred, in
	// classification order.
	Remediation []string
}

// AllFailed reports whether no image could be acquired at all.
func (s PullSummary) AllFailed() bool {
	return s.Successes == 0 && s.Failures > 0
}
