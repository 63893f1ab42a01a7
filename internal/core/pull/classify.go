// Package pull contains pure image acquisition logic: failure
// classification of captured engine output, fallback tag derivation, and
// summary aggregation. The streaming pulls themselves live in
// internal/shell/images.
package pull

import (
	"strings"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Failure Classification
// =============================================================================

// Class is the pull-specific failure bucket derived from captured output.
type Class string

const (
	ClassAuthentication Class = "authentication"
	ClassForbidden      Class = "forbidden"
	ClassNotFound       Class = "not-found"
	ClassNetwork        Class = "network"
	ClassDiskSpace      Class = "disk-space"
	ClassUnknown        Class = "unknown"
)

// classifier binds a class to the output substrings that indicate it.
type classifier struct {
	class   Class
	markers []string
}

// classifiers is evaluated in order; the first matching marker wins and
// ClassUnknown is the default. Textual matching of engine output is
// inherently fragile, so callers always keep the raw output next to the
// classification.
var classifiers = []classifier{
	{ClassAuthentication, []string{
		"unauthorized",
		"authentication required",
		"401",
		"login required",
		"incorrect username or password",
	}},
	{ClassForbidden, []string{
		"forbidden",
		"access denied",
		"denied",
		"403",
	}},
	{ClassNotFound, []string{
		"not found",
		"manifest unknown",
		"repository does not exist",
		"404",
	}},
	{ClassNetwork, []string{
		"timeout",
		"i/o timeout",
		"connection refused",
		"no such host",
		"tls handshake",
		"network is unreachable",
		"temporary failure",
	}},
	{ClassDiskSpace, []string{
		"no space left on device",
		"disk quota exceeded",
	}},
}

// Classify maps captured pull output onto a failure class by ordered
// substring matching.
func Classify(output string) Class {
	folded := strings.ToLower(output)
	for _, c := range classifiers {
		for _, marker := range c.markers {
			if strings.Contains(folded, marker) {
				return c.class
			}
		}
	}
	return ClassUnknown
}

// FailureClass maps a pull class onto the pipeline-wide failure taxonomy.
func (c Class) FailureClass() domain.FailureClass {
	switch c {
	case ClassAuthentication, ClassForbidden, ClassNotFound:
		return domain.FailurePermanent
	case ClassNetwork:
		return domain.FailureTransient
	case ClassDiskSpace:
		return domain.FailureResourceExhaustion
	default:
		return domain.FailureUnknown
	}
}

// =============================================================================
// Remediation Hints
// =============================================================================

// remediations is the fixed hint table keyed by pull class, emitted once per
// class that occurred in a run.
var remediations = map[Class]string{
	ClassAuthentication: "re-run registry login with a fresh access token; the current session was rejected",
	ClassForbidden:      "the credential authenticated but lacks pull rights on this repository; request access or fix the repository name",
	ClassNotFound:       "the image or tag does not exist in the registry; check the manifest for typos or outdated tags",
	ClassNetwork:        "check connectivity and proxy settings to the registry host, then retry",
	ClassDiskSpace:      "free local disk space (docker system prune) before retrying the pull",
	ClassUnknown:        "inspect the raw pull output; no known failure pattern matched",
}

// Remediation returns the fixed hint for a class.
func Remediation(c Class) string {
	if hint, ok := remediations[c]; ok {
		return hint
	}
	return remediations[ClassUnknown]
}

// classOrder fixes the order remediation hints appear in a summary.
var classOrder = []Class{
	ClassAuthentication,
	ClassForbidden,
	ClassNotFound,
	ClassNetwork,
	ClassDiskSpace,
	ClassUnknown,
}
