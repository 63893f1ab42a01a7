package registry

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// =============================================================================
// Tag Selection
// =============================================================================

// PinnedTag is returned unconditionally when the caller did not ask for the
// latest images. No network call is made for a pinned resolution.
const PinnedTag = "v1.0.0"

// semverTag matches vMAJOR.MINOR.PATCH with an optional pre-release suffix
// and an optional leading v.
var semverTag = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)

// SelectTag picks exactly one tag from a registry listing. Deterministic
// given a fixed listing; rules in priority order:
//  1. "latest" if present
//  2. the highest semantic-version tag
//  3. "main"
//  4. "master"
//  5. the version-sorted last entry of whatever tags exist
//
// The boolean result is false only when the listing yields nothing at all,
// in which case the caller falls back to the literal "latest" with a warning.
func SelectTag(listing []string) (string, bool) {
	if len(listing) == 0 {
		return "", false
	}

	for _, tag := range listing {
		if tag == "latest" {
			return "latest", true
		}
	}

	if best := highestSemver(listing); best != "" {
		return best, true
	}

	for _, candidate := range []string{"main", "master"} {
		for _, tag := range listing {
			if tag == candidate {
				return candidate, true
			}
		}
	}

	sorted := append([]string(nil), listing...)
	sort.Slice(sorted, func(i, j int) bool { return versionLess(sorted[i], sorted[j]) })
	return sorted[len(sorted)-1], true
}

// highestSemver returns the listing entry with the highest semantic version,
// or "" when no entry parses as one. The original tag string is returned,
// not a normalized rendering.
func highestSemver(listing []string) string {
	var best *semver.Version
	var bestTag string

	for _, tag := range listing {
		if !semverTag.MatchString(tag) {
			continue
		}
		v, err := semver.NewVersion(tag)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestTag = tag
		}
	}
	return bestTag
}

// versionLess orders tags by numeric segments where possible, falling back
// to lexicographic comparison. Used only for the last-resort rule.
func versionLess(a, b string) bool {
	as := splitSegments(a)
	bs := splitSegments(b)

	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				return an < bn
			}
			continue
		}
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	if len(as) != len(bs) {
		return len(as) < len(bs)
	}
	return a < b
}

func splitSegments(tag string) []string {
	tag = strings.TrimPrefix(tag, "v")
	return strings.FieldsFunc(tag, func(r rune) bool {
		return r == '.' || r == '-' || r == '+'
	})
}
