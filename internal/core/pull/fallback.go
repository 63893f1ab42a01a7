package pull

import "regexp"

// =============================================================================
// Fallback Tag Derivation
// =============================================================================

var semverShape = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)

// FallbackTags derives the ordered candidate list tried when the resolved
// primary tag fails. The chain depends on the primary tag's shape:
//
//   - semantic version: primary, latest, main, master
//   - "latest":         latest, main, master
//   - anything else:    primary, latest
//
// The primary always comes first so the resolved tag gets its own attempt
// before any substitute.
func FallbackTags(primaryTag string) []string {
	switch {
	case primaryTag == "latest":
		return []string{"latest", "main", "master"}
	case semverShape.MatchString(primaryTag):
		return []string{primaryTag, "latest", "main", "master"}
	default:
		return []string{primaryTag, "latest"}
	}
}
