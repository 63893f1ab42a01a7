// Package images is the acquisition engine: it brings every image in the
// deployment manifest to the local engine at its resolved tag, with
// skip-if-present, bounded retry, and fallback tags.
package images

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Image Manifest
// =============================================================================

// Manifest is the fixed list of named container images a deployment
// requires.
type Manifest struct {
	Images []string `yaml:"images"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML, validating every image name against
// the reference grammar.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Images) == 0 {
		return nil, fmt.Errorf("manifest lists no images")
	}
	for _, name := range m.Images {
		if _, err := domain.ParseImageReference(name); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
	}
	return &m, nil
}
