// Package certs provisions certificate bundles on disk through an ordered
// strategy cascade: reuse, consolidate, domain-aware generation, minimal
// fallback. Generation is delegated to external tooling (openssl, certbot)
// through an injectable command runner; no crypto primitives run here.
package certs

import (
	"context"
	"os/exec"
	"strings"
)

// =============================================================================
// Command Runner
// =============================================================================

// CommandRunner abstracts external tool invocation so tests can substitute a
// fake that emits real key material without shelling out.
type CommandRunner interface {
	// Run executes the named tool and returns its combined output.
	Run(ctx context.Context, name string, args ...string) (string, error)

	// LookPath reports the resolved path of a tool, or an error when the
	// tool is not installed.
	LookPath(name string) (string, error)
}

// execRunner runs tools through os/exec.
type execRunner struct{}

// NewExecRunner returns the production command runner.
func NewExecRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
