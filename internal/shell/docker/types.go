// Package docker adapts the Docker SDK to the narrow engine surface the
// pipeline needs: local image inspection, streamed pulls, and container
// lifecycle for activation.
package docker

import (
	"context"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name          string
	Image         string
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortBinding
	Volumes       []VolumeMount
	Networks      []string
	RestartPolicy string // "no", "always", "on-failure", "unless-stopped"
	HealthCheck   *HealthCheck
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// VolumeMount defines a bind or named-volume mount.
type VolumeMount struct {
	Source   string // volume name or host path
	Target   string // container path
	ReadOnly bool
}

// HealthCheck defines container health check configuration.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// ContainerInfo describes an existing container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	State     string // "running", "exited", "created", ...
	Health    string // "healthy", "unhealthy", "starting", "" when no check
	HasHealth bool
	Labels    map[string]string
}

// Running reports whether the container is in the running state.
func (c ContainerInfo) Running() bool {
	return c.State == "running"
}

// ListOptions filters container enumeration.
type ListOptions struct {
	All     bool
	Filters map[string]string // e.g. {"label": "com.preflight.managed=true"}
}

// =============================================================================
// Engine Interface
// =============================================================================

// Engine is the container engine surface the pipeline consumes. The SDK
// client implements it; tests substitute fakes.
type Engine interface {
	// Image operations
	ImageExists(ctx context.Context, image string) (bool, error)
	PullImage(ctx context.Context, image string) (output string, err error)

	// Container operations
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error

	// Network operations
	EnsureNetwork(ctx context.Context, name string) (networkID string, err error)

	// Health operations
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged = "com.preflight.managed"
	LabelService = "com.preflight.service"
)
