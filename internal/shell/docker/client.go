package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// SDK Client
// =============================================================================

// Client implements Engine using the Docker SDK.
type Client struct {
	cli *client.Client
}

// NewClient creates an engine client. If host is empty the default Docker
// host from the environment is used.
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewEngineError("NewClient", "", "", "failed to create client", ErrConnectionFailed)
	}
	return &Client{cli: cli}, nil
}

// Ping checks that the engine daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return NewEngineError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// ImageExists checks whether an image is present locally. This is a local
// inspection only, no registry round trip.
func (c *Client) ImageExists(ctx context.Context, imageName string) (bool, error) {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, imageName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewEngineError("ImageExists", "image", imageName, err.Error(), err)
	}
	return true, nil
}

// PullImage pulls an image, draining and capturing the progress stream. The
// captured output is returned on both success and failure so callers can
// classify and surface it.
func (c *Client) PullImage(ctx context.Context, imageName string) (string, error) {
	reader, err := c.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err.Error(), NewEngineError("PullImage", "image", imageName, err.Error(), ErrImagePullFailed)
	}
	defer reader.Close()

	var out strings.Builder
	if _, err := io.Copy(&out, reader); err != nil {
		return out.String(), NewEngineError("PullImage", "image", imageName, err.Error(), ErrImagePullFailed)
	}
	return out.String(), nil
}

// =============================================================================
// Container Operations
// =============================================================================

// ListContainers returns containers matching the given options.
func (c *Client) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	listOpts := container.ListOptions{All: opts.All}
	if len(opts.Filters) > 0 {
		f := filters.NewArgs()
		for k, v := range opts.Filters {
			f.Add(k, v)
		}
		listOpts.Filters = f
	}

	containers, err := c.cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, NewEngineError("ListContainers", "container", "", err.Error(), err)
	}

	var result []ContainerInfo
	for _, ct := range containers {
		name := ""
		if len(ct.Names) > 0 {
			name = strings.TrimPrefix(ct.Names[0], "/")
		}
		result = append(result, ContainerInfo{
			ID:     ct.ID,
			Name:   name,
			Image:  ct.Image,
			State:  ct.State,
			Labels: ct.Labels,
		})
	}
	return result, nil
}

// InspectContainer returns state and health for one container.
func (c *Client) InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error) {
	resp, err := c.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewEngineError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewEngineError("InspectContainer", "container", containerID, err.Error(), err)
	}

	info := &ContainerInfo{
		ID:     resp.ID,
		Name:   strings.TrimPrefix(resp.Name, "/"),
		Image:  resp.Config.Image,
		State:  resp.State.Status,
		Labels: resp.Config.Labels,
	}
	if resp.State.Health != nil {
		info.Health = resp.State.Health.Status
		info.HasHealth = true
	}
	return info, nil
}

// CreateContainer creates a container from the given spec.
func (c *Client) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Entrypoint: spec.Entrypoint,
		Labels:     spec.Labels,
	}
	for k, v := range spec.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}

	if len(spec.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}
		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
			exposedPorts[containerPort] = struct{}{}

			hostPort := ""
			if p.HostPort != 0 {
				hostPort = fmt.Sprintf("%d", p.HostPort)
			}
			portBindings[containerPort] = []nat.PortBinding{{HostIP: p.HostIP, HostPort: hostPort}}
		}
		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	for _, v := range spec.Volumes {
		mountType := mount.TypeVolume
		if strings.HasPrefix(v.Source, "/") {
			mountType = mount.TypeBind
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mountType,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if spec.RestartPolicy != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(spec.RestartPolicy),
		}
	}

	if spec.HealthCheck != nil {
		config.Healthcheck = &container.HealthConfig{
			Test:        spec.HealthCheck.Test,
			Interval:    spec.HealthCheck.Interval,
			Timeout:     spec.HealthCheck.Timeout,
			Retries:     spec.HealthCheck.Retries,
			StartPeriod: spec.HealthCheck.StartPeriod,
		}
	}

	var networkConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{},
		}
		for _, n := range spec.Networks {
			networkConfig.EndpointsConfig[n] = &network.EndpointSettings{
				Aliases: []string{spec.Labels[LabelService]},
			}
		}
	}

	resp, err := c.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return "", NewEngineError("CreateContainer", "container", spec.Name, err.Error(), err)
	}
	return resp.ID, nil
}

// StartContainer starts a created or stopped container. Already-running is
// not an error for convergence purposes.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("StartContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "already started") || strings.Contains(err.Error(), "is already running") {
			return nil
		}
		return NewEngineError("StartContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// StopContainer stops a running container.
func (c *Client) StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error {
	stopOptions := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		stopOptions.Timeout = &seconds
	}

	err := c.cli.ContainerStop(ctx, containerID, stopOptions)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("StopContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is not running") {
			return nil
		}
		return NewEngineError("StopContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// RemoveContainer removes a container.
func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil // already gone
		}
		return NewEngineError("RemoveContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Network Operations
// =============================================================================

// EnsureNetwork creates the named bridge network, reusing it if it already
// exists.
func (c *Client) EnsureNetwork(ctx context.Context, name string) (string, error) {
	resp, err := c.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{LabelManaged: "true"},
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			// Docker accepts name or ID interchangeably.
			return name, nil
		}
		return "", NewEngineError("EnsureNetwork", "network", name, err.Error(), err)
	}
	return resp.ID, nil
}
