// Package compose parses the deployment's service declaration (a Docker
// Compose document) into the pipeline's service model. Parsing is pure:
// bytes in, Declaration out.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrEmptyDeclaration   = errors.New("service declaration is empty")
	ErrInvalidYAML        = errors.New("service declaration is not valid YAML")
	ErrServiceNoImage     = errors.New("service declares no image")
	ErrCircularDependency = errors.New("service declaration has a dependency cycle")
)

// =============================================================================
// Declaration Types
// =============================================================================

// Declaration is the parsed service set a deployment requires, decoupled
// from compose-go types.
type Declaration struct {
	Services []Service
	Volumes  []string // named volumes, in declaration order
}

// Service is one declared service.
type Service struct {
	Name        string
	Image       string
	Command     []string
	Entrypoint  []string
	Environment map[string]string
	Ports       []Port
	Volumes     []Mount
	DependsOn   []string
	Restart     string
	Labels      map[string]string
	HealthCheck *HealthCheck
}

// Port is a host port binding.
type Port struct {
	Target    int
	Published int
	Protocol  string
	HostIP    string
}

// Mount is a bind or named-volume mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
	Bind     bool // true for host-path bind, false for named volume
}

// HealthCheck is the declared health predicate, if any.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Parsing
// =============================================================================

// Parse loads a compose document into a Declaration.
func Parse(content []byte) (*Declaration, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyDeclaration
	}

	var dict map[string]any
	if err := yaml.Unmarshal(content, &dict); err != nil || dict == nil {
		return nil, ErrInvalidYAML
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{{Content: content, Config: dict}},
	}, func(opts *loader.Options) {
		opts.SetProjectName("preflight", false)
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		if strings.Contains(err.Error(), "dependency cycle detected") {
			return nil, ErrCircularDependency
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	decl := &Declaration{}
	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		decl.Services = append(decl.Services, converted)
	}
	for name := range project.Volumes {
		decl.Volumes = append(decl.Volumes, name)
	}
	return decl, nil
}

func convertService(svc types.ServiceConfig) (Service, error) {
	if svc.Image == "" {
		return Service{}, fmt.Errorf("%w: %s", ErrServiceNoImage, svc.Name)
	}

	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Environment: make(map[string]string),
		Labels:      map[string]string{},
		Restart:     svc.Restart,
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}
	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	for _, p := range svc.Ports {
		published := 0
		if p.Published != "" {
			if pub, err := strconv.Atoi(p.Published); err == nil {
				published = pub
			}
		}
		service.Ports = append(service.Ports, Port{
			Target:    int(p.Target),
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	for _, v := range svc.Volumes {
		bind := v.Type == "bind"
		if v.Type == "" {
			bind = strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "./")
		}
		service.Volumes = append(service.Volumes, Mount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
			Bind:     bind,
		})
	}

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}

	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		hc := &HealthCheck{Test: svc.HealthCheck.Test}
		if svc.HealthCheck.Retries != nil {
			hc.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			hc.Interval = time.Duration(*svc.HealthCheck.Interval)
		}
		if svc.HealthCheck.Timeout != nil {
			hc.Timeout = time.Duration(*svc.HealthCheck.Timeout)
		}
		if svc.HealthCheck.StartPeriod != nil {
			hc.StartPeriod = time.Duration(*svc.HealthCheck.StartPeriod)
		}
		service.HealthCheck = hc
	}

	return service, nil
}

// =============================================================================
// Descriptor Projection
// =============================================================================

// Descriptors projects the declaration onto the activation planner's
// service model.
func (d *Declaration) Descriptors() []domain.ServiceDescriptor {
	var out []domain.ServiceDescriptor
	for _, svc := range d.Services {
		desc := domain.ServiceDescriptor{
			Name:           svc.Name,
			Image:          svc.Image,
			DependsOn:      svc.DependsOn,
			HasHealthCheck: svc.HealthCheck != nil,
		}
		for _, p := range svc.Ports {
			if p.Published == 0 {
				continue // dynamically assigned ports cannot collide
			}
			desc.Bindings = append(desc.Bindings, domain.HostBinding{
				HostIP:   p.HostIP,
				HostPort: p.Published,
				Protocol: p.Protocol,
			})
		}
		out = append(out, desc)
	}
	return out
}
