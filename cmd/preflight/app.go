package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/artpar/preflight/internal/core/compose"
	"github.com/artpar/preflight/internal/core/domain"
	"github.com/artpar/preflight/internal/shell/activation"
	"github.com/artpar/preflight/internal/shell/certs"
	"github.com/artpar/preflight/internal/shell/docker"
	"github.com/artpar/preflight/internal/shell/images"
	"github.com/artpar/preflight/internal/shell/pipeline"
	"github.com/artpar/preflight/internal/shell/registry"
	"github.com/artpar/preflight/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess       = 0
	ExitConfigError   = 1
	ExitDatabaseError = 2
	ExitDockerError   = 3
	ExitPipelineError = 4
	ExitDegraded      = 5 // activation timed out with partial readiness
)

// AppError wraps assembly failures with an exit code.
type AppError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// =============================================================================
// App Assembly
// =============================================================================

// App wires the pipeline's collaborators together for one run.
type App struct {
	cfg      *Config
	logger   *slog.Logger
	engine   *docker.Client
	history  *store.SQLiteStore
	pipeline *pipeline.Pipeline
}

// NewApp assembles the application from configuration.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	history, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &AppError{Op: "open run history", Err: err, ExitCode: ExitDatabaseError}
	}

	engine, err := docker.NewClient(cfg.Docker.Host)
	if err != nil {
		history.Close()
		return nil, &AppError{Op: "connect docker", Err: err, ExitCode: ExitDockerError}
	}

	manifest, err := images.LoadManifest(cfg.Images.Manifest)
	if err != nil {
		history.Close()
		engine.Close()
		return nil, &AppError{Op: "load image manifest", Err: err, ExitCode: ExitConfigError}
	}

	declBytes, err := os.ReadFile(cfg.Compose.File)
	if err != nil {
		history.Close()
		engine.Close()
		return nil, &AppError{Op: "read service declaration", Err: err, ExitCode: ExitConfigError}
	}
	decl, err := compose.Parse(declBytes)
	if err != nil {
		history.Close()
		engine.Close()
		return nil, &AppError{Op: "parse service declaration", Err: err, ExitCode: ExitConfigError}
	}

	regClient := registry.NewClient(registry.Config{
		BaseURL:        cfg.Registry.BaseURL,
		KnownImage:     cfg.Registry.KnownImage,
		LoginAttempts:  cfg.Registry.LoginAttempts,
		RetryWait:      cfg.Registry.RetryWait,
		RequestTimeout: cfg.Registry.Timeout,
	}, logger)
	resolver := registry.NewResolver(regClient, logger)

	acquirer := images.NewEngine(engine, regClient, resolver, images.Config{
		RegistryHost: cfg.Images.RegistryHost,
		PullAttempts: cfg.Images.PullAttempts,
		RetryWait:    cfg.Images.RetryWait,
	}, logger)

	validator := certs.NewValidator(logger)
	provisioner := certs.NewProvisioner(certs.Config{
		SSLPath: cfg.SSL.Path,
		Name:    cfg.SSL.Name,
		Mode:    domain.SSLMode(cfg.SSL.Mode),
	}, certs.NewExecRunner(), validator, logger)

	orchestrator := activation.NewOrchestrator(engine, validator, nil, activation.Config{
		NetworkName:   cfg.Activation.Network,
		PollInterval:  cfg.Activation.PollInterval,
		HealthTimeout: cfg.Activation.HealthTimeout,
		ForceReplace:  cfg.Activation.ForceReplace,
		KeepExisting:  cfg.Activation.KeepExisting,
	}, logger)

	p := pipeline.New(provisioner, validator, regClient, acquirer, orchestrator,
		manifest, decl, history, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		engine:   engine,
		history:  history,
		pipeline: p,
	}, nil
}

// Close releases the app's connections.
func (a *App) Close() {
	a.engine.Close()
	a.history.Close()
}

// Run executes one pipeline run and maps the outcome to an exit code.
func (a *App) Run(ctx context.Context) int {
	result, err := a.pipeline.Run(ctx, pipeline.Config{
		Domain:             a.cfg.Domain,
		Credential:         a.cfg.Registry.Credential,
		UseLatest:          a.cfg.Images.UseLatest,
		AllowMissingImages: a.cfg.Images.AllowMissing,
	})
	if err != nil {
		a.logger.Error("run failed", "run", result.RunID, "error", err)
		return ExitPipelineError
	}

	if result.RenewalAdvice != "" {
		a.logger.Warn(result.RenewalAdvice)
	}

	if !result.Activation.Succeeded() {
		a.logger.Warn("run finished degraded",
			"run", result.RunID,
			"phase", result.Activation.Phase,
			"healthy", result.Activation.Healthy,
			"total", result.Activation.Total,
		)
		return ExitDegraded
	}

	a.logger.Info("run finished",
		"run", result.RunID,
		"services", result.Activation.Total,
	)
	return ExitSuccess
}
