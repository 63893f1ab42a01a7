package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("preflight %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	// Setup logger
	logger := SetupLogger(cfg)
	logger.Info("starting preflight",
		"version", Version,
		"config", *configPath,
		"domain", cfg.Domain,
	)

	// Assemble the application
	app, err := NewApp(cfg, logger)
	if err != nil {
		var aErr *AppError
		if errors.As(err, &aErr) {
			logger.Error("failed to assemble application",
				"error", aErr.Err,
				"operation", aErr.Op,
			)
			return aErr.ExitCode
		}
		logger.Error("failed to assemble application", "error", err)
		return ExitConfigError
	}
	defer app.Close()

	// Cancel on SIGINT/SIGTERM so loops unwind at the next poll boundary.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}
