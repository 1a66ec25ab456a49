// Command manager runs the substrate's manager process: it owns the
// routing table and Connectivity objects, starts the broker, and (in
// this core's demo mode) spins up the identity-exchange example before
// handling graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/penguintechinc/simsubstrate/examples/identity"
	"github.com/penguintechinc/simsubstrate/internal/config"
	"github.com/penguintechinc/simsubstrate/internal/logging"
	"github.com/penguintechinc/simsubstrate/internal/metrics"
	"github.com/penguintechinc/simsubstrate/internal/tracing"
)

var (
	version   = "0.1.0"
	buildTime = "development"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	var runDemo bool

	rootCmd := &cobra.Command{
		Use:     "manager",
		Short:   "Simulation substrate manager",
		Version: fmt.Sprintf("%s (built: %s, commit: %s)", version, buildTime, gitCommit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, runDemo)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&runDemo, "demo", true, "run the bundled two-module identity-exchange demo")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, runDemo bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, "manager")
	logger.WithFields(map[string]interface{}{
		"version": version, "build_time": buildTime, "commit": gitCommit,
	}).Info("starting manager")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.EnableTracing)
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	m := metrics.New(cfg.ServiceName)
	go func() {
		if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
			logger.WithError(err).Error("metrics server error")
		}
	}()

	if runDemo {
		if err := identity.Run(ctx, cfg, logger, m); err != nil {
			return fmt.Errorf("manager: demo run failed: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	cancel()
	return nil
}
