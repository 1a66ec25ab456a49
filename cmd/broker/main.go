// Command broker runs the substrate's broker as a standalone process: it
// dials the manager's control endpoint, serves the data endpoint, and
// reacts to the manager's routing-table snapshot delivered out of band
// (in this core, via the manager's in-process broker.New wiring; a
// networked control-plane feed for routing-table updates is left to the
// manager's own transport, per spec.md §4.6).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/penguintechinc/simsubstrate/broker"
	"github.com/penguintechinc/simsubstrate/internal/config"
	"github.com/penguintechinc/simsubstrate/internal/logging"
	"github.com/penguintechinc/simsubstrate/internal/metrics"
	"github.com/penguintechinc/simsubstrate/pkg/routing"
)

var (
	version   = "0.1.0"
	buildTime = "development"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "broker",
		Short:   "Simulation substrate broker",
		Version: fmt.Sprintf("%s (built: %s)", version, buildTime),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, "broker")
	logger.WithField("data_addr", cfg.DataAddr).Info("starting broker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A standalone broker process has no routing table of its own to
	// load; it is always started by a manager that owns the topology
	// (spec.md §4.6). This entrypoint exists for deployments that run
	// the broker as its own container alongside an in-process manager
	// reachable over the same control endpoint.
	table := routing.New()
	b := broker.New(table, logger)

	m := metrics.New(cfg.ServiceName)
	b.SetMetrics(m)
	go func() {
		if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
			logger.WithError(err).Error("metrics server error")
		}
	}()

	proc, err := broker.NewProcess(b, cfg.ControlAddr, logger)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- proc.Run(ctx, cfg.DataAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down")
		cancel()
		return <-runErr
	case err := <-runErr:
		return err
	}
}
