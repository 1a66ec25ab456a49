// Command module runs a single standalone module process. The core does
// not define what a module computes (spec.md §1 Non-goals), so this
// entrypoint's RunStep is a pass-through body suitable for smoke-testing
// a deployment's wiring; real workers embed the module package directly
// and supply their own RunStep.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/penguintechinc/simsubstrate/ctrlproc"
	"github.com/penguintechinc/simsubstrate/internal/config"
	"github.com/penguintechinc/simsubstrate/internal/logging"
	"github.com/penguintechinc/simsubstrate/internal/metrics"
	"github.com/penguintechinc/simsubstrate/module"
	"github.com/penguintechinc/simsubstrate/pkg/moduleid"
)

var (
	version   = "0.1.0"
	buildTime = "development"
)

func main() {
	var configPath, idFlag string
	var ports int

	rootCmd := &cobra.Command{
		Use:     "module",
		Short:   "Simulation substrate module worker",
		Version: fmt.Sprintf("%s (built: %s)", version, buildTime),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, idFlag, ports)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&idFlag, "id", "", "this module's ID (generated if empty)")
	rootCmd.PersistentFlags().IntVar(&ports, "ports", 1, "fixed output vector size")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, idFlag string, ports int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	id := moduleid.ID(idFlag)
	if idFlag == "" {
		id = moduleid.New()
	}
	logger := logging.New(cfg.LogLevel, "module").WithField("module_id", string(id))

	passThrough := func(in map[moduleid.ID][]float64, out []float64) error {
		for _, vals := range in {
			for i := 0; i < len(out) && i < len(vals); i++ {
				out[i] = vals[i]
			}
			break
		}
		return nil
	}

	mod, err := module.New(id, ports, passThrough, logger)
	if err != nil {
		return err
	}
	if err := mod.DialData(cfg.DataAddr, cfg.CompressionThreshold); err != nil {
		return err
	}
	defer mod.CloseData()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(cfg.ServiceName)
	mod.SetMetrics(m)
	go func() {
		if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
			logger.WithError(err).Error("metrics server error")
		}
	}()

	proc, err := ctrlproc.New(id, cfg.ControlAddr, logger)
	if err != nil {
		return err
	}
	proc.SetFlush(func() error { return mod.CloseData() })

	runErr := make(chan error, 1)
	go func() {
		runErr <- proc.Run(ctx, func(bodyCtx context.Context) error {
			// This standalone binary never receives topology
			// (AddConn) out of band: the manager attaches
			// Connectivity objects to Module values it holds
			// in-process before a worker starts (spec.md §4.6),
			// which this thin wrapper has no peer for. It ticks
			// in net mode none (a no-op sync phase) until quit.
			for {
				select {
				case <-bodyCtx.Done():
					return nil
				default:
				}
				if err := mod.Tick(bodyCtx); err != nil {
					return err
				}
				time.Sleep(10 * time.Millisecond)
			}
		})
	}()

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
