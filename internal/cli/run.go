package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartkart/kart/internal/catalog"
	"github.com/smartkart/kart/internal/config"
	"github.com/smartkart/kart/internal/correlator"
	"github.com/smartkart/kart/internal/event"
	"github.com/smartkart/kart/internal/ledger"
	"github.com/smartkart/kart/internal/notify"
	"github.com/smartkart/kart/internal/sensor"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Catalog  string
	Database string
	ScanGap  time.Duration
}

// NewRunCommand creates the run command: a live session driven by the
// simulated scale and scanner until interrupted.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a live cart session with simulated sensors",
		Long: `Start the cart controller with a simulated load cell and barcode
scanner walking the catalog. The session runs until interrupted; on
shutdown the intake queue is drained and pending scans are flushed.

Example:
  kart run --db ./cart.db --catalog ./products.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to product catalog YAML")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to ledger SQLite database")
	cmd.Flags().DurationVar(&opts.ScanGap, "scan-gap", 8*time.Second, "interval between simulated scans")

	return cmd
}

func runSession(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		// Invalid thresholds are fatal: refuse to start.
		return WrapExitError(ExitCommandError, "configuration rejected", err)
	}

	cat := catalog.Builtin()
	if opts.Catalog != "" {
		if cat, err = catalog.Load(opts.Catalog); err != nil {
			return WrapExitError(ExitCommandError, "failed to load catalog", err)
		}
	}
	slog.Info("catalog loaded", "products", cat.Len())

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Ledger.Database
	}
	var store *ledger.Store
	if dbPath != "" {
		if store, err = ledger.OpenStore(dbPath); err != nil {
			return WrapExitError(ExitCommandError, "failed to open ledger database", err)
		}
		slog.Info("ledger database ready", "path", dbPath)
	}

	notifier := notify.New(cfg.Notify.Buffer, notify.LogFeedback{})
	defer notifier.Close()

	queue := event.NewQueue()
	corr := correlator.New(queue, cat, nil, ledger.New(store), notifier,
		correlator.UUIDv7Generator{},
		correlator.Params{
			ThresholdGrams:      cfg.Weight.ThresholdGrams,
			ToleranceFraction:   cfg.Weight.ToleranceFraction,
			ScanTimeout:         cfg.ScanTimeout(),
			ConfidenceThreshold: cfg.Scan.ConfidenceThreshold,
			SettleSamples:       cfg.Weight.SettleSamples,
			ClassifierTimeout:   cfg.ClassifierTimeout(),
		})

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	plan := sensor.NewDemoPlan()
	supervisor := sensor.NewSupervisor(cfg.Liveness(), notifier,
		&sensor.SimScale{Plan: plan, SampleHz: cfg.Sensors.SampleHz, JitterG: cfg.Weight.ThresholdGrams / 4},
		&sensor.SimScanner{Plan: plan, Catalog: cat, Interval: opts.ScanGap},
		&sensor.Ticker{Interval: cfg.SweepInterval()},
	)
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		_ = supervisor.Run(ctx, queue)
	}()

	err = corr.Run(ctx)

	// Stop the sources and join them before the deferred notifier.Close
	// so no producer is still notifying during teardown.
	cancel()
	<-supDone

	if err != nil && err != context.Canceled {
		return WrapExitError(ExitCommandError, "correlator failed", err)
	}

	printSummary(cmd, corr.Ledger())
	return nil
}

func printSummary(cmd *cobra.Command, led *ledger.Ledger) {
	s := led.Summarize()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session closed: %d items, %.0fg, $%.2f\n", s.Items, s.TotalWeight, s.TotalPrice)
	for _, name := range s.Products {
		fmt.Fprintf(out, "  - %s\n", name)
	}
}
