package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/andresmejia3/facegrid/internal/display"
	"github.com/andresmejia3/facegrid/internal/scheduler"
	"github.com/andresmejia3/facegrid/internal/stream"
	"github.com/andresmejia3/facegrid/internal/telemetry"
	"github.com/andresmejia3/facegrid/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var compareOpts Options

var compareCmd = &cobra.Command{
	Use:   "compare <video|url>...",
	Short: "Run the sequential and concurrent schedulers side by side on the same streams",
	Long: "Starts both editions at the same time, each with its own face engines, and prints " +
		"processed frames, dropped ticks, FPS, accuracy and resource use for each.",
	Args: cobra.MaximumNArgs(stream.NumSlots),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if len(args) > 0 {
			compareOpts.Inputs = args
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runCompare(ctx, compareOpts)
	},
}

func init() {
	addPipelineFlags(compareCmd.Flags(), &compareOpts)
	compareCmd.Flags().StringVarP(&compareOpts.OutDir, "out-dir", "o", "", "Keep the latest annotated frames under <out-dir>/<edition>")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(ctx context.Context, opts Options) error {
	opts.Scheduler = scheduler.ConcurrentName
	if err := validateTrackFlags(&opts); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}
	logger := newLogger()
	cat := loadCatalog(ctx)

	editions := []string{scheduler.SequentialName, scheduler.ConcurrentName}
	reports := make([]telemetry.Report, len(editions))

	fmt.Fprintf(os.Stderr, "⚖️  Comparing %s and %s on %d stream(s)...\n", editions[0], editions[1], len(opts.Inputs))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range editions {
		i, name := i, name
		g.Go(func() error {
			elog := logger.With("edition", name)
			engines := 1
			if name == scheduler.ConcurrentName {
				engines = min(opts.NumEngines, len(opts.Inputs))
			}
			pool, err := startEngines(opts.EngineOptions, engines, elog)
			if err != nil {
				return fmt.Errorf("%s: failed to start face engines: %w", name, err)
			}
			defer pool.Close()

			sinks := display.Multi{display.NewLogSink(elog, opts.LogEvery)}
			if opts.OutDir != "" {
				dir, err := display.NewDirSink(filepath.Join(opts.OutDir, name), elog)
				if err != nil {
					return err
				}
				sinks = append(sinks, dir)
			}

			sched, err := newScheduler(opts, name, pool, sinks, cat, elog)
			if err != nil {
				return err
			}
			err = sched.Run(gctx)
			reports[i] = sched.Report()
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		utils.ShowError("Comparison failed", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "\n🏁 Comparison finished in %s.\n\n", time.Since(start).Round(time.Millisecond))
	printSummary(os.Stdout, reports)
	return saveReports(opts.TelemetryOut, reports)
}
