package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/facegrid/internal/catalog"
	"github.com/andresmejia3/facegrid/internal/display"
	"github.com/andresmejia3/facegrid/internal/processor"
	"github.com/andresmejia3/facegrid/internal/scheduler"
	"github.com/andresmejia3/facegrid/internal/stream"
	"github.com/andresmejia3/facegrid/internal/telemetry"
	"github.com/andresmejia3/facegrid/internal/utils"
	"github.com/andresmejia3/facegrid/internal/video"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var trackOpts Options

var trackCmd = &cobra.Command{
	Use:   "track <video|url>...",
	Short: "Recognize faces in up to four streams at once",
	Long: "Plays up to four videos or RTSP/HTTP streams side by side, labels every face against the identity store " +
		"and reports FPS, accuracy, CPU and memory. Unknown faces are boxed in red, known ones in green.",
	Args: cobra.MaximumNArgs(stream.NumSlots),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if len(args) > 0 {
			trackOpts.Inputs = args
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runTrack(ctx, trackOpts)
	},
}

func init() {
	addPipelineFlags(trackCmd.Flags(), &trackOpts)
	trackCmd.Flags().StringVarP(&trackOpts.Scheduler, "scheduler", "s", scheduler.ConcurrentName, "Scheduling strategy: sequential or concurrent")
	trackCmd.Flags().StringVar(&trackOpts.Serve, "serve", "", "Serve the live grid over HTTP/websocket on this address (e.g. :8080)")
	trackCmd.Flags().StringVarP(&trackOpts.OutDir, "out-dir", "o", "", "Keep the latest annotated frame of each stream in this folder")
	rootCmd.AddCommand(trackCmd)
}

// addPipelineFlags registers the flags shared by track and compare.
func addPipelineFlags(fs *pflag.FlagSet, o *Options) {
	addEngineFlags(fs, &o.EngineOptions, stream.NumSlots)
	fs.StringSliceVar(&o.Inputs, "streams", nil, "Streams to open when none are given as arguments")
	fs.Float64VarP(&o.Tolerance, "tolerance", "t", 0.5, "Face matching tolerance (lower is stricter)")
	fs.StringVar(&o.TickInterval, "tick", scheduler.DefaultTickInterval.String(), "Frame tick interval per stream")
	fs.IntVarP(&o.Width, "width", "w", 0, "Downscale frames to this width before detection (0 keeps the source size)")
	fs.IntVarP(&o.Quality, "quality", "q", 85, "JPEG quality of annotated frames")
	fs.StringVar(&o.TelemetryOut, "telemetry-out", "", "Write a CBOR telemetry report to this file")
	fs.IntVar(&o.LogEvery, "log-every", 0, "Log one in every N frames per stream (0 logs stream changes only)")
}

// validateTrackFlags ensures all CLI arguments are valid before starting heavy processes.
func validateTrackFlags(opts *Options) error {
	if len(opts.Inputs) == 0 {
		return errors.New("at least one video or stream URL is required")
	}
	if len(opts.Inputs) > stream.NumSlots {
		return fmt.Errorf("at most %d streams are supported, got %d", stream.NumSlots, len(opts.Inputs))
	}
	if _, err := scheduler.ParseStrategy(opts.Scheduler); err != nil {
		return err
	}
	if opts.Tolerance <= 0 || opts.Tolerance > 2.0 {
		return fmt.Errorf("tolerance must be between 0.0 and 2.0, got %f", opts.Tolerance)
	}
	tick, err := time.ParseDuration(opts.TickInterval)
	if err != nil {
		return fmt.Errorf("invalid tick format (use '30ms', '1s'): %w", err)
	}
	if tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", opts.TickInterval)
	}
	opts.tick = tick
	if opts.Quality < 1 || opts.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", opts.Quality)
	}
	if opts.Width < 0 {
		return fmt.Errorf("width must not be negative, got %d", opts.Width)
	}
	return validateEngineFlags(&opts.EngineOptions)
}

func runTrack(ctx context.Context, opts Options) error {
	if err := validateTrackFlags(&opts); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}
	logger := newLogger()

	cat := loadCatalog(ctx)
	fmt.Fprintf(os.Stderr, "🗄️  Loaded %d reference embeddings (%d identities)\n", cat.Len(), len(cat.Names()))

	engines := min(opts.NumEngines, len(opts.Inputs))
	pool, err := startEngines(opts.EngineOptions, engines, logger)
	if err != nil {
		utils.ShowError("Failed to start face engines", err, nil)
		return err
	}
	defer pool.Close()

	sinks := display.Multi{display.NewLogSink(logger, opts.LogEvery)}
	if opts.OutDir != "" {
		dir, err := display.NewDirSink(opts.OutDir, logger)
		if err != nil {
			utils.ShowError("Failed to prepare output folder", err, nil)
			return err
		}
		sinks = append(sinks, dir)
		fmt.Fprintf(os.Stderr, "🖼️  Writing annotated frames to %s\n", opts.OutDir)
	}
	if opts.Serve != "" {
		hub := display.NewHub(logger)
		sinks = append(sinks, hub)
		go func() {
			if err := hub.Serve(ctx, opts.Serve); err != nil {
				logger.Error("display server stopped", "error", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "📡 Live grid on http://%s\n", opts.Serve)
	}

	sched, err := newScheduler(opts, opts.Scheduler, pool, sinks, cat, logger)
	if err != nil {
		utils.ShowError("Failed to build scheduler", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "▶️  Tracking %d stream(s) with the %s scheduler. Press Ctrl+C to stop.\n", len(opts.Inputs), opts.Scheduler)
	start := time.Now()
	runErr := sched.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, "\n🛑 Stopping...")
		runErr = nil
	}
	if runErr != nil {
		utils.ShowError("Tracking failed", runErr, nil)
		return runErr
	}

	report := sched.Report()
	fmt.Fprintf(os.Stderr, "\n🏁 Tracking finished in %s.\n", time.Since(start).Round(time.Millisecond))
	printSummary(os.Stderr, []telemetry.Report{report})
	return saveReports(opts.TelemetryOut, []telemetry.Report{report})
}

// loadCatalog falls back to an empty catalog when the store is unavailable.
func loadCatalog(ctx context.Context) *catalog.Catalog {
	db, err := openStore(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Identity store unavailable, every face will be Unknown: %v\n", err)
		return catalog.Empty()
	}
	cat, err := catalog.Load(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to load identities, every face will be Unknown: %v\n", err)
	}
	return cat
}

func newScheduler(opts Options, strategyName string, enc processor.FaceEncoder, sink display.Sink, cat *catalog.Catalog, logger *slog.Logger) (*scheduler.Scheduler, error) {
	strategy, err := scheduler.ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}
	cfg := scheduler.Config{
		TickInterval: opts.tick,
		Streams:      opts.Inputs,
		ExitWhenDone: true,
		Catalog:      cat,
		Logger:       logger,
	}
	if sampler, err := telemetry.NewProcessSampler(); err == nil {
		cfg.Sampler = sampler
	} else {
		logger.Warn("system sampling disabled", "error", err)
	}
	proc := processor.New(enc, processor.Config{Tolerance: opts.Tolerance, JPEGQuality: opts.Quality})
	return scheduler.New(strategy, proc, video.FFmpegSource{Width: opts.Width}, sink, cfg), nil
}

// printSummary prints one block per report.
func printSummary(out io.Writer, reports []telemetry.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "EDITION\tFRAMES\tFACES\tMATCHED\tMEAN FPS\tMEAN ACCURACY\tPEAK CPU\tPEAK MEM")
	fmt.Fprintln(w, "-------\t------\t-----\t-------\t--------\t-------------\t--------\t--------")
	for _, r := range reports {
		s := r.Summary
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.1f\t%.1f%%\t%.1f%%\t%.1f%%\n",
			r.Edition, s.Frames, s.Faces, s.Matched, s.MeanFPS, s.MeanAccuracy, s.PeakCPU, s.PeakMemory)
	}
	w.Flush()

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "EDITION\tSLOT\tSTREAM\tSTATE\tDURATION\tTICKS\tPROCESSED\tDROPPED\tERRORS")
	fmt.Fprintln(w, "-------\t----\t------\t-----\t--------\t-----\t---------\t-------\t------")
	for _, r := range reports {
		for _, st := range r.Streams {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.Edition, st.Slot, st.Path, st.State, st.Duration.Round(time.Millisecond),
				st.Ticks, st.Dispatched, st.Dropped, st.Errors)
		}
	}
	w.Flush()
}

func saveReports(path string, reports []telemetry.Report) error {
	if path == "" {
		return nil
	}
	if err := telemetry.SaveReports(path, reports); err != nil {
		utils.ShowError("Failed to write telemetry report", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "💾 Telemetry report saved to %s\n", path)
	return nil
}
