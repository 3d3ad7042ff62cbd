package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andresmejia3/facegrid/internal/config"
	"github.com/andresmejia3/facegrid/internal/store"
	"github.com/andresmejia3/facegrid/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EngineOptions describes the face engine processes a command starts.
type EngineOptions struct {
	NumEngines    int
	Python        string
	EngineScript  string
	WorkerTimeout string

	timeout time.Duration
}

// Options holds shared configuration for track, compare and identify
type Options struct {
	EngineOptions

	Inputs       []string
	Scheduler    string
	Tolerance    float64
	TickInterval string
	Width        int
	Quality      int
	OutDir       string
	Serve        string
	TelemetryOut string
	LogEvery     int

	tick time.Duration
}

var (
	// DB is the identity store, opened on first use by subcommands
	DB *store.Store
	// dbURL is the connection string
	dbURL      string
	configPath string
	envFile    string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facegrid",
	Short:   "Four-stream face recognition grid",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return err
		}
		if configPath == "" {
			return nil
		}
		f, err := config.Load(configPath)
		if err != nil {
			return err
		}
		_, err = f.Apply(cmd.Flags())
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
			DB = nil
		}
	},
}

// Execute runs the root command. SIGTERM cancels everything; commands decide
// for themselves what SIGINT means.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Identity store: a postgres:// URL or a SQLite file (default: POSTGRES_* env vars, then faces.db)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML file of flag values (command line wins)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading POSTGRES_* variables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
}

// openStore connects to the identity store once per process.
func openStore(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	db, err := store.New(ctx, config.ResolveDSN(dbURL, os.Getenv))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to identity store: %w", err)
	}
	DB = db
	return DB, nil
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(logLevel))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func addEngineFlags(fs *pflag.FlagSet, o *EngineOptions, engines int) {
	def := worker.DefaultConfig()
	fs.IntVarP(&o.NumEngines, "engines", "e", engines, "Number of face engine processes")
	fs.StringVar(&o.Python, "python", def.Python, "Python interpreter for the face engine")
	fs.StringVar(&o.EngineScript, "engine-script", def.Script, "Face engine script")
	fs.StringVar(&o.WorkerTimeout, "worker-timeout", def.ReadTimeout.String(), "Maximum time to wait for one engine response")
}

func validateEngineFlags(o *EngineOptions) error {
	if o.NumEngines < 1 {
		o.NumEngines = 1
	}
	d, err := time.ParseDuration(o.WorkerTimeout)
	if err != nil {
		return fmt.Errorf("invalid worker-timeout format (use '30s', '500ms'): %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("worker-timeout must be positive, got %s", o.WorkerTimeout)
	}
	o.timeout = d
	return nil
}

// startEngines launches n engines behind a pool.
func startEngines(o EngineOptions, n int, logger *slog.Logger) (*worker.Pool, error) {
	cfg := worker.DefaultConfig()
	cfg.Python = o.Python
	cfg.Script = o.EngineScript
	if o.timeout > 0 {
		cfg.ReadTimeout = o.timeout
	}
	fmt.Fprintf(os.Stderr, "🚀 Starting %d face engine(s)...\n", n)
	return worker.NewPool(n, worker.PythonFactory(cfg), logger)
}
