package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mfeller/tunesyncd/internal/abctool"
	"github.com/mfeller/tunesyncd/internal/config"
	"github.com/mfeller/tunesyncd/internal/metrics"
	"github.com/mfeller/tunesyncd/internal/release"
	"github.com/mfeller/tunesyncd/internal/script"
	"github.com/mfeller/tunesyncd/internal/sync"
	"github.com/mfeller/tunesyncd/internal/webhook"
)

// Exit codes form the pipeline's scripting contract. "No change" is a
// distinct, documented status rather than an overload of the failure exit.
const (
	exitOK          = 0  // success, artifacts published (or nothing to abort in dry-run)
	exitNoChange    = 3  // success, upstream content unchanged, no side effects
	exitPrecheck    = 10 // converter version mismatch
	exitFetch       = 11 // external fetch step failed
	exitBuild       = 12 // external build step failed or artifacts missing
	exitPublish     = 13 // artifact relocation failed
	exitCommitState = 14 // fingerprint persistence failed
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool

	// Set by runSync for the "no change" success path
	exitStatus int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
	os.Exit(exitStatus)
}

var rootCmd = &cobra.Command{
	Use:   "tunesyncd",
	Short: "Rebuild and republish the tune dataset when upstream content changes",
	Long: `tunesyncd keeps a derived tune-search dataset in sync with the upstream
thesession.org data dumps. Each run fetches the raw data, fingerprints it,
and rebuilds and republishes the derived dataset only when the content has
actually changed since the last successful publish.

It can run as a oneshot pipeline (via cron or a systemd timer) or as a
long-running webhook daemon that responds to pushes on the upstream data
repository.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the pipeline once",
	Long: `Sync verifies the converter tool version, fetches the upstream data,
fingerprints it, and compares the fingerprint with the state recorded by the
last successful publish. On a change it rebuilds the dataset, moves the
artifacts into the published location, persists the new fingerprint, and
optionally commits, pushes, and deploys downstream.

Exit codes: 0 published, 3 no change, 10 version precheck failed, 11 fetch
failed, 12 build failed, 13 publish failed, 14 state commit failed.`,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve starts a long-running HTTP server that listens for GitHub push
events on the upstream data repository and triggers pipeline runs when it is
updated. An initial run is performed at startup so pushes delivered while
the server was down are not missed.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tunesyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/tunesyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "stop after change detection and report what would be done")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create the pipeline engine with its external collaborators
	engine := sync.NewEngine(cfg,
		abctool.NewShellConverter(cfg.Tool.Path, cfg.Tool.VersionFlag),
		script.NewShellRunner(cfg.Steps.PythonEnv),
		newReleaser(cfg),
		logger,
		metrics.NoopRecorder{},
		dryRun)

	outcome, err := engine.Run(ctx)
	if err != nil {
		logger.Error("pipeline run failed", "error", err)
		return err
	}

	if outcome == sync.OutcomeNoChange {
		exitStatus = exitNoChange
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve mode is not enabled in the configuration")
	}

	recorder := metrics.NewPrometheusRecorder(nil)
	server, err := webhook.NewServer(cfg,
		abctool.NewShellConverter(cfg.Tool.Path, cfg.Tool.VersionFlag),
		script.NewShellRunner(cfg.Steps.PythonEnv),
		newReleaser(cfg),
		logger,
		recorder)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("webhook server failed", "error", err)
		return err
	}

	return nil
}

// newReleaser returns the configured downstream releaser, or nil when the
// release step is disabled.
func newReleaser(cfg *config.Config) release.Releaser {
	if !cfg.Release.Enabled {
		return nil
	}
	return release.NewGitReleaser(cfg.Release.RepoDir, cfg.Release.Remote, cfg.Release.Branch)
}

// exitCodeFor maps pipeline stage failures onto the documented exit codes
func exitCodeFor(err error) int {
	var stageErr *sync.StageError
	if !errors.As(err, &stageErr) {
		return 1
	}

	switch stageErr.Stage {
	case sync.StagePrecheck:
		return exitPrecheck
	case sync.StageFetch:
		return exitFetch
	case sync.StageBuild:
		return exitBuild
	case sync.StagePublish:
		return exitPublish
	case sync.StageCommitState:
		return exitCommitState
	default:
		return 1
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Optional .env file for secrets kept out of the YAML
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded environment overrides from .env")
	}

	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/tunesyncd/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"root_dir", cfg.Paths.RootDir,
		"publish_dir", cfg.Paths.PublishDir,
		"tool", cfg.Tool.Path)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
