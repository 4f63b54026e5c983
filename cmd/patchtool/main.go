package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/schaermu/patchtool/internal/config"
	"github.com/schaermu/patchtool/internal/manifest"
	"github.com/schaermu/patchtool/internal/reconcile"
	"github.com/schaermu/patchtool/internal/update"
	"github.com/schaermu/patchtool/internal/version"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	buildVersion = "dev"
	commit       = "none"
	date         = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "patchtool",
	Short: "Bring an installed file tree up to date with incremental patches",
	Long: `patchtool reads a version manifest, works out which incremental patches lead
from the installed version to the manifest's target version, applies them to
the install root and verifies every file against its expected signature.`,
	SilenceUsage: true,
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply staged incremental patches to the install root",
	Long: `Update resolves the patch chain from the installed version to the target
version, applies each staged patch in order, records the new version after
every patch and finally reports files that still need repair.`,
	RunE: runUpdate,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check installed files against the manifest",
	RunE:  runVerify,
}

var probeCmd = &cobra.Command{
	Use:   "probe <dir>",
	Short: "Check whether a directory can be written to",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("patchtool %s\n", buildVersion)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/patchtool/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log format (auto, text, json)")

	updateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := update.NewEngine(cfg, version.NewFileStore(nil), update.CopyApplier{}, logger, dryRun)

	report, err := engine.Run(ctx)
	if err != nil {
		logger.Error("update failed", "error", err)
		return err
	}

	printReport(cmd.OutOrStdout(), report)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := update.NewEngine(cfg, version.NewFileStore(nil), update.CopyApplier{}, logger, false)
	repair, err := engine.Verify(ctx)
	if err != nil {
		logger.Error("verification failed", "error", err)
		return err
	}

	printRepair(cmd.OutOrStdout(), repair)
	if len(repair) > 0 {
		return fmt.Errorf("%d file(s) need repair", len(repair))
	}
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !reconcile.ProbeWriteAccess(dir) {
		_, _ = fmt.Fprintf(out, "%s %s\n", color.RedString("no write access:"), dir)
		return fmt.Errorf("%w: %s", update.ErrNoWriteAccess, dir)
	}
	_, _ = fmt.Fprintf(out, "%s %s\n", color.GreenString("writable:"), dir)
	return nil
}

func printReport(w io.Writer, report *update.Report) {
	if report.UpToDate() {
		_, _ = fmt.Fprintf(w, "%s %s\n", color.GreenString("up to date:"), report.Plan.Target)
		return
	}
	for _, p := range report.Applied {
		_, _ = fmt.Fprintf(w, "%s %s\n", color.GreenString("applied:"), manifest.PatchVersionBrief(p.From, p.To))
	}
	if len(report.Applied) == 0 {
		for _, p := range report.Plan.Patches {
			_, _ = fmt.Fprintf(w, "%s %s\n", color.YellowString("pending:"), manifest.PatchVersionBrief(p.From, p.To))
		}
	}
	printRepair(w, report.Repair)
}

func printRepair(w io.Writer, repair []manifest.VersionItem) {
	for _, item := range repair {
		_, _ = fmt.Fprintf(w, "%s %s\n", color.RedString("needs repair:"), item.Path)
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

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	format := logFormat
	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/patchtool/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"project", cfg.Project.Name,
		"root_dir", cfg.Project.RootDir,
		"manifest", cfg.Paths.Manifest,
		"patches_dir", cfg.Paths.PatchesDir)

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
