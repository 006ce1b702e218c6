package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ning0612/siteupdater/internal/config"
	"github.com/Ning0612/siteupdater/internal/logger"
	"github.com/Ning0612/siteupdater/internal/progress"
	"github.com/Ning0612/siteupdater/internal/service"
)

var (
	// Set at build time
	version = "dev"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	offline   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "siteupdater",
	Short: "Keep an installation in sync with its update sites",
	Long: `siteupdater tracks every file of a local installation against a ranked
list of update sites. It reports the status of each file, installs what the
sites publish and lets maintainers upload local files to a site.

The default site always wins; other sites shadow each other by the configured
tie-break unless a maintainer forces a shadow with upload-complete-site.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("siteupdater %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs and the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides the config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json), overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "do not contact any update site")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(uploadCompleteSiteCmd)
	rootCmd.AddCommand(addUpdateSiteCmd)
	rootCmd.AddCommand(removeUpdateSiteCmd)
	rootCmd.AddCommand(listSitesCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration and initializes the global logger from it
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	if err := logger.Init(logger.NewConfig(level, format, cfg.Log.File)); err != nil {
		return nil, err
	}

	logger.Get().Debug("Configuration loaded",
		"root", cfg.Root,
		"state_dir", cfg.StateDir,
		"sites", len(cfg.Sites))
	return cfg, nil
}

func engineOptions() service.Options {
	return service.Options{
		Reporter: progress.NewTextReporter(os.Stderr),
		Offline:  offline,
	}
}

// withEngine opens an engine for one command and closes it afterwards
func withEngine(command string, fn func(ctx context.Context, e *service.Engine) error) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Shutdown()

	engine, err := service.NewEngine(cfg, engineOptions())
	if err != nil {
		return err
	}
	if err := engine.Open(ctx, command); err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Get().Warn("Failed to close engine", "error", err)
		}
	}()

	return fn(ctx, engine)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
