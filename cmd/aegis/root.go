package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wehubfusion/Aegis/internal/tracing"
	"github.com/wehubfusion/Aegis/pkg/concurrency"
	"github.com/wehubfusion/Aegis/pkg/config"
)

// Version is overridden at build time with -ldflags "-X main.Version=..."
var Version = "dev"

// Global flag values.
var (
	flagConfig   string
	flagLogLevel string
)

// Set by PersistentPreRunE for every subcommand.
var (
	cfg           *config.Config
	logger        *zap.Logger
	undoMaxprocs  func()
	shutdownTrace tracing.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:     "aegis",
	Short:   "Aegis hosts third-party dashboard widgets behind a sandbox",
	Version: Version,
	Long: `Aegis validates and runs widget transformation code in a restricted
JavaScript runtime, and loads widget bundles described by manifests.

Configuration is read from --config (YAML) and AEGIS_* environment variables.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		teardown()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(cspCmd)
	rootCmd.AddCommand(preloadCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the aegis version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "aegis", Version)
	},
}

// setup loads configuration, builds the logger and applies the container CPU quota
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(flagConfig)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	logger, err = newLogger(level, cfg.Log.Format, cfg.Development)
	if err != nil {
		return err
	}

	undoMaxprocs = concurrency.InitializeForKubernetes(logger)

	shutdownTrace, err = tracing.Setup(cmd.Context(), cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing unavailable", zap.Error(err))
	}
	return nil
}

func teardown() {
	if shutdownTrace != nil {
		_ = tracing.Shutdown(shutdownTrace, logger)
	}
	if undoMaxprocs != nil {
		undoMaxprocs()
	}
	if logger != nil {
		_ = logger.Sync()
	}
}

// newLogger writes to stderr so command output on stdout stays machine readable
func newLogger(level, format string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zc := zap.NewProductionConfig()
	if development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	if format == "console" {
		zc.Encoding = "console"
	}
	return zc.Build()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
