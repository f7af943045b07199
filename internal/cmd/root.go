// Package cmd implements the caretaker command line.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "caretaker",
	Short: "Automated repository maintenance driven by an intelligence provider",
	Long: `caretaker runs a fixed pipeline of maintenance stages (code optimization,
review, security analysis, documentation, dependency updates, changelog and
release) over a set of GitHub repositories. Every run works on a per-day
branch and publishes its results as commits, issues, pull requests and
releases.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./caretaker.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging.format (json, text)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which commands use for
// cancellation and graceful shutdown.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig loads and validates the configuration, then installs the
// process logger it describes.
func loadConfig() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, setupLogger(cfg), nil
}

func setupLogger(cfg *config.Config) *log.Logger {
	level, format := cfg.Logging.Level, cfg.Logging.Format
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}

	lc := log.ConfigFrom(level, format)
	lc.Service = "caretaker"
	lc.Output = os.Stderr
	logger := log.New(lc)
	log.SetDefaultLogger(logger)
	return logger
}
