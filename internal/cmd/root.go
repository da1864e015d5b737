// Package cmd implements the meeting-scraper command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sidekick2020/meeting-scraper-sub002/internal/config"
	"github.com/sidekick2020/meeting-scraper-sub002/internal/observability"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var (
	cfgFile  string
	logLevel string
	logJSON  bool

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "meeting-scraper",
	Short: "Recovery-meeting ingestion and clustering pipeline",
	Long: `meeting-scraper ingests recovery-meeting listings from public
feeds, deduplicates and geocodes them into a canonical store, and
computes spatial cluster indicators and coverage statistics.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		level := cfg.Logging.Level
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		jsonOut := cfg.Logging.JSON
		if cmd.Flags().Changed("log-json") {
			jsonOut = logJSON
		}
		if err := observability.Init(level, jsonOut); err != nil {
			return fmt.Errorf("configure logging: %w", err)
		}

		appConfig = cfg
		return nil
	},
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
}

// Execute runs the CLI. The caller owns process exit.
func Execute() error {
	defer observability.Sync()
	return rootCmd.Execute()
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}
