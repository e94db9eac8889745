// Command dailycare runs the elder-care assistant: an HTTP and gRPC server,
// a terminal chat, a tool self-check and the canned quick-action scenarios.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dailyux/eldercare-go/config"
	"github.com/dailyux/eldercare-go/observability"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	configPath string
	envFiles   []string
	logLevel   string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dailycare",
	Short: "DailyCare - multi-agent elder-care assistant",
	Long: `DailyCare answers natural-language requests from an older adult living alone.
A supervisor routes each request to one of three specialists:

  medication_reminder_agent  reminders, intake checks, escalation to family
  emergency_agent            gas leak, fire alarm and water burst action plans
  communication_agent        device-aware message delivery

Configuration is read from a YAML file, a .env file and DAILYCARE_* environment
variables, in that order. Set GROQ_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY to
enable the language model.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath, envFiles...)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Observability.LogLevel = logLevel
		}
		if verbose {
			cfg.Observability.LogLevel = "debug"
		}
		level, err := observability.ParseLevel(cfg.Observability.LogLevel)
		if err != nil {
			return err
		}
		logger = observability.ConfigureLogging(level, cfg.Observability.LogJSON, true)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "dailycare.yaml", "configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, chatCmd, toolsCmd, scenarioCmd, configCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "dailycare", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
