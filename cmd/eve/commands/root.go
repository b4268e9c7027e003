package commands

import (
	"github.com/hupe1980/eve/config"
	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string
	flagTarget   int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "eve",
	Short: "Eve concurrency core toolbox",
	Long: `eve exercises the adaptive run queue, the scheduling clock and the
agent inbox from the command line.

Settings come from an optional YAML file and can be overridden by flags.

Example config file (eve.yaml):
  runqueue:
    target: 8
    scan_interval: 100ms
  inbox:
    proceed_timeout: 5s
  logging:
    level: debug
    format: text`,
	SilenceUsage: true,
}

// Command returns the root cobra command for mounting into a parent CLI.
func Command() *cobra.Command {
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().IntVar(&flagTarget, "target", 0, "Run queue target override (0 keeps the configured value)")

	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(triggersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(inboxCmd)
}

// loadConfig reads the config file if given and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return config.Config{}, err
		}
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagTarget > 0 {
		cfg.RunQueue.Target = flagTarget
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
