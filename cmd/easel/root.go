package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/easel/internal/config"
	"github.com/aretw0/easel/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "easel",
	Short: "Easel is a patch engine for agent-edited canvas graphs",
	Long: `Easel lets AI agents edit canvas node graphs through sandboxed transformation
programs. Every change is proposed as a patch that a human previews and accepts.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

// loadConfig reads the configuration named by --config and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	logger := logging.New(logging.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
