package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aretw0/easel"
	"github.com/aretw0/easel/internal/cli"
	"github.com/aretw0/easel/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the canvas API: canvas reads and direct edits, agent turns streamed as
newline-delimited JSON, patch review and lock status over Server-Sent Events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		app, err := cli.NewApp(cfg, logger, os.LookupEnv)
		if err != nil {
			return err
		}
		defer app.Close()

		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			tui.PrintBanner(cmd.ErrOrStderr(), easel.Version)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := app.Serve(ctx, easel.ServeConfig{
			Addr:            cfg.Server.Addr,
			Version:         strings.TrimSpace(easel.Version),
			SweepInterval:   cfg.Patch.SweepInterval,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}); err != nil {
			return err
		}
		logger.Info("Easel server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides config)")
	serveCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
}
