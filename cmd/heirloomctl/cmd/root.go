// Package cmd holds the heirloomctl operator commands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"heirloom/internal/config"
	"heirloom/internal/logging"

	"github.com/spf13/cobra"
)

var (
	envFile  string
	logLevel string
	cfg      config.Config
	log      *logging.LogrusLogger
)

var rootCmd = &cobra.Command{
	Use:               "heirloomctl",
	Short:             "Operator tooling for the heirloom vault service",
	PersistentPreRunE: setup,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setup(_ *cobra.Command, _ []string) error {
	var paths []string
	if envFile != "" {
		paths = append(paths, envFile)
	}
	if err := config.LoadDotEnv(paths...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	cfg = config.FromEnv()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log = logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	return nil
}
