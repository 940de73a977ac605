package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/observability"
	"github.com/akriventsev/ordering/internal/app"
	"github.com/akriventsev/ordering/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "ordering-server",
		Short:         "Order processing service with grace period saga",
		Long:          "Accepts order commands over HTTP and drives orders through stock validation and payment after the grace period.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./ordering.yaml)")
	return cmd
}

func run(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	if cfg.Service.Version == "dev" {
		cfg.Service.Version = version
	}

	logger, err := observability.NewLogger(cfg.LogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		return err
	}
	defer func() { _ = logger.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build service", zap.Error(err))
		return err
	}
	if err := service.Run(ctx); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		return err
	}
	return nil
}
