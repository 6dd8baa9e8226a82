package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/imsgrelay/internal/app"
)

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runRelay(cmd.Context())
		},
	}
}

func (c *cli) runRelay(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := c.load(false)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger, err := c.initLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	logger.Info("relay starting",
		zap.Int64("chat_id", cfg.ChatID),
		zap.String("destination", cfg.Destination),
		zap.String("transcript_source", cfg.TranscriptSource),
		zap.String("brain", built.Brain),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("watching", built.Watcher != nil),
	)
	if err := built.Run(ctx, logger); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
