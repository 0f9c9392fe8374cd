/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/accountkit/authserver/internal/events"
	"github.com/accountkit/authserver/internal/mq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// workerCmd consumes account events and writes them to the audit log.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume account events into the audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx := cmd.Context()
		queue, err := mq.NewFromConfig(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("init message queue: %w", err)
		}
		if queue == nil {
			return errors.New("MQ_BACKEND must be set to run the worker")
		}
		defer func() { _ = queue.Close() }()

		logger.Info("worker consuming", zap.String("backend", cfg.MQ.Backend), zap.String("channel", cfg.MQ.Channel))
		err = events.Consume(ctx, queue, cfg.MQ.Channel, logger, events.AuditLog(logger))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker stopped", zap.Error(err))
			return err
		}
		logger.Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
