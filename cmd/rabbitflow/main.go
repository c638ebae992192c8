// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GwynCerbin/rabbitflow/pkg/adapter"
	"github.com/GwynCerbin/rabbitflow/pkg/config"
	"github.com/GwynCerbin/rabbitflow/pkg/redisstore"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "rabbitflow",
		Short:         "Pipeline runtime tooling",
		Long:          "rabbitflow provisions the queue topology of a pipeline and inspects its dead-letter store.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}

			zap.ReplaceGlobals(logger)

			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = zap.L().Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to the YAML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")

	rootCmd.AddCommand(newProvisionCmd(&configPath), newFailuresCmd(&configPath))

	return rootCmd
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl

	return cfg.Build()
}

func newProvisionCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Declare exchanges and work/retry queue pairs",
		Long: "provision declares the work and retry exchanges and, for every configured queue, " +
			"a work queue and a retry queue dead-lettering into each other. Running it again is a no-op.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			if len(cfg.Topology.Queues) == 0 {
				return fmt.Errorf("no queues configured under topology.queues")
			}

			return adapter.Provision(&cfg.Broker, cfg.Topology.WorkExchange, cfg.Topology.RetryExchange, cfg.Topology.Queues, zap.L())
		},
	}
}

func newFailuresCmd(configPath *string) *cobra.Command {
	var limit int64

	failuresCmd := &cobra.Command{Use: "failures", Short: "Inspect the dead-letter store"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print recorded failures as JSON lines, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return listFailures(ctx, cfg.Redis, limit, json.NewEncoder(cmd.OutOrStdout()))
		},
	}
	listCmd.Flags().Int64Var(&limit, "limit", 20, "maximum number of records, 0 for all")

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of recorded failures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			client, err := redisstore.Open(cmd.Context(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			defer client.Close()

			n, err := redisstore.NewFailureStore(client, cfg.Redis.FailureKey, 0).Len(cmd.Context())
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)

			return err
		},
	}

	failuresCmd.AddCommand(listCmd, countCmd)

	return failuresCmd
}

func listFailures(ctx context.Context, cfg config.Redis, limit int64, enc *json.Encoder) error {
	client, err := redisstore.Open(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		return err
	}
	defer client.Close()

	records, err := redisstore.NewFailureStore(client, cfg.FailureKey, 0).List(ctx, limit)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}

	return nil
}
