package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cachepkg "github.com/promptgate/promptgate/pkg/cache"
	"github.com/promptgate/promptgate/pkg/config"
	"github.com/promptgate/promptgate/pkg/engine"
	"github.com/promptgate/promptgate/pkg/executor"
	"github.com/promptgate/promptgate/pkg/jobs"
	"github.com/promptgate/promptgate/pkg/ratelimit"
	"github.com/promptgate/promptgate/pkg/runner"
	"github.com/promptgate/promptgate/pkg/server"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			limiter, err := ratelimit.New(cfg.DBPath, cfg.RateLimit.MaxPerHour)
			if err != nil {
				return fmt.Errorf("init limiter: %w", err)
			}
			defer func() { _ = limiter.Close() }()

			var respCache *cachepkg.Cache
			if cfg.Cache.Enabled {
				respCache = cachepkg.New()
			}

			exec := executor.New(cfg.Tool)
			run := runner.New(limiter, respCache, exec, cfg.Retry.MaxAttempts)

			eng := engine.New(run, cfg.Queue.Depth)
			defer eng.Close()

			registry := jobs.NewRegistry()

			srv := server.New(cfg, limiter, respCache, run, eng, registry)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("starting promptgate with tool %q, %d requests/hour", cfg.Tool.Command, limiter.Max())
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "promptgate.yaml", "path to config file")
	return cmd
}
