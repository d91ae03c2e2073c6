package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/utafrali/catalogsync/internal/app"
	"github.com/utafrali/catalogsync/internal/auth"
	"github.com/utafrali/catalogsync/internal/config"
	"github.com/utafrali/catalogsync/pkg/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "catalogsync",
		Short: "Keep the product search index in sync with the catalog",
		Long: `catalogsync rebuilds the product search index from the PostgreSQL
catalog and maintains product embeddings for semantic search.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newReindexCmd(), newEmbedCmd(), newServeCmd(), newTokenCmd())
	return root
}

func newReindexCmd() *cobra.Command {
	var recreate bool

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Write every catalog product to the search index once",
		Long: `Pages through the catalog and bulk-writes one search document per product.
With --recreate the index is rebuilt from the schema; unless INDEX_ALIAS_SWAP
is false, the rebuild goes to a new generation that replaces the old one only
after it is complete.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Reindex(ctx, recreate)
				if err != nil {
					return fmt.Errorf("reindex: %w", err)
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().BoolVar(&recreate, "recreate", false, "rebuild the index from the schema before writing")
	return cmd
}

func newEmbedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed",
		Short: "Compute embeddings for products whose text changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Backfill(ctx)
				if err != nil {
					return fmt.Errorf("embedding backfill: %w", err)
				}
				return printJSON(cmd, report)
			})
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API, health checks and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			log.Info("starting catalogsync",
				slog.String("environment", cfg.Environment),
				slog.Int("http_port", cfg.HTTPPort),
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			application, err := app.NewApp(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("initialize application: %w", err)
			}

			// Run blocks until shutdown.
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("run application: %w", err)
			}

			log.Info("catalogsync stopped")
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token signed with ADMIN_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.AuthEnabled() {
				return errors.New("ADMIN_JWT_SECRET is not set")
			}

			token, err := auth.NewJWTManager(cfg.AdminJWTSecret).Issue(subject, auth.RoleAdmin, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

// withApp runs fn against a fully wired App and shuts it down afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	return errors.Join(fn(ctx, application), application.Shutdown())
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.New(app.ServiceName, cfg.LogLevel), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
