package main

// @title           ledgersync API
// @version         1.0
// @description     Mirrors storefront orders into an accounting service: invoices, payments, credit notes and reconciliation reports.

// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/auth"
	"github.com/custodia-labs/ledgersync/internal/adapters/driving/http"
	"github.com/custodia-labs/ledgersync/internal/config"
	"github.com/custodia-labs/ledgersync/internal/core/services"
	"github.com/custodia-labs/ledgersync/internal/worker"
)

var version = "dev"

// rootOptions holds state shared by every subcommand.
type rootOptions struct {
	EnvFile string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "ledgersync",
		Short:         "Order to accounting sync and reconciliation engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.EnvFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = cfg.NewLogger()
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newPayCommand(opts))
	cmd.AddCommand(newRefundCommand(opts))
	cmd.AddCommand(newBulkCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newSweepReportsCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newCredentialsCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	cmd.AddCommand(newWebhookSecretCommand(opts))

	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// withApp runs fn against a fully wired app and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, opts.cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// printJSON writes v to stdout, indented.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [api|worker|all]",
		Short: "Run the HTTP API, the task worker, or both",
		Long: `Run the long-lived processes.

  api     HTTP API only; syncs run inline or are queued
  worker  task worker plus the retry scheduler and stale-report sweep
  all     both in one process (default)

Example:
  ledgersync serve all
  RUN_MODE=worker ledgersync serve`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"api", "worker", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := os.Getenv("RUN_MODE")
			if len(args) > 0 {
				mode = args[0]
			}
			if mode == "" {
				mode = "all"
			}
			if mode != "api" && mode != "worker" && mode != "all" {
				return fmt.Errorf("unknown mode %q (use: api, worker, or all)", mode)
			}
			if mode != "worker" {
				if err := opts.cfg.RequireAPI(); err != nil {
					return err
				}
			}
			opts.logger.Info("ledgersync starting", "version", version, "mode", mode)

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return serve(ctx, a, mode)
			})
		},
	}
}

func serve(ctx context.Context, a *app, mode string) error {
	g, ctx := errgroup.WithContext(ctx)

	if mode == "worker" || mode == "all" {
		var background []worker.Background
		if a.cfg.RetryEnabled {
			background = append(background, a.retry)
		} else {
			a.logger.Info("retry scheduler disabled via RETRY_ENABLED=false")
		}

		w := worker.NewWorker(worker.WorkerConfig{
			TaskQueue:      a.taskQueue,
			Syncer:         a.orchestrator,
			Bulk:           a.bulk,
			Reconciler:     a.reconciler,
			Background:     background,
			Logger:         a.logger,
			Concurrency:    a.cfg.WorkerConcurrency,
			DequeueTimeout: a.cfg.DequeueTimeout,
		})
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			a.logger.Info("stopping worker")
			w.Stop()
			return nil
		})
	}

	if mode == "api" || mode == "all" {
		authService := services.NewAuthService(auth.NewAdapter(a.cfg.JWTSecret), services.AuthConfig{
			WebhookSecretHash: a.cfg.WebhookSecretHash,
			DefaultTokenTTL:   a.cfg.TokenTTL,
		})

		svc := http.Services{
			Auth:        authService,
			Sync:        a.orchestrator,
			Bulk:        a.bulk,
			Reconciler:  a.reconciler,
			Settings:    services.NewSettingsService(a.settings, a.logger),
			Credentials: a.tokens,
			TaskQueue:   a.taskQueue,
			DB:          a.db,
		}
		if a.redisClient != nil {
			svc.Redis = redisPinger{client: a.redisClient}
		}

		server := http.NewServer(http.Config{
			Host:           a.cfg.Host,
			Port:           a.cfg.Port,
			Version:        version,
			AllowedOrigins: a.cfg.AllowedOrigins,
			Logger:         a.logger,
		}, svc)
		g.Go(func() error {
			return server.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
