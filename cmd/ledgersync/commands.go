package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/auth"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
	"github.com/custodia-labs/ledgersync/internal/core/services"
)

const dateLayout = "2006-01-02"

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var syncOpts domain.SyncOptions
	var queue bool

	cmd := &cobra.Command{
		Use:   "sync <order-id>",
		Short: "Sync one order into an invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if queue {
					return enqueue(ctx, cmd, a, domain.NewSyncRecordTask(args[0], syncOpts))
				}
				result, err := a.orchestrator.SyncRecord(ctx, args[0], syncOpts)
				if err != nil {
					return err
				}
				return printResult(cmd, result, result.Success, result.Error)
			})
		},
	}

	cmd.Flags().BoolVar(&syncOpts.AsDraft, "draft", false, "create the invoice as a draft")
	cmd.Flags().BoolVar(&syncOpts.Force, "force", true, "bypass the already-synced check")
	cmd.Flags().BoolVar(&queue, "queue", false, "enqueue for the worker instead of running inline")
	return cmd
}

func newPayCommand(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "pay <order-id>",
		Short: "Apply an order's payment to its invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result, err := a.orchestrator.ApplyPayment(ctx, args[0], force)
				if err != nil {
					return err
				}
				return printResult(cmd, result, result.Success, result.Error)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "approve a draft invoice before applying")
	return cmd
}

func newRefundCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refund <order-id> <refund-id>",
		Short: "Create a credit note for a refund",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result, err := a.orchestrator.SyncRefund(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printResult(cmd, result, result.Success, result.Error)
			})
		},
	}
}

func newBulkCommand(opts *rootOptions) *cobra.Command {
	var (
		ids      []string
		from, to string
		req      driving.BatchRequest
	)

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Sync a batch of orders sequentially",
		Long: `Sync a batch of orders one after another.

Select orders with --ids or with a --from/--to date range (inclusive, YYYY-MM-DD).

Example:
  ledgersync bulk --ids 1001,1002,1003
  ledgersync bulk --from 2026-09-01 --to 2026-09-30 --draft`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ID = uuid.NewString()
			req.RecordIDs = ids
			if len(ids) == 0 {
				start, end, err := parsePeriod(from, to)
				if err != nil {
					return err
				}
				req.From, req.To = &start, &end
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result, err := a.bulk.SyncBatch(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}

	cmd.Flags().StringSliceVar(&ids, "ids", nil, "comma-separated order ids")
	cmd.Flags().StringVar(&from, "from", "", "first order date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last order date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&req.AsDraft, "draft", false, "create invoices as drafts")
	cmd.Flags().BoolVar(&req.Force, "force", false, "re-sync orders that are already synced")
	cmd.MarkFlagsMutuallyExclusive("ids", "from")
	cmd.MarkFlagsMutuallyExclusive("ids", "to")
	return cmd
}

func newRetryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Run one retry pass over failed orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				summary, err := a.retry.Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

func newReconcileCommand(opts *rootOptions) *cobra.Command {
	var from, to string
	var queue bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare local orders with remote invoices for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parsePeriod(from, to)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if queue {
					return enqueue(ctx, cmd, a, domain.NewReconcileTask(start, end))
				}
				report, err := a.reconciler.GenerateReport(ctx, start, end)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "period start (YYYY-MM-DD, required)")
	cmd.Flags().StringVar(&to, "to", "", "period end, inclusive (YYYY-MM-DD, required)")
	cmd.Flags().BoolVar(&queue, "queue", false, "enqueue for the worker instead of running inline")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newSweepReportsCommand(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sweep-reports",
		Short: "Fail reconciliation reports stuck in running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if timeout <= 0 {
					timeout = a.cfg.ReportTimeout
				}
				n, err := a.reconciler.MarkStaleReportsFailed(ctx, timeout)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "marked %d stale report(s) failed\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "age after which a running report is stale (default: REPORT_TIMEOUT)")
	return cmd
}

// statusView is the output of the status command.
type statusView struct {
	Credentials *domain.CredentialSummary `json:"credentials,omitempty"`
	RateBudget  domain.RateBudget         `json:"rate_budget"`
	Queue       any                       `json:"queue,omitempty"`
	Errors      []string                  `json:"errors,omitempty"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credentials, rate budget and queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var view statusView
				if summary, err := a.tokens.Summary(ctx); err != nil {
					view.Errors = append(view.Errors, "credentials: "+err.Error())
				} else {
					view.Credentials = summary
				}
				if budget, err := a.limiter.Budget(ctx); err != nil {
					view.Errors = append(view.Errors, "rate budget: "+err.Error())
				} else {
					view.RateBudget = budget
				}
				if stats, err := a.taskQueue.Stats(ctx); err != nil {
					view.Errors = append(view.Errors, "queue: "+err.Error())
				} else {
					view.Queue = stats
				}
				return printJSON(cmd, view)
			})
		},
	}
}

func newCredentialsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage accounting-service OAuth credentials",
	}

	var clientID string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store client credentials and a refresh token",
		Long: `Store the OAuth client id, client secret and refresh token.

The secret and refresh token are read from stdin, one per line, so they stay out of shell history.

Example:
  printf '%s\n%s\n' "$CLIENT_SECRET" "$REFRESH_TOKEN" | ledgersync credentials set --client-id abc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, refresh, err := readSecrets(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.tokens.SaveCredentials(ctx, clientID, secret, refresh); err != nil {
					return err
				}
				summary, err := a.tokens.Summary(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
	set.Flags().StringVar(&clientID, "client-id", "", "OAuth client id (required)")
	_ = set.MarkFlagRequired("client-id")

	cmd.AddCommand(set)
	return cmd
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}

	var (
		role string
		ttl  time.Duration
	)
	mint := &cobra.Command{
		Use:   "mint <subject>",
		Short: "Mint an API bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.cfg.RequireAPI(); err != nil {
				return err
			}
			authService := services.NewAuthService(auth.NewAdapter(opts.cfg.JWTSecret), services.AuthConfig{
				DefaultTokenTTL: opts.cfg.TokenTTL,
			})
			token, err := authService.MintToken(cmd.Context(), args[0], domain.Role(role), ttl)
			if err != nil {
				return fmt.Errorf("mint token for role %q: %w", role, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	mint.Flags().StringVar(&role, "role", string(domain.RoleOperator), "admin, operator or viewer")
	mint.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: API_TOKEN_TTL)")

	cmd.AddCommand(mint)
	return cmd
}

func newWebhookSecretCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "webhook-secret-hash",
		Short: "Hash a storefront webhook secret read from stdin for WEBHOOK_SECRET_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner := bufio.NewScanner(cmd.InOrStdin())
			if !scanner.Scan() || strings.TrimSpace(scanner.Text()) == "" {
				return fmt.Errorf("%w: expected the secret on stdin", domain.ErrInvalidInput)
			}
			hash, err := auth.NewAdapter("").HashSecret(strings.TrimSpace(scanner.Text()))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// enqueue hands a task to the worker and prints its id.
func enqueue(ctx context.Context, cmd *cobra.Command, a *app, task *domain.Task) error {
	if err := a.taskQueue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type, err)
	}
	return printJSON(cmd, map[string]string{"status": "queued", "task_id": task.ID})
}

// printResult prints an outcome and turns a failed one into a non-zero exit.
func printResult(cmd *cobra.Command, v any, success bool, msg string) error {
	if err := printJSON(cmd, v); err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("sync failed: %s", msg)
	}
	return nil
}

// parsePeriod turns inclusive YYYY-MM-DD bounds into [start of from, end of to].
func parsePeriod(from, to string) (time.Time, time.Time, error) {
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: --from and --to are both required", domain.ErrInvalidInput)
	}
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: --from: %v", domain.ErrInvalidInput, err)
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: --to: %v", domain.ErrInvalidInput, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: --to is before --from", domain.ErrInvalidInput)
	}
	return start, end.Add(24*time.Hour - time.Nanosecond), nil
}

// readSecrets reads the client secret and refresh token from stdin.
func readSecrets(cmd *cobra.Command) (string, string, error) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	var lines []string
	for len(lines) < 2 && scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	if len(lines) < 2 {
		return "", "", fmt.Errorf("%w: expected client secret and refresh token on stdin", domain.ErrInvalidInput)
	}
	return lines[0], lines[1], nil
}
