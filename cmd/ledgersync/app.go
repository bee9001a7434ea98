package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/ledgersync/internal/adapters/driven/accounting"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/mapping"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/notify"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/ledgersync/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/ledgersync/internal/adapters/driven/queue/redis"
	"github.com/custodia-labs/ledgersync/internal/adapters/driven/rates"
	redisadapter "github.com/custodia-labs/ledgersync/internal/adapters/driven/redis"
	"github.com/custodia-labs/ledgersync/internal/config"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/core/services"
)

// app holds every adapter and service the commands share.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *postgres.DB
	redisClient *redis.Client // nil without REDIS_URL

	taskQueue driven.TaskQueue
	lock      driven.DistributedLock
	limiter   driven.RateLimiter
	notifier  driven.Notifier
	settings  driven.SettingsStore

	tokens       *services.TokenManager
	orchestrator *services.SyncOrchestrator
	bulk         *services.BulkRunner
	reconciler   *services.ReconciliationEngine
	retry        *services.RetryScheduler
}

// newApp connects storage and wires the sync engine.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.RequireAccounting(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// ===== PostgreSQL =====
	logger.Info("connecting to postgres")
	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		ConnMaxIdleTime: cfg.DBConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := db.InitSchema(ctx); err != nil {
		return nil, err
	}

	// ===== Redis (optional) =====
	if cfg.RedisURL != "" {
		logger.Info("connecting to redis")
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redisClient = redis.NewClient(opts)
		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	// ===== Queue, lock and rate limiter (Redis if available, otherwise PostgreSQL / in-process) =====
	if a.redisClient != nil {
		hostname, _ := os.Hostname()
		q, err := redisqueue.NewQueue(ctx, a.redisClient, fmt.Sprintf("worker-%s-%d", hostname, os.Getpid()))
		if err != nil {
			return nil, fmt.Errorf("create task queue: %w", err)
		}
		a.taskQueue = q
		a.lock = redisadapter.NewLock(a.redisClient)
		a.limiter = redisadapter.NewRateLimiter(a.redisClient, redisadapter.RateLimiterConfig{
			Name:   cfg.TenantID,
			Limit:  cfg.RateLimit,
			Window: cfg.RateWindow,
			Logger: logger,
		})
		logger.Info("using redis queue, lock and shared rate window")
	} else {
		a.taskQueue = postgresqueue.NewQueue(db.DB)
		a.lock = postgres.NewAdvisoryLock(db)
		a.limiter = services.NewFixedWindowLimiter(services.RateLimiterConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateWindow,
			Logger: logger,
		})
		logger.Info("using postgres queue, advisory lock and in-process rate window")
	}

	// ===== Accounting service =====
	acctCfg := accounting.Config{
		BaseURL:  cfg.AccountingBaseURL,
		TenantID: cfg.TenantID,
		TokenURL: cfg.TokenURL,
		Timeout:  cfg.RequestTimeout,
	}
	transport, err := accounting.NewHTTPTransport(acctCfg)
	if err != nil {
		return nil, err
	}
	oauthClient, err := accounting.NewOAuthClient(acctCfg)
	if err != nil {
		return nil, err
	}

	key, err := postgres.DeriveKey(cfg.CredentialsKey, cfg.CredentialsSalt)
	if err != nil {
		return nil, err
	}
	sealer, err := postgres.NewSecretSealer(key)
	if err != nil {
		return nil, err
	}

	a.tokens = services.NewTokenManager(services.TokenManagerConfig{
		Store:        postgres.NewCredentialStore(db, sealer),
		Endpoint:     oauthClient,
		SafetyBuffer: cfg.TokenBuffer,
		Logger:       logger,
	})
	api := services.NewAPIClient(services.APIClientConfig{
		Limiter:   a.limiter,
		Tokens:    a.tokens,
		Transport: transport,
		Logger:    logger,
	})

	// ===== Mapping, conversion and notifications =====
	var mapper driven.FieldMapper
	if cfg.FieldMappingFile != "" {
		m, err := mapping.LoadFile(cfg.FieldMappingFile)
		if err != nil {
			return nil, err
		}
		mapper = m
	}
	fx, err := rates.Parse(cfg.ExchangeRates)
	if err != nil {
		return nil, fmt.Errorf("EXCHANGE_RATES: %w", err)
	}

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.NotifyWebhookURL != "" {
		hook, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:         cfg.NotifyWebhookURL,
			MinSeverity: cfg.NotifyMinSeverity,
		})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, hook)
	}
	a.notifier = notifiers

	// ===== Services =====
	orders := postgres.NewOrderStore(db)
	states := postgres.NewRecordStateStore(db)
	a.settings = postgres.NewSettingsStore(db)

	invoices := services.NewInvoiceService(services.InvoiceServiceConfig{
		API:    api,
		Mapper: mapper,
		Logger: logger,
	})

	a.orchestrator = services.NewSyncOrchestrator(services.SyncOrchestratorConfig{
		Orders:      orders,
		States:      states,
		Settings:    a.settings,
		Contacts:    services.NewContactService(api, logger),
		Invoices:    invoices,
		Payments:    services.NewPaymentService(api, fx, logger),
		CreditNotes: services.NewCreditNoteService(api, logger),
		Lock:        a.lock,
		Notifier:    a.notifier,
		LockTTL:     cfg.RecordLockTTL,
		Logger:      logger,
	})
	a.bulk = services.NewBulkRunner(a.orchestrator, orders, logger)
	a.reconciler = services.NewReconciliationEngine(services.ReconciliationEngineConfig{
		Reports:    postgres.NewReportStore(db),
		Orders:     orders,
		States:     states,
		Invoices:   invoices,
		Settings:   a.settings,
		Lock:       a.lock,
		DetailRate: rate.Limit(cfg.ReconcileDetailRate),
		StaleAfter: cfg.ReportTimeout,
		Logger:     logger,
	})
	a.retry = services.NewRetryScheduler(services.RetrySchedulerConfig{
		States:        states,
		Syncer:        a.orchestrator,
		Settings:      a.settings,
		Lock:          a.lock,
		Sweeper:       a.reconciler,
		Notifier:      a.notifier,
		Logger:        logger,
		Interval:      cfg.RetryInterval,
		ReportTimeout: cfg.ReportTimeout,
	})

	ok = true
	return a, nil
}

// redisPinger adapts the go-redis client to the health check interface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	if a.taskQueue != nil {
		if err := a.taskQueue.Close(); err != nil {
			a.logger.Warn("close task queue", "error", err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close postgres", "error", err)
		}
	}
}
