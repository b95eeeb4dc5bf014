package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/workflu/workflu/internal/app"
	"github.com/workflu/workflu/internal/approvals"
	"github.com/workflu/workflu/internal/capital"
	jobmetrics "github.com/workflu/workflu/internal/jobs"
	"github.com/workflu/workflu/internal/notify"
	"github.com/workflu/workflu/internal/platform/cache"
	"github.com/workflu/workflu/internal/platform/db"
	"github.com/workflu/workflu/internal/purchases"
	"github.com/workflu/workflu/internal/shared"
	"github.com/workflu/workflu/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	capitalRepo := capital.NewRepository(pool)
	capitalService := capital.NewService(capitalRepo)

	approvalsRepo := approvals.NewRepository(pool)
	approvalsService := approvals.NewService(approvalsRepo, capitalService, auditLogger, logger, approvals.Config{
		Threshold:     cfg.ApprovalThreshold,
		EscalateAfter: cfg.ApprovalEscalation,
	})

	templateRepo := notify.NewTemplateRepository(pool)
	templateRegistry := notify.NewRegistry(templateRepo, logger)
	if err := templateRegistry.SeedDefaults(ctx); err != nil {
		logger.Error("seed notification templates", slog.Any("error", err))
		os.Exit(1)
	}

	notifyRepo := notify.NewRepository(pool)
	settingsRepo := notify.NewSettingsRepository(pool)
	signer := notify.NewSigner(cfg.WebhookSecret)
	deliveryService := notify.NewService(notifyRepo, settingsRepo, templateRegistry, auditLogger, logger,
		notify.NewInAppChannel(),
		notify.NewEmailChannel(cfg.ResendAPIKey, cfg.EmailFrom, cfg.OutboundTimeout),
		notify.NewSMSChannel(cfg.SMSGatewayURL, cfg.SMSGatewayToken, cfg.OutboundTimeout),
		notify.NewWebhookChannel(signer, cfg.OutboundTimeout),
	)
	approvalsService.SetNotifier(notify.NewApprovalNotifier(deliveryService, cfg.AdminUserIDs, logger))

	purchasesRepo := purchases.NewRepository(pool)
	purchasesService := purchases.NewService(purchasesRepo, capitalService, idempotencyStore, auditLogger, logger, cfg.SupplierAdvanceTerms)
	approvalsService.RegisterExecutor(approvals.OpPurchaseCreate, purchases.NewReplayExecutor(purchasesService))
	approvalsService.RegisterExecutor(approvals.OpSupplierAdvance, purchases.NewAdvanceReplayExecutor(purchasesService))
	approvalsService.RegisterExecutor(approvals.OpPurchaseReturn, purchases.NewReturnReplayExecutor(purchasesService))
	approvalsService.RegisterExecutor(approvals.OpCapitalEntry, capital.NewReplayExecutor(capitalService))

	jobMetrics := jobmetrics.NewMetrics(nil)
	deliveryService.SetMetrics(jobMetrics)
	registry := jobs.NewRegistry(logger, auditLogger, jobMetrics)
	jobs.RegisterAll(registry,
		jobs.NewQueueDrainJob(notifyRepo, deliveryService, logger, cfg.QueueBatchSize),
		jobs.NewRetryJob(notifyRepo, deliveryService, logger, cfg.QueueBatchSize),
		jobs.NewDigestJob(notifyRepo, deliveryService, logger, 24*time.Hour),
		jobs.NewCleanupJob(notifyRepo, logger, cfg.ActiveRetention, cfg.HistoryRetention),
		jobs.NewMonitoringJob(capitalService, approvalsService, deliveryService, logger, cfg.AdminUserIDs, cfg.CapitalLowWatermark),
		jobs.NewHealthJob(deliveryService, logger, cfg.AdminUserIDs, cfg.CriticalAlertThreshold),
	)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  registry.Handlers(),
		Cron:      registry.CronEntries(),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
