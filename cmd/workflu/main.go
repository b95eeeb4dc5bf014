package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/workflu/workflu/internal/app"
	"github.com/workflu/workflu/internal/approvals"
	"github.com/workflu/workflu/internal/capital"
	jobmetrics "github.com/workflu/workflu/internal/jobs"
	"github.com/workflu/workflu/internal/notify"
	"github.com/workflu/workflu/internal/observability"
	"github.com/workflu/workflu/internal/periods"
	"github.com/workflu/workflu/internal/platform/cache"
	"github.com/workflu/workflu/internal/platform/db"
	"github.com/workflu/workflu/internal/purchases"
	"github.com/workflu/workflu/internal/shared"
	"github.com/workflu/workflu/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	metrics := observability.NewMetrics()

	periodsRepo := periods.NewRepository(dbpool)
	periodsService := periods.NewService(periodsRepo)
	periodsHandler := periods.NewHandler(logger, periodsService, auditLogger)
	guard := periods.NewGuard(periodsService, auditLogger, logger)
	guard.SetMetrics(metrics)

	capitalRepo := capital.NewRepository(dbpool)
	capitalService := capital.NewService(capitalRepo)

	approvalsRepo := approvals.NewRepository(dbpool)
	approvalsService := approvals.NewService(approvalsRepo, capitalService, auditLogger, logger, approvals.Config{
		Threshold:     cfg.ApprovalThreshold,
		EscalateAfter: cfg.ApprovalEscalation,
	})
	approvalsHandler := approvals.NewHandler(logger, approvalsService)
	gate := approvals.NewGate(approvalsService, logger)
	gate.SetMetrics(metrics)

	templateRepo := notify.NewTemplateRepository(dbpool)
	templateRegistry := notify.NewRegistry(templateRepo, logger)
	if err := templateRegistry.SeedDefaults(ctx); err != nil {
		logger.Error("seed notification templates", slog.Any("error", err))
		os.Exit(1)
	}

	notifyRepo := notify.NewRepository(dbpool)
	settingsRepo := notify.NewSettingsRepository(dbpool)
	signer := notify.NewSigner(cfg.WebhookSecret)
	deliveryService := notify.NewService(notifyRepo, settingsRepo, templateRegistry, auditLogger, logger,
		notify.NewInAppChannel(),
		notify.NewEmailChannel(cfg.ResendAPIKey, cfg.EmailFrom, cfg.OutboundTimeout),
		notify.NewSMSChannel(cfg.SMSGatewayURL, cfg.SMSGatewayToken, cfg.OutboundTimeout),
		notify.NewWebhookChannel(signer, cfg.OutboundTimeout),
	)
	notifyHandler := notify.NewHandler(logger, deliveryService, templateRegistry)

	approvalsService.SetNotifier(notify.NewApprovalNotifier(deliveryService, cfg.AdminUserIDs, logger))

	purchasesRepo := purchases.NewRepository(dbpool)
	purchasesService := purchases.NewService(purchasesRepo, capitalService, idempotencyStore, auditLogger, logger, cfg.SupplierAdvanceTerms)
	approvalsService.RegisterExecutor(approvals.OpPurchaseCreate, purchases.NewReplayExecutor(purchasesService))
	approvalsService.RegisterExecutor(approvals.OpSupplierAdvance, purchases.NewAdvanceReplayExecutor(purchasesService))
	approvalsService.RegisterExecutor(approvals.OpPurchaseReturn, purchases.NewReturnReplayExecutor(purchasesService))
	approvalsService.RegisterExecutor(approvals.OpCapitalEntry, capital.NewReplayExecutor(capitalService))
	purchasesHandler := purchases.NewHandler(logger, purchasesService, guard, gate)
	capitalHandler := capital.NewHandler(logger, capitalService, guard, gate)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	deliveryService.SetMetrics(jobMetrics)
	jobRegistry := jobs.NewRegistry(logger, auditLogger, jobMetrics)
	jobs.RegisterAll(jobRegistry,
		jobs.NewQueueDrainJob(notifyRepo, deliveryService, logger, cfg.QueueBatchSize),
		jobs.NewRetryJob(notifyRepo, deliveryService, logger, cfg.QueueBatchSize),
		jobs.NewDigestJob(notifyRepo, deliveryService, logger, 24*time.Hour),
		jobs.NewCleanupJob(notifyRepo, logger, cfg.ActiveRetention, cfg.HistoryRetention),
		jobs.NewMonitoringJob(capitalService, approvalsService, deliveryService, logger, cfg.AdminUserIDs, cfg.CapitalLowWatermark),
		jobs.NewHealthJob(deliveryService, logger, cfg.AdminUserIDs, cfg.CriticalAlertThreshold),
	)
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(jobRegistry, inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		PeriodsHandler:   periodsHandler,
		ApprovalsHandler: approvalsHandler,
		PurchasesHandler: purchasesHandler,
		CapitalHandler:   capitalHandler,
		NotifyHandler:    notifyHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
