package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/campusops/enrollment-workflow/internal/application/sla"
	appworkflow "github.com/campusops/enrollment-workflow/internal/application/workflow"
	"github.com/campusops/enrollment-workflow/internal/config"
	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
	"github.com/campusops/enrollment-workflow/internal/infrastructure/persistence"
	"github.com/campusops/enrollment-workflow/internal/infrastructure/persistence/repository"
	"github.com/campusops/enrollment-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/campusops/enrollment-workflow/internal/infrastructure/worker"
	httpapi "github.com/campusops/enrollment-workflow/internal/interfaces/http"
	"github.com/campusops/enrollment-workflow/internal/notification"
	"github.com/campusops/enrollment-workflow/internal/observability"
	"github.com/campusops/enrollment-workflow/pkg/database"
	"github.com/campusops/enrollment-workflow/pkg/logging"
)

func main() {
	// Local .env overrides, if present.
	_ = gotenv.Load()

	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Enrollment Workflow Engine",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Initialize database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Metrics registry
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Persistence layer
	txManager := sqlite.NewDB(db.DB, logger)
	workflowRepo := repository.NewWorkflowRepository(db.DB, logger)
	historyRepo := repository.NewHistoryRepository(db.DB, logger)

	gateway := persistence.NewGateway(
		workflowRepo,
		historyRepo,
		txManager,
		persistence.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Delay:       cfg.Retry.Delay,
		},
		logger,
		persistence.WithRetryObserver(metrics.PersistenceRetriesTotal.Inc),
	)

	// Resilience and side-effect collaborators
	breaker := appworkflow.NewCircuitBreaker(appworkflow.BreakerConfig{
		FailureThreshold:   cfg.Breaker.FailureThreshold,
		ErrorRateThreshold: cfg.Breaker.ErrorRateThreshold,
		Window:             cfg.Breaker.Window,
		MinSamples:         cfg.Breaker.MinSamples,
		Cooldown:           cfg.Breaker.Cooldown,
		HalfOpenTrials:     cfg.Breaker.HalfOpenTrials,
	})

	tracker := sla.NewTracker(sla.Config{
		StateLimits: map[wf.State]time.Duration{
			wf.StateDocumentVerification: cfg.SLA.DocumentVerificationMaxAge,
			wf.StateAcademicReview:       cfg.SLA.AcademicReviewMaxAge,
			wf.StateFinalReview:          cfg.SLA.FinalReviewMaxAge,
		},
		SweepInterval: cfg.SLA.SweepInterval,
	}, metrics, logger)

	dispatcher := notification.NewDispatcher(notification.Config{
		WebhookURL:     cfg.Notification.WebhookURL,
		QueueSize:      cfg.Notification.QueueSize,
		BatchSize:      cfg.Notification.BatchSize,
		FlushInterval:  cfg.Notification.FlushInterval,
		RequestTimeout: cfg.Notification.RequestTimeout,
	}, metrics, logger)

	// Transition executor
	executor := appworkflow.NewExecutor(appworkflow.ExecutorConfig{
		TransitionTimeout: cfg.Workflow.TransitionTimeout,
		WorkerCount:       cfg.Workflow.WorkerCount,
		QueueSize:         cfg.Workflow.QueueSize,
	}, gateway, logger,
		appworkflow.WithNotifier(dispatcher),
		appworkflow.WithDwellRecorder(tracker),
		appworkflow.WithMetrics(metrics),
		appworkflow.WithBreaker(breaker),
	)

	// Background workers
	manager := worker.NewManager(logger)
	manager.Register(tracker)
	manager.Register(dispatcher)
	if err := manager.StartAll(context.Background()); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	// HTTP front door
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		SyncWait:     cfg.Server.SyncWait,
	}, executor, registry, logger)

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(serverCtx)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		serverCancel()
		<-serverErr
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	// Drain queued transitions before flushing their notifications.
	executor.Close()
	manager.StopAll()

	logger.Info("Shutdown complete")
}
