package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coinpilot/coinpilot-core/internal/domain/services/ledger"
	"github.com/coinpilot/coinpilot-core/internal/domain/services/sip"
	"github.com/coinpilot/coinpilot-core/internal/infrastructure/adapters"
	"github.com/coinpilot/coinpilot-core/internal/infrastructure/config"
	"github.com/coinpilot/coinpilot-core/internal/infrastructure/database"
	"github.com/coinpilot/coinpilot-core/internal/infrastructure/locks"
	"github.com/coinpilot/coinpilot-core/internal/infrastructure/repositories"
	"github.com/coinpilot/coinpilot-core/internal/workers/sip_sweeper"
	"github.com/coinpilot/coinpilot-core/pkg/health"
	"github.com/coinpilot/coinpilot-core/pkg/jobqueue"
	"github.com/coinpilot/coinpilot-core/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)

	// Initialize database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	// Repositories
	positionRepo := repositories.NewPositionRepository(db, log.Zap())
	planRepo := repositories.NewPlanRepository(db, log.Zap())
	ownerRepo := repositories.NewOwnerRepository(db, log.Zap())

	// External collaborators
	priceFeed := adapters.NewPriceFeedClient(adapters.PriceFeedConfig{
		BaseURL:       cfg.PriceFeed.BaseURL,
		APIKey:        cfg.PriceFeed.APIKey,
		Timeout:       cfg.PriceFeed.Timeout,
		MaxRetries:    cfg.PriceFeed.MaxRetries,
		CacheTTL:      cfg.PriceFeed.CacheTTL,
		QuoteCurrency: cfg.PriceFeed.QuoteCurrency,
	}, log.Zap())

	payments := adapters.NewPaymentClient(adapters.PaymentConfig{
		BaseURL:     cfg.Payment.BaseURL,
		APIKey:      cfg.Payment.APIKey,
		Timeout:     cfg.Payment.Timeout,
		Environment: cfg.Payment.Environment,
	}, log.Zap())

	notifier := adapters.NewNotificationSink(adapters.NotificationConfig{
		Provider:  cfg.Email.Provider,
		APIKey:    cfg.Email.APIKey,
		FromEmail: cfg.Email.FromEmail,
		FromName:  cfg.Email.FromName,
	}, ownerRepo, log.Zap())

	planLocker := locks.NewRedisLock(redisClient, "")

	// Domain services
	ledgerService := ledger.NewService(positionRepo, priceFeed, log)
	txManager := database.NewTxManager(db)
	sipService := sip.NewService(
		planRepo,
		payments,
		priceFeed,
		ledgerService,
		notifier,
		planLocker,
		txManager,
		sip.Config{
			BatchLimit: cfg.SIP.BatchLimit,
			RetryDelay: cfg.SIP.RetryDelay,
			ClaimTTL:   cfg.SIP.ClaimTTL,
		},
		log,
	)

	// Scheduled jobs
	scheduler := jobqueue.NewJobScheduler(log.Zap())

	sweeper := sip_sweeper.NewSweeper(sipService, scheduler, sip_sweeper.Config{
		Schedule: cfg.SIP.SweepSchedule,
		Timeout:  cfg.SIP.SweepTimeout,
	}, log)
	if err := sweeper.Start(); err != nil {
		log.Fatal("Failed to start recurring investment sweeper", "error", err)
	}

	err = scheduler.AddJob(jobqueue.ScheduledJob{
		Name:     "ledger-reconciliation",
		Schedule: cfg.SIP.ReconciliationSchedule,
		Timeout:  10 * time.Minute,
		Handler: func(ctx context.Context) error {
			_, err := ledgerService.ReconcileAll(ctx)
			return err
		},
	})
	if err != nil {
		log.Fatal("Failed to schedule reconciliation job", "error", err)
	}

	scheduler.Start()
	log.Info("Schedulers started",
		"sweep_schedule", cfg.SIP.SweepSchedule,
		"reconciliation_schedule", cfg.SIP.ReconciliationSchedule)

	// Operational HTTP surface: metrics and health
	healthChecker := health.NewHealthChecker(10 * time.Second)
	healthChecker.Register(health.NewDatabaseChecker(db.DB, 5*time.Second))
	healthChecker.Register(health.NewRedisChecker(redisClient, 3*time.Second))
	healthChecker.Register(health.NewWorkerChecker("sip_sweeper", sweeper.IsRunning))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, checks := healthChecker.Check(r.Context())
		report := health.Report{
			Status:    status,
			Timestamp: time.Now().UTC(),
			Checks:    checks,
		}

		w.Header().Set("Content-Type", "application/json")
		if status == health.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Error("Failed to write health response", "error", err)
		}
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("Starting metrics server", "port", cfg.Server.MetricsPort, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start metrics server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	sweeper.Stop()
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Metrics server forced to shutdown", "error", err)
	}

	log.Info("Worker exited")
}
