package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-deadletter-service/internal/auth"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/config"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/httpapi"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/ingestworker"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/jetstream"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/observer"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/storage"
	"gitlab.com/timkado/api/daisi-deadletter-service/internal/usecase"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/logger"
	"gitlab.com/timkado/api/daisi-deadletter-service/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize metrics conditionally
	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting Daisi Dead Letter Service",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Database.Transactions)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize JetStream client
	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Create repository adapters for the services
	deadLetterRepo := storage.NewDeadLetterRepoAdapter(postgresRepo)
	subscriptionRepo := storage.NewSubscriptionRepoAdapter(postgresRepo)
	userRepo := storage.NewUserRepoAdapter(postgresRepo)

	// Optional email announcements for newly captured dead letters
	var notifier usecase.Notifier
	if cfg.Notification.Enabled && cfg.Notification.SenderURL != "" {
		notifier = usecase.NewEmailNotifier(userRepo, cfg.Notification.SenderURL, cfg.Notification.FromSubject)
		logger.Log.Info("Email notification enabled", zap.String("sender_url", cfg.Notification.SenderURL))
	} else {
		logger.Log.Info("Email notification disabled")
	}

	// Core services
	ingestService := usecase.NewIngestService(deadLetterRepo, subscriptionRepo, notifier)

	accessGate := auth.NewGate(userRepo)
	replayService, err := usecase.NewReplayService(deadLetterRepo, accessGate, cfg.Replay.EndpointTimeout, cfg.Replay.FanoutWorkers)
	if err != nil {
		logger.Log.Fatal("Failed to initialize replay service", zap.Error(err))
	}

	// Ingest worker consuming failure notifications from JetStream
	worker, err := ingestworker.NewWorker(cfg, logger.Log, jsClient, ingestService)
	if err != nil {
		logger.Log.Fatal("Failed to initialize ingest worker", zap.Error(err))
	}

	// API server with readiness probing the NATS connection
	readyCheck := func(ctx context.Context) error {
		if nc := jsClient.NatsConn(); nc == nil || nc.Status() != nats.CONNECTED {
			return fmt.Errorf("nats connection is not established")
		}
		return nil
	}
	apiServer := httpapi.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log, ingestService, replayService, readyCheck)

	if metricsEnabled {
		apiServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	apiServer.Start()

	logger.Log.Info("API endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
		zap.String("replay", fmt.Sprintf("http://localhost:%d/replayDeadLetter", cfg.Server.Port)),
	)

	// Start ingest worker in a separate goroutine
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	sigChan := make(chan os.Signal, 1)
	go func() {
		if err := worker.Start(mainCtx); err != nil {
			logger.Log.Error("Ingest worker failed to start or encountered an error, initiating shutdown...", zap.Error(err))
			mainCancel()
			select {
			case sigChan <- syscall.SIGTERM:
			default:
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}()

	// Wait for termination signal
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup

	// Components: ingest worker, replay service, API server, connections
	numComponents := 4
	wg.Add(numComponents)

	// Shutdown ingest worker
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping ingest worker")
		start := time.Now()
		worker.Stop()
		logger.Log.Info("[shutdown] Ingest worker stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping ingest worker",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown replay fan-out pool
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping replay service")
		start := time.Now()
		replayService.Close()
		logger.Log.Info("[shutdown] Replay service stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping replay service",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown API server (includes metrics if enabled)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping API server")
		start := time.Now()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping API server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] API server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping API server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close database and NATS connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Daisi Dead Letter Service shutdown complete")
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool, useTransactions bool) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate, useTransactions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient initializes the JetStream client
func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	return client, nil
}
