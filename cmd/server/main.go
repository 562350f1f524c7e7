package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/step-groups/internal/config"
	"github.com/step-groups/internal/handler"
	"github.com/step-groups/internal/kafka"
	"github.com/step-groups/internal/postgres"
	"github.com/step-groups/internal/redis"
	"github.com/step-groups/internal/service"
	"github.com/step-groups/internal/websocket"
	"github.com/step-groups/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, loadErr := config.Load(*configPath)
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	if loadErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", loadErr)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize Redis caches; the service works without them
	var profiles service.ProfileSource = repo
	var totalsCache service.TotalsCache
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		client, err := redis.NewClient(&cfg.Redis)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without cache", "error", err)
		} else {
			defer client.Close()
			profiles = redis.NewCachedProfiles(client, repo, cfg.Redis.ProfileTTL, logger)
			totalsCache = redis.NewTotalsCache(client, cfg.Leaderboard.PreviousCacheTTL, logger)
			logger.Info("connected to Redis")
		}
	}

	// Initialize services
	groupService := service.NewGroupService(repo, profiles, nil, &cfg.Groups, logger)

	leaderboardService, err := service.NewLeaderboardService(
		repo,
		repo,
		profiles,
		totalsCache,
		&cfg.Leaderboard,
		logger,
	)
	if err != nil {
		logger.Error("failed to create leaderboard service", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(groupService, logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Group events go through Kafka when enabled so that every instance can
	// push them; otherwise they reach local subscribers directly.
	groupService.SetPublisher(wsHub)

	var (
		kafkaProducer *kafka.Producer
		kafkaConsumer *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		instanceID := uuid.NewString()
		logger.Info("initializing Kafka",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
			"instance_id", instanceID,
		)

		kafkaProducer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without Kafka", "error", err)
		} else {
			kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, instanceID, wsHub, logger)
			if err == nil {
				err = kafkaConsumer.Start()
			}
			if err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaProducer.Close()
				kafkaProducer = nil
				kafkaConsumer = nil
			} else {
				groupService.SetPublisher(kafkaProducer)
				logger.Info("Kafka producer and consumer started")
			}
		}
	}

	// Initialize member count worker
	countWorker := worker.NewMemberCountWorker(repo, &cfg.Reconcile, logger)
	if cfg.Reconcile.Enabled {
		countWorker.RunOnce(ctx)
		if err := countWorker.Start(ctx); err != nil {
			logger.Error("failed to start member count worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(groupService, leaderboardService, wsHub, repo, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server first so no new mutations publish events
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	// Stop Kafka
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop member count worker
	if err := countWorker.Stop(); err != nil {
		logger.Error("failed to stop member count worker", "error", err)
	}

	logger.Info("server stopped")
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
