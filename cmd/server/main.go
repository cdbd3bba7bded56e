package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"account-service/config"
	"account-service/internal/api"
	"account-service/internal/broker"
	"account-service/internal/redisclient"
	"account-service/internal/service"
	"account-service/internal/store"
	"account-service/internal/util"
	"account-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(util.LogOptions{
		Service: cfg.Server.Name,
		Env:     cfg.Server.Env,
		Level:   cfg.Server.LogLevel,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting account inventory service")

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.Admin.JWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET is not set, admin and reservation routes will refuse every request")
	}

	tp, err := util.InitTracer(util.TracerOptions{
		Service:     cfg.Server.Name,
		Endpoint:    cfg.Observ.JaegerEndpoint,
		SampleRatio: cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Database.Migrate {
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Database migrations applied")
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(
		cfg.Redis.Addr,
		cfg.Redis.Password,
		cfg.Redis.DB,
		time.Duration(cfg.Redis.StockTTLSeconds)*time.Second,
	)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicInventory)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicInventory))

	eventPublisher := broker.NewEventPublisher(producer)

	inventoryService := service.NewInventoryService(db, redisClient, eventPublisher, service.Options{
		MaxDuplicateCount: cfg.Inventory.MaxDuplicateCount,
		ReservationTTL:    time.Duration(cfg.Inventory.ReservationTTLSeconds) * time.Second,
		ExpiryBatchSize:   cfg.Inventory.ExpiryBatchSize,
		ImportMaxRows:     cfg.Inventory.ImportMaxRows,
	})
	checkoutHandler := service.NewCheckoutHandler(
		inventoryService,
		redisClient,
		time.Duration(cfg.Inventory.EventDedupeTTLSeconds)*time.Second,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	checkoutConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout, cfg.Kafka.ConsumerGroup, broker.Backoff{
		Initial: time.Duration(cfg.Kafka.RetryBackoffMillis) * time.Millisecond,
		Max:     time.Duration(cfg.Kafka.RetryMaxBackoffMillis) * time.Millisecond,
	})
	checkoutWorker := worker.NewCheckoutWorker(checkoutConsumer, checkoutHandler)
	go func() {
		if err := checkoutWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Checkout worker error", zap.Error(err))
		}
	}()

	expiryWorker := worker.NewExpiryWorker(
		inventoryService,
		time.Duration(cfg.Inventory.ExpirySweepSeconds)*time.Second,
	)
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Expiry worker error", zap.Error(err))
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(inventoryService, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	}, api.Options{
		JWTSecret:        cfg.Admin.JWTSecret,
		RateLimitPerSec:  cfg.Admin.RateLimitPerSec,
		RateLimitBurst:   cfg.Admin.RateLimitBurst,
		RateLimitIdleTTL: time.Duration(cfg.Admin.RateLimitIdleSeconds) * time.Second,
	})
	defer handler.Close()
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := checkoutWorker.Stop(); err != nil {
		logger.Error("Failed to stop checkout worker", zap.Error(err))
	}
	if err := expiryWorker.Stop(); err != nil {
		logger.Error("Failed to stop expiry worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
