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

	"matching-engine/config"
	"matching-engine/internal/api"
	"matching-engine/internal/broker"
	"matching-engine/internal/redisclient"
	"matching-engine/internal/service"
	"matching-engine/internal/store"
	"matching-engine/internal/util"
	"matching-engine/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting matching engine")

	tp, err := util.InitTracer("matching-engine", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotification)
	defer notificationProducer.Close()
	chainProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicChain)
	defer chainProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(notificationProducer, chainProducer)

	gateway := service.NewGateway(db, cfg.Matching)
	notifier := service.NewKafkaNotifier(redisClient, eventPublisher, cfg.Matching.NotificationCap)
	orchestrator := service.NewOrchestrator(db, gateway, redisClient, notifier, eventPublisher, cfg.Matching)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	marketplaceConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicMarketplace, cfg.Kafka.ConsumerGroup)
	matchWorker := worker.NewMatchWorker(marketplaceConsumer, orchestrator)
	go func() {
		if err := matchWorker.Start(workerCtx); err != nil {
			log.Printf("Match worker error: %v", err)
		}
	}()

	settlementConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSettlement, cfg.Kafka.ConsumerGroup)
	settlementWorker := worker.NewSettlementWorker(settlementConsumer, orchestrator)
	go func() {
		if err := settlementWorker.Start(workerCtx); err != nil {
			log.Printf("Settlement worker error: %v", err)
		}
	}()

	sweeper := worker.NewExpirySweeper(orchestrator, cfg.Matching.SweepInterval)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil {
			log.Printf("Expiry sweeper error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(orchestrator)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	matchWorker.Stop()
	settlementWorker.Stop()

	log.Println("Server exited")
}
