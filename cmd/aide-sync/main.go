package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomworks/aide-sync/internal/adapters/driven/credentials"
	"github.com/loomworks/aide-sync/internal/adapters/driven/postgres"
	"github.com/loomworks/aide-sync/internal/adapters/driven/providers"
	redisqueue "github.com/loomworks/aide-sync/internal/adapters/driven/queue/redis"
	redisadapter "github.com/loomworks/aide-sync/internal/adapters/driven/redis"
	"github.com/loomworks/aide-sync/internal/adapters/driving/http"
	"github.com/loomworks/aide-sync/internal/config"
	"github.com/loomworks/aide-sync/internal/core/services"
	"github.com/loomworks/aide-sync/internal/worker"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	mode := cfg.RunMode
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("aide-sync starting", "version", version, "mode", mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, stopping")
		cancel()
	}()

	// ===== PostgreSQL =====
	db, err := postgres.Connect(ctx, postgres.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	logger.Info("postgres connected, schema initialized")

	// ===== Redis =====
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("redis connected")

	// ===== Driven adapters =====
	stateStore := postgres.NewSyncStateStore(db)
	entityStore := postgres.NewEntityStore(db)
	channelStore := postgres.NewChannelStore(db)

	taskQueue, err := redisqueue.NewQueue(redisClient, fmt.Sprintf("worker-%d", os.Getpid()))
	if err != nil {
		log.Fatalf("Failed to create task queue: %v", err)
	}

	distributedLock := redisadapter.NewLock(redisClient)
	debouncer := redisadapter.NewDebouncer(redisClient)

	credentialProvider := credentials.NewBrokerClient(cfg.BrokerURL, cfg.BrokerServiceKey)
	providerFactory := providers.NewFactory(providers.Config{
		MailboxProvider:  cfg.MailboxProvider,
		GmailPubSubTopic: cfg.GmailPubSubTopic,
	})

	// ===== Services =====
	channelManager := services.NewChannelManager(services.ChannelManagerConfig{
		Channels:        channelStore,
		CallbackBaseURL: cfg.CallbackBaseURL,
		RenewalBuffer:   cfg.ChannelRenewalBuffer,
		Logger:          logger,
	})

	engine := services.NewOrchestrator(services.OrchestratorConfig{
		States:            stateStore,
		Store:             entityStore,
		Providers:         providerFactory,
		Credentials:       credentialProvider,
		Queue:             taskQueue,
		Channels:          channelManager,
		FullSyncStaleness: cfg.FullSyncStaleness,
		LivenessTimeout:   cfg.LivenessTimeout,
		Logger:            logger,
	})

	notifications := services.NewNotificationHandler(services.NotificationHandlerConfig{
		Channels:       channelStore,
		Queue:          taskQueue,
		Debouncer:      debouncer,
		DebounceWindow: cfg.WebhookDebounce,
		Logger:         logger,
	})

	var scheduler *services.Scheduler
	if cfg.SchedulerEnabled {
		scheduler = services.NewScheduler(services.SchedulerConfig{
			States:       stateStore,
			Channels:     channelStore,
			TaskQueue:    taskQueue,
			Lock:         distributedLock,
			Logger:       logger,
			SyncInterval: cfg.SyncInterval,
		})
	} else {
		logger.Info("scheduler disabled via SCHEDULER_ENABLED=false")
	}

	switch mode {
	case "server":
		runServer(cfg, engine, notifications, taskQueue, db, redisPinger{redisClient}, logger)

	case "worker":
		runWorker(ctx, cfg, taskQueue, engine, scheduler, logger)

	case "all":
		go runWorker(ctx, cfg, taskQueue, engine, scheduler, logger)
		runServer(cfg, engine, notifications, taskQueue, db, redisPinger{redisClient}, logger)

	default:
		log.Fatalf("Unknown mode: %s (use: server, worker, or all)", mode)
	}
}

func runServer(
	cfg *config.Config,
	engine *services.Orchestrator,
	notifications *services.NotificationHandler,
	taskQueue *redisqueue.Queue,
	db *postgres.DB,
	redisHealth http.Pinger,
	logger *slog.Logger,
) {
	serverCfg := http.Config{
		Host:      "0.0.0.0",
		Port:      cfg.Port,
		Version:   version,
		JWTSecret: cfg.JWTSecret,
	}

	server := http.NewServer(serverCfg, engine, notifications, taskQueue, db, redisHealth, logger)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

func runWorker(
	ctx context.Context,
	cfg *config.Config,
	taskQueue *redisqueue.Queue,
	engine *services.Orchestrator,
	scheduler *services.Scheduler,
	logger *slog.Logger,
) {
	w := worker.New(worker.Config{
		TaskQueue:   taskQueue,
		Engine:      engine,
		Scheduler:   scheduler,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
	})

	if err := w.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}
	logger.Info("worker started, processing tasks")

	<-ctx.Done()

	w.Stop()
	logger.Info("worker stopped")
}

// redisPinger adapts the redis client to the server's health check interface.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
