package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pingme/internal/auth"
	"pingme/internal/chat"
	"pingme/internal/domain/user"
	"pingme/internal/infra/broker/kafka"
	"pingme/internal/infra/config"
	ginserver "pingme/internal/infra/http/gin"
	"pingme/internal/infra/obs"
	"pingme/internal/infra/outbox"
	"pingme/internal/infra/queue"
	"pingme/internal/infra/storage/memory"
	mongostore "pingme/internal/infra/storage/mongo"
	"pingme/internal/infra/storage/redisstore"
	"pingme/internal/infra/storage/scylla"
	"pingme/internal/presence"
	"pingme/internal/realtime"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "dotenv load skipped: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.close(logger)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: app.readiness}, app.handlers)

	for _, worker := range app.workers {
		go worker(ctx)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage_mode", cfg.StorageMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	app.registry.Close()
	logger.Info("HTTP server stopped")
}

type application struct {
	handlers  ginserver.Handlers
	registry  *realtime.Registry
	readiness map[string]func() error
	workers   []func(context.Context)
	closers   []func() error
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{readiness: map[string]func() error{}}

	var (
		conversations chat.ConversationStore
		messages      chat.MessageStore
		receipts      chat.ReceiptStore
		lastSeen      presence.LastSeenStore
		resolver      auth.TokenResolver
		taskQueue     chat.TaskQueue
		outboxStore   outbox.Store
		users         user.Repository
	)

	switch cfg.StorageMode {
	case "persistent":
		mongoClient, err := mongostore.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		app.closers = append(app.closers, func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return mongoClient.Close(closeCtx)
		})
		app.readiness["mongo"] = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return mongoClient.Ping(pingCtx)
		}
		conversations = mongostore.NewConversationStore(mongoClient.DB)
		outboxStore = outbox.NewMongoStore(mongoClient.DB)
		users = mongostore.NewUserRepository(mongoClient.DB)

		session, err := scylla.NewSession(scylla.Options{
			Hosts:             cfg.ScyllaHosts,
			Keyspace:          cfg.ScyllaKeyspace,
			Username:          cfg.ScyllaUsername,
			Password:          cfg.ScyllaPassword,
			Timeout:           cfg.ScyllaTimeout,
			Consistency:       cfg.ScyllaConsistency,
			ReplicationFactor: cfg.ReplicationFactor,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect scylla: %w", err)
		}
		app.closers = append(app.closers, func() error {
			session.Close()
			return nil
		})
		app.readiness["scylla"] = func() error {
			if session.Closed() {
				return errors.New("scylla session closed")
			}
			return nil
		}
		scyllaStore := scylla.NewStore(session, logger)
		messages = scyllaStore
		receipts = scyllaStore

		rdb, err := redisstore.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.closers = append(app.closers, rdb.Close)
		app.readiness["redis"] = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Ping(pingCtx).Err()
		}
		lastSeen = redisstore.NewLastSeenStore(rdb)
		resolver = redisstore.NewSessionResolver(rdb)

	default: // memory
		store := memory.NewChatStore()
		conversations = store
		messages = store
		receipts = store
		lastSeen = memory.NewLastSeenStore()
		outboxStore = outbox.NewMemoryStore()
		users = memory.NewUserRepository()
		staticResolver, err := loadStaticTokens(cfg.AuthTokensFile, logger)
		if err != nil {
			return nil, err
		}
		resolver = staticResolver
	}

	if cfg.AsynqRedisAddr != "" {
		asynqQueue := queue.NewAsynq(cfg.AsynqRedisAddr)
		app.closers = append(app.closers, asynqQueue.Close)
		taskQueue = asynqQueue
	}

	registry := realtime.NewRegistry()
	app.registry = registry
	hub := &realtime.Hub{Registry: registry, Conversations: conversations, Logger: logger}

	tracker := presence.NewTracker(lastSeen, logger)
	if cfg.PresenceTTL > 0 {
		tracker.TTL = cfg.PresenceTTL
	}
	if cfg.PresenceSweep > 0 {
		tracker.SweepInterval = cfg.PresenceSweep
	}
	tracker.OnChange = func(change presence.Change) {
		hub.BroadcastPresence(context.Background(), change.UserID, change.Online, change.LastSeen)
	}
	app.workers = append(app.workers, func(ctx context.Context) {
		_ = tracker.Run(ctx)
	})

	service := &chat.Service{
		Conversations: conversations,
		Messages:      messages,
		Receipts:      receipts,
		Broadcast:     hub,
		Queue:         taskQueue,
		Outbox:        outbox.Appender{Store: outboxStore},
		Logger:        logger,
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, "pingme")
		if err != nil {
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		app.closers = append(app.closers, producer.Close)
		worker := &outbox.Worker{
			Store:       outboxStore,
			Producer:    producer,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Source:      "app://pingme",
			Backoff:     cfg.RetryBackoff,
		}
		app.workers = append(app.workers, func(ctx context.Context) {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		})
	} else {
		logger.Warn("kafka brokers not configured, outbox events stay queued")
	}

	authMW := ginserver.AuthMiddleware{Resolver: resolver, Logger: logger}
	wsHandler := ginserver.NewWSHandler(hub, registry, tracker, service, logger)
	app.handlers = ginserver.Handlers{
		Chat:           ginserver.ChatHandler{Service: service, Presence: tracker, Logger: logger},
		Users:          &ginserver.UserHandler{Users: users, Logger: logger},
		WS:             wsHandler.Handle,
		AuthMiddleware: authMW.Handle,
	}
	return app, nil
}

// loadStaticTokens seeds the dev token set from a JSON file of
// token -> user id pairs.
func loadStaticTokens(path string, logger *slog.Logger) (*auth.StaticResolver, error) {
	if path == "" {
		logger.Warn("AUTH_TOKENS_FILE not set, all requests will be anonymous")
		return auth.NewStaticResolver(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auth tokens: %w", err)
	}
	tokens := map[string]string{}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse auth tokens: %w", err)
	}
	logger.Info("auth tokens loaded", "count", len(tokens), "path", path)
	return auth.NewStaticResolver(tokens), nil
}

func (a *application) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
	}
}
