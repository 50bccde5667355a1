package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/api/handlers"
	"github.com/kbchat/backend/internal/cache/redis"
	"github.com/kbchat/backend/internal/chat"
	"github.com/kbchat/backend/internal/conversation"
	"github.com/kbchat/backend/internal/engine"
	"github.com/kbchat/backend/internal/feedback"
	"github.com/kbchat/backend/internal/llm"
	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/internal/middleware/ratelimit"
	"github.com/kbchat/backend/internal/middleware/security"
	"github.com/kbchat/backend/internal/middleware/validation"
	"github.com/kbchat/backend/internal/storage/sqlite"
	"github.com/kbchat/backend/internal/vector/milvus"
	"github.com/kbchat/backend/pkg/config"
	appLogger "github.com/kbchat/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting KB Chat API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Nil cache client is valid: every cache method no-ops on nil.
	var cacheClient *redis.Client
	if cfg.Redis.Enabled {
		cacheClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer cacheClient.Close()
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.CreateCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to create collection", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	ragEngine := engine.NewRAG(llmClient, milvusClient, cacheClient, cfg.LLM.TopK)
	feedbackStore := feedback.NewStore(sqliteClient)
	conversationStore := conversation.NewStore(sqliteClient)

	chatService := chat.NewService(ragEngine, feedbackStore, conversationStore, cacheClient, chat.Options{
		ConfidenceThreshold: cfg.Feedback.ConfidenceThreshold,
		SimilarityThreshold: cfg.Feedback.SimilarityThreshold,
		MaxHistoryTurns:     cfg.Conversation.MaxHistoryTurns,
		AnswerTTL:           time.Duration(cfg.Redis.AnswerTTLMin) * time.Minute,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{}))

	chatHandler := handlers.NewChatHandler(chatService)
	feedbackHandler := handlers.NewFeedbackHandler(chatService)
	conversationHandler := handlers.NewConversationHandler(conversationStore)
	wsHandler := handlers.NewWebSocketHandler(chatService)

	api := app.Group("/api/v1")

	api.Post("/chat", chatHandler.HandleChat)
	api.Post("/search", chatHandler.HandleSearch)

	api.Post("/feedback", feedbackHandler.HandleSubmit)
	api.Get("/feedback/history", feedbackHandler.HandleHistory)
	api.Get("/stats", feedbackHandler.HandleStats)

	api.Post("/conversations", conversationHandler.HandleCreate)
	api.Get("/conversations", conversationHandler.HandleList)
	api.Get("/conversations/:id", conversationHandler.HandleHistory)
	api.Get("/conversations/:id/messages", conversationHandler.HandleHistory)
	api.Post("/conversations/:id/chat", chatHandler.HandleConversationChat)
	api.Patch("/conversations/:id", conversationHandler.HandleUpdate)
	api.Delete("/conversations/:id", conversationHandler.HandleDelete)

	healthHandler := handlers.NewHealthHandler(sqliteClient)
	api.Get("/health", healthHandler.HandleHealth)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	cleanupDone := make(chan struct{})
	if cfg.Conversation.TTLDays > 0 {
		go runCleanup(conversationStore, cfg.Conversation, cleanupDone)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	close(cleanupDone)
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// runCleanup periodically drops conversations idle past the retention TTL.
func runCleanup(store *conversation.Store, cfg config.ConversationConfig, done chan struct{}) {
	interval := time.Duration(cfg.CleanupIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(context.Background(), cfg.TTLDays)
			if err != nil {
				appLogger.Error("Conversation cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				metrics.ConversationsCleaned.Add(float64(removed))
				appLogger.Info("Expired conversations removed", zap.Int("count", removed))
			}
		}
	}
}
