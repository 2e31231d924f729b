// Package main runs the live shopping coordinator HTTP server with WebSocket
// and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shoplive-labs/backend/config"
	"github.com/shoplive-labs/backend/internal/analytics"
	"github.com/shoplive-labs/backend/internal/auth"
	"github.com/shoplive-labs/backend/internal/chat"
	"github.com/shoplive-labs/backend/internal/middleware"
	"github.com/shoplive-labs/backend/internal/offers"
	"github.com/shoplive-labs/backend/internal/products"
	"github.com/shoplive-labs/backend/internal/realtime"
	"github.com/shoplive-labs/backend/internal/store"
	"github.com/shoplive-labs/backend/internal/streams"
	"github.com/shoplive-labs/backend/internal/viewers"
	"github.com/shoplive-labs/backend/internal/worker"
	"github.com/shoplive-labs/backend/pkg/database"
	"github.com/shoplive-labs/backend/pkg/queue"
	"github.com/shoplive-labs/backend/pkg/redis"
	"github.com/shoplive-labs/backend/pkg/response"
	"github.com/shoplive-labs/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			MediaBucket:          cfg.AWS.MediaBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Repositories
	streamRepo := streams.NewRepository(pool)
	viewerRepo := viewers.NewRepository(pool)
	chatRepo := chat.NewRepository(pool)
	offerRepo := offers.NewRepository(pool)
	productRepo := products.NewRepository(pool)

	// Realtime coordinator over the persistence gateway
	gateway := store.New(streamRepo, viewerRepo, chatRepo, offerRepo, productRepo,
		time.Duration(cfg.Store.TimeoutSeconds)*time.Second)
	limiter := chat.NewLimiter(cfg.Chat.MessagesPerSecond)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	coordinator := realtime.NewCoordinator(gateway, hub, limiter, jobQueue, logger)

	// HTTP handlers
	streamHandler := streams.NewHandler(streamRepo, hub, s3Client)
	chatHandler := chat.NewHandler(chatRepo, streamRepo, hub, logger)
	offerHandler := offers.NewHandler(offerRepo, streamRepo, hub, s3Client)
	productHandler := products.NewHandler(productRepo, streamRepo, hub)
	analyticsHandler := analytics.NewHandler(pool, streamRepo, viewerRepo)

	// Analytics worker (product clicks / cart adds)
	analyticsProcessor := worker.NewAnalyticsProcessor(jobQueue, productRepo, streamRepo, logger)

	jwtValidate := func(token string) (customerID uuid.UUID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		return claims.CustomerID, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public reads (viewers may be guests without tokens)
	router.GET("/streams", streamHandler.List)
	router.GET("/streams/:id", streamHandler.GetByID)
	router.GET("/streams/:id/viewer_count", streamHandler.ViewerCount)
	router.GET("/streams/:id/messages", chatHandler.History)
	router.GET("/streams/:id/offers", offerHandler.ListByStream)
	router.GET("/streams/:id/products", productHandler.ListByStream)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/streams", middleware.RequireRole(auth.RoleHost), streamHandler.Create)
		api.PATCH("/streams/:id", streamHandler.Update)
		api.POST("/streams/:id/start", streamHandler.Start)
		api.POST("/streams/:id/end", streamHandler.End)
		api.POST("/streams/:id/cover/generate-upload-url", streamHandler.GenerateCoverUploadURL)
		api.GET("/streams/:id/analytics", streamHandler.RequireHost(), analyticsHandler.GetByStream)

		api.PATCH("/messages/:id/approve", chatHandler.Approve)

		api.POST("/streams/:id/offers", offerHandler.Create)
		api.PATCH("/offers/:id/activate", offerHandler.Activate)
		api.POST("/offers/:id/banner/generate-upload-url", offerHandler.GenerateBannerUploadURL)

		api.POST("/streams/:id/products", productHandler.Add)
		api.PATCH("/streams/:id/products/:productId/feature", productHandler.Feature)
	}

	// WebSocket (token or guest_id in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWS(hub, coordinator, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (product analytics counters)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go analyticsProcessor.Run(workerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
