// Package main runs the Orbit Meet recording backend HTTP server with the
// retention sweeper and offload-retry worker, and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orbit-meet/backend/config"
	"github.com/orbit-meet/backend/internal/auth"
	"github.com/orbit-meet/backend/internal/middleware"
	"github.com/orbit-meet/backend/internal/recordings"
	"github.com/orbit-meet/backend/internal/retention"
	"github.com/orbit-meet/backend/internal/rooms"
	"github.com/orbit-meet/backend/internal/upload"
	"github.com/orbit-meet/backend/internal/worker"
	"github.com/orbit-meet/backend/pkg/database"
	"github.com/orbit-meet/backend/pkg/queue"
	"github.com/orbit-meet/backend/pkg/redis"
	"github.com/orbit-meet/backend/pkg/response"
	"github.com/orbit-meet/backend/pkg/storage"
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

	rdb, err := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	blob, err := newBlobStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("blob store", zap.Error(err))
	}

	assembler, err := upload.NewAssembler(cfg.Recording.ScratchDir, logger)
	if err != nil {
		logger.Fatal("scratch storage", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Rooms
	roomRepo := rooms.NewRepository(pool)
	roomHandler := rooms.NewHandler(roomRepo, logger)

	// Recordings
	recordingRepo := recordings.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	recordingSvc := recordings.NewService(recordingRepo, blob, jobQueue, recordings.ServiceConfig{
		StaleTimeout:    cfg.Recording.StaleTimeout(),
		RetentionWindow: cfg.Retention.Window(),
		PresignTTL:      cfg.Storage.PresignExpire(),
	}, logger)
	recordingHandler := recordings.NewHandler(recordingSvc, roomRepo, assembler, cfg.Recording.MaxUploadChunks, logger)

	// Retention sweep (recurring + one run at startup + manual trigger)
	sweeper := retention.NewSweeper(recordingRepo, blob, retention.Config{
		Interval:         cfg.Retention.SweepInterval(),
		PerObjectTimeout: cfg.Retention.PerObjectTimeout(),
	}, logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal("retention sweeper", zap.Error(err))
	}
	recordingHandler.SetSweepTrigger(sweeper.RunOnce)

	// Offload retry worker
	offloadProcessor := worker.NewOffloadProcessor(recordingSvc, jobQueue, logger)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go offloadProcessor.Run(workerCtx)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Rooms
		api.POST("/rooms", roomHandler.Create)
		api.GET("/rooms", roomHandler.List)
		api.GET("/rooms/:id", roomHandler.Get)
		api.POST("/rooms/join", roomHandler.Join)

		// Recordings
		api.POST("/recordings/start", recordingHandler.Start)
		api.POST("/recordings/:id/stop", recordingHandler.Stop)
		api.POST("/recordings/:id/upload", recordingHandler.Upload)
		api.POST("/recordings/:id/upload/init", recordingHandler.UploadInit)
		api.POST("/recordings/:id/upload/chunk", recordingHandler.UploadChunk)
		api.POST("/recordings/:id/upload/complete", recordingHandler.UploadComplete)
		api.GET("/recordings", recordingHandler.List)
		api.GET("/recordings/:id/download", recordingHandler.Download)
		api.DELETE("/recordings/:id", recordingHandler.Delete)
		api.POST("/recordings/cleanup/:roomId", recordingHandler.CleanupRoom)
		api.POST("/recordings/sweep", recordingHandler.SweepNow)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

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
	sweeper.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newBlobStore selects the durable storage backend from config.
func newBlobStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.BlobStore, error) {
	if cfg.Backend == "minio" {
		return storage.NewMinio(ctx, storage.MinioConfig{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Bucket:          cfg.Bucket,
			UseSSL:          cfg.UseSSL,
		}, logger)
	}
	return storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
	}, logger)
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
