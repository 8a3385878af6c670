// Package main runs the standalone background worker (offload retries).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orbit-meet/backend/config"
	"github.com/orbit-meet/backend/internal/recordings"
	"github.com/orbit-meet/backend/internal/worker"
	"github.com/orbit-meet/backend/pkg/database"
	"github.com/orbit-meet/backend/pkg/queue"
	"github.com/orbit-meet/backend/pkg/redis"
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

	rdb, err := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	blob, err := newBlobStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("blob store", zap.Error(err))
	}

	recordingRepo := recordings.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	recordingSvc := recordings.NewService(recordingRepo, blob, jobQueue, recordings.ServiceConfig{
		StaleTimeout:    cfg.Recording.StaleTimeout(),
		RetentionWindow: cfg.Retention.Window(),
		PresignTTL:      cfg.Storage.PresignExpire(),
	}, logger)
	processor := worker.NewOffloadProcessor(recordingSvc, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
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
