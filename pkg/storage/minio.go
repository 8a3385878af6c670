package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioConfig holds MinIO client configuration.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// Minio stores recording blobs on a MinIO (or other S3-compatible) server.
// Implements BlobStore.
type Minio struct {
	client *minio.Client
	cfg    MinioConfig
	logger *zap.Logger
}

var _ BlobStore = (*Minio)(nil)

// NewMinio creates a MinIO-backed blob store and ensures the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig, logger *zap.Logger) (*Minio, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	logger.Info("MinIO blob store ready", zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.Bucket))
	return &Minio{client: client, cfg: cfg, logger: logger}, nil
}

// Upload streams the local file to MinIO and removes it once the write is
// acknowledged. On error the local file is left in place for retry.
func (m *Minio) Upload(ctx context.Context, localPath, objectName string) (string, int64, error) {
	info, err := m.client.FPutObject(ctx, m.cfg.Bucket, objectName, localPath, minio.PutObjectOptions{
		ContentType: ContentTypeForFilename(localPath),
	})
	if err != nil {
		return "", 0, fmt.Errorf("minio upload: %w", err)
	}

	if err := os.Remove(localPath); err != nil {
		m.logger.Warn("remove scratch file after upload", zap.String("path", localPath), zap.Error(err))
	}
	scheme := "http"
	if m.cfg.UseSSL {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/%s/%s", scheme, m.cfg.Endpoint, m.cfg.Bucket, objectName)
	return url, info.Size, nil
}

// SignedDownloadURL returns a pre-signed GET URL for the object.
func (m *Minio) SignedDownloadURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.cfg.Bucket, objectName, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}

// Delete removes the object. RemoveObject succeeds on missing keys.
func (m *Minio) Delete(ctx context.Context, objectName string) error {
	if err := m.client.RemoveObject(ctx, m.cfg.Bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
