package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Recording RecordingConfig
	Retention RetentionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/orbit?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings (offload-retry queue).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// StorageConfig selects and configures the durable blob backend.
// Backend is "s3" or "minio".
type StorageConfig struct {
	Backend              string
	Bucket               string
	PresignExpireMinutes int

	// s3
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// minio
	Endpoint string
	UseSSL   bool
}

// RecordingConfig holds scratch storage and liveness settings for recording jobs.
type RecordingConfig struct {
	ScratchDir          string // directory for chunk sessions and not-yet-offloaded files; empty = os.TempDir()
	StaleTimeoutMinutes int    // recording with no stop signal after this is reconcilable to failed
	MaxUploadChunks     int    // upper bound on total_chunks accepted at upload init
}

// RetentionConfig holds the purge policy for completed recordings.
type RetentionConfig struct {
	WindowDays           int // completed recordings are deleted this many days after end
	SweepIntervalMinutes int // sweep cadence; one run also fires at startup
	PerObjectTimeoutSec  int // time box for each blob delete during a sweep
}

// StaleTimeout returns the liveness timeout as a duration.
func (c RecordingConfig) StaleTimeout() time.Duration {
	if c.StaleTimeoutMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.StaleTimeoutMinutes) * time.Minute
}

// Window returns the retention window as a duration.
func (c RetentionConfig) Window() time.Duration {
	if c.WindowDays <= 0 {
		return 3 * 24 * time.Hour
	}
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// SweepInterval returns the sweep cadence as a duration.
func (c RetentionConfig) SweepInterval() time.Duration {
	if c.SweepIntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// PerObjectTimeout returns the per-blob-delete time box for sweeps.
func (c RetentionConfig) PerObjectTimeout() time.Duration {
	if c.PerObjectTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PerObjectTimeoutSec) * time.Second
}

// PresignExpire returns the signed download URL TTL.
func (c StorageConfig) PresignExpire() time.Duration {
	if c.PresignExpireMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.PresignExpireMinutes) * time.Minute
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "orbit"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Storage: StorageConfig{
			Backend:              strings.ToLower(getEnv("STORAGE_BACKEND", "s3")),
			Bucket:               getEnv("STORAGE_BUCKET", "orbit-recordings"),
			PresignExpireMinutes: getEnvInt("STORAGE_PRESIGN_EXPIRE_MINUTES", 60),
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:             getEnv("MINIO_ENDPOINT", "localhost:9000"),
			UseSSL:               getEnvBool("MINIO_USE_SSL", false),
		},
		Recording: RecordingConfig{
			ScratchDir:          getEnv("RECORDING_SCRATCH_DIR", ""),
			StaleTimeoutMinutes: getEnvInt("RECORDING_STALE_TIMEOUT_MINUTES", 5),
			MaxUploadChunks:     getEnvInt("RECORDING_MAX_UPLOAD_CHUNKS", 10000),
		},
		Retention: RetentionConfig{
			WindowDays:           getEnvInt("RETENTION_WINDOW_DAYS", 3),
			SweepIntervalMinutes: getEnvInt("RETENTION_SWEEP_INTERVAL_MINUTES", 60),
			PerObjectTimeoutSec:  getEnvInt("RETENTION_PER_OBJECT_TIMEOUT_SEC", 30),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
