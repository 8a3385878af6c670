// Package retention purges completed recordings once their retention
// deadline has passed, deleting the durable blob and then the metadata
// record.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbit-meet/backend/internal/models"
	"github.com/orbit-meet/backend/pkg/scheduler"
)

// ExpiredStore is the metadata access the sweeper needs.
type ExpiredStore interface {
	ListExpired(ctx context.Context, now time.Time) ([]models.Recording, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// BlobDeleter removes objects from durable storage. Deletes are idempotent.
type BlobDeleter interface {
	Delete(ctx context.Context, objectName string) error
}

// Config holds sweep policy.
type Config struct {
	Interval         time.Duration // cadence between runs; one run also fires at Start
	PerObjectTimeout time.Duration // time box per blob delete so one slow object cannot stall the run
}

// Sweeper is the recurring retention task. It owns its schedule: Start wires
// it into a cron instance and fires an immediate first run, Stop tears it
// down with the process.
type Sweeper struct {
	store  ExpiredStore
	blob   BlobDeleter
	cfg    Config
	cron   *scheduler.Cron
	logger *zap.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewSweeper creates a retention sweeper.
func NewSweeper(store ExpiredStore, blob BlobDeleter, cfg Config, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.PerObjectTimeout <= 0 {
		cfg.PerObjectTimeout = 30 * time.Second
	}
	return &Sweeper{
		store:  store,
		blob:   blob,
		cfg:    cfg,
		cron:   scheduler.New(),
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules recurring sweeps and fires one immediately.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddEvery(s.cfg.Interval, func(ctx context.Context) {
		s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunOnce(context.Background())
	}()
	s.logger.Info("retention sweeper started", zap.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop halts the schedule and waits for in-flight runs to finish, the
// startup sweep included.
func (s *Sweeper) Stop() {
	s.cron.Stop()
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
}

// RunOnce performs a single sweep and returns (records deleted, blob delete
// failures). A failed blob delete is logged and skipped over; the metadata
// record is deleted regardless, because a record must never outlive its
// retention deadline even when the remote delete cannot be confirmed.
func (s *Sweeper) RunOnce(ctx context.Context) (deleted, blobFailures int) {
	now := s.now()
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		s.logger.Error("list expired recordings failed", zap.Error(err))
		return 0, 0
	}
	if len(expired) == 0 {
		s.logger.Debug("retention sweep found nothing to purge")
		return 0, 0
	}

	for _, rec := range expired {
		if rec.StorageKey != "" {
			delCtx, cancel := context.WithTimeout(ctx, s.cfg.PerObjectTimeout)
			err := s.blob.Delete(delCtx, rec.StorageKey)
			cancel()
			if err != nil {
				blobFailures++
				s.logger.Warn("blob delete failed during sweep, metadata still purged",
					zap.String("recording_id", rec.ID.String()),
					zap.String("storage_key", rec.StorageKey),
					zap.Error(err))
			}
		}
		if err := s.store.Delete(ctx, rec.ID); err != nil {
			s.logger.Error("metadata delete failed during sweep",
				zap.String("recording_id", rec.ID.String()), zap.Error(err))
			continue
		}
		deleted++
	}

	s.logger.Info("retention sweep finished",
		zap.Int("expired", len(expired)),
		zap.Int("deleted", deleted),
		zap.Int("blob_delete_failures", blobFailures))
	return deleted, blobFailures
}
