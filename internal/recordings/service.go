package recordings

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbit-meet/backend/internal/models"
	"github.com/orbit-meet/backend/pkg/queue"
	"github.com/orbit-meet/backend/pkg/storage"
)

// Store is the metadata persistence needed by the lifecycle service.
// *Repository implements it; tests use an in-memory fake.
type Store interface {
	Create(ctx context.Context, rec *models.Recording) error
	Update(ctx context.Context, id uuid.UUID, fields UpdateFields) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Recording, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Recording, error)
	GetActive(ctx context.Context, roomID uuid.UUID) (*models.Recording, error)
	ListExpired(ctx context.Context, now time.Time) ([]models.Recording, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// OffloadQueue re-schedules failed blob offloads. Optional; nil disables retries.
type OffloadQueue interface {
	EnqueueOffloadRetry(ctx context.Context, payload queue.OffloadRetryPayload) error
}

// Service is the recording lifecycle controller: it owns the state machine
// (recording → processing → completed, failed terminal), the one-active-per-
// room invariant, and coordination between scratch storage, the assembler's
// output and the durable blob store.
type Service struct {
	store           Store
	blob            storage.BlobStore
	retryQueue      OffloadQueue
	logger          *zap.Logger
	staleTimeout    time.Duration
	retentionWindow time.Duration
	presignTTL      time.Duration
	now             func() time.Time
}

// ServiceConfig holds lifecycle policy knobs.
type ServiceConfig struct {
	StaleTimeout    time.Duration // liveness timeout for jobs stuck in "recording"
	RetentionWindow time.Duration // completed recordings expire endTime + window
	PresignTTL      time.Duration // signed download URL lifetime
}

// NewService creates the lifecycle controller.
func NewService(store Store, blob storage.BlobStore, retryQueue OffloadQueue, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 5 * time.Minute
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = 3 * 24 * time.Hour
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	return &Service{
		store:           store,
		blob:            blob,
		retryQueue:      retryQueue,
		logger:          logger,
		staleTimeout:    cfg.StaleTimeout,
		retentionWindow: cfg.RetentionWindow,
		presignTTL:      cfg.PresignTTL,
		now:             time.Now,
	}
}

// StartParams identifies the room and owner for a new recording.
type StartParams struct {
	RoomID         uuid.UUID
	RoomCode       string
	RoomName       string
	OwnerID        uuid.UUID
	OwnerName      string
	ParticipantIDs []uuid.UUID
}

// Start creates a new recording job for the room. If an active job exists it
// is either force-failed (stale: past the liveness timeout with no stop
// signal) or the start is rejected with ErrConflict. The store's partial
// unique index backstops the check against concurrent starts.
func (s *Service) Start(ctx context.Context, p StartParams) (*models.Recording, error) {
	active, err := s.store.GetActive(ctx, p.RoomID)
	if err != nil {
		return nil, fmt.Errorf("get active recording: %w", err)
	}
	if active != nil {
		if !active.Stale(s.staleTimeout, s.now()) {
			return nil, ErrConflict
		}
		s.logger.Warn("force-failing stale recording",
			zap.String("recording_id", active.ID.String()),
			zap.String("room_id", p.RoomID.String()),
			zap.Time("start_time", active.StartTime))
		if err := s.Fail(ctx, active.ID, "recording exceeded liveness timeout without a stop signal"); err != nil {
			return nil, fmt.Errorf("reconcile stale recording: %w", err)
		}
	}

	rec := &models.Recording{
		RoomID:         p.RoomID,
		RoomCode:       p.RoomCode,
		RoomName:       p.RoomName,
		OwnerID:        p.OwnerID,
		OwnerName:      p.OwnerName,
		ParticipantIDs: p.ParticipantIDs,
		Status:         models.RecordingStatusRecording,
		StartTime:      s.now(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info("recording started",
		zap.String("recording_id", rec.ID.String()),
		zap.String("room_id", p.RoomID.String()),
		zap.String("owner_id", p.OwnerID.String()))
	return rec, nil
}

// Stop moves the recording to processing and records end time and duration.
// A non-positive durationSeconds is derived from endTime - startTime.
func (s *Service) Stop(ctx context.Context, id, userID uuid.UUID, durationSeconds int) (*models.Recording, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsOwner(userID) {
		return nil, ErrForbidden
	}
	if rec.Status != models.RecordingStatusRecording {
		return nil, ErrInvalidState
	}

	end := s.now()
	if durationSeconds <= 0 {
		durationSeconds = int(end.Sub(rec.StartTime).Seconds())
	}
	status := models.RecordingStatusProcessing
	if err := s.store.Update(ctx, id, UpdateFields{
		Status:          &status,
		EndTime:         &end,
		DurationSeconds: &durationSeconds,
	}); err != nil {
		return nil, err
	}
	rec.Status = status
	rec.EndTime = &end
	rec.DurationSeconds = durationSeconds
	s.logger.Info("recording stopped", zap.String("recording_id", id.String()), zap.Int("duration_sec", durationSeconds))
	return rec, nil
}

// FinishUpload offloads an uploaded scratch file (direct or assembled from
// chunks) to durable storage and completes the job. Only the owner may
// upload. A job still in "recording" is implicitly stopped first; an upload
// against a completed or failed job is rejected.
func (s *Service) FinishUpload(ctx context.Context, id, userID uuid.UUID, localPath, fileName string) (*models.Recording, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsOwner(userID) {
		return nil, ErrForbidden
	}
	switch rec.Status {
	case models.RecordingStatusRecording:
		if rec, err = s.Stop(ctx, id, userID, 0); err != nil {
			return nil, err
		}
	case models.RecordingStatusProcessing:
		// stop already arrived
	default:
		return nil, ErrInvalidState
	}
	return s.offload(ctx, rec, localPath, fileName)
}

// offload pushes the scratch file to the blob store and marks the job
// completed, setting retention_deadline = endTime + window. On blob failure
// the scratch file is preserved, recorded on the job, and a retry job is
// enqueued; the returned error wraps ErrStorage.
func (s *Service) offload(ctx context.Context, rec *models.Recording, localPath, fileName string) (*models.Recording, error) {
	objectName := storage.RecordingObjectName(rec.RoomID.String(), rec.ID.String(), fileName)
	url, size, err := s.blob.Upload(ctx, localPath, objectName)
	if err != nil {
		s.logger.Error("blob offload failed, scratch file preserved",
			zap.String("recording_id", rec.ID.String()),
			zap.String("scratch_path", localPath),
			zap.Error(err))
		scratch := localPath
		if uerr := s.store.Update(ctx, rec.ID, UpdateFields{ScratchPath: &scratch}); uerr != nil {
			s.logger.Error("record scratch path failed", zap.Error(uerr), zap.String("recording_id", rec.ID.String()))
		}
		if s.retryQueue != nil {
			if qerr := s.retryQueue.EnqueueOffloadRetry(ctx, queue.OffloadRetryPayload{
				RecordingID: rec.ID,
				FileName:    fileName,
			}); qerr != nil {
				s.logger.Error("enqueue offload retry failed", zap.Error(qerr), zap.String("recording_id", rec.ID.String()))
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	end := rec.EndTime
	if end == nil {
		n := s.now()
		end = &n
	}
	deadline := end.Add(s.retentionWindow)
	status := models.RecordingStatusCompleted
	empty := ""
	if err := s.store.Update(ctx, rec.ID, UpdateFields{
		Status:            &status,
		StorageKey:        &objectName,
		StorageURL:        &url,
		FileSize:          &size,
		ScratchPath:       &empty,
		RetentionDeadline: &deadline,
	}); err != nil {
		return nil, err
	}
	rec.Status = status
	rec.StorageKey = objectName
	rec.StorageURL = url
	rec.FileSize = size
	rec.ScratchPath = ""
	rec.RetentionDeadline = &deadline
	s.logger.Info("recording completed",
		zap.String("recording_id", rec.ID.String()),
		zap.String("storage_key", objectName),
		zap.Int64("file_size", size),
		zap.Time("retention_deadline", deadline))
	return rec, nil
}

// RetryOffload re-attempts the blob offload for a job whose scratch file was
// preserved after an upload failure. Used by the background worker.
func (s *Service) RetryOffload(ctx context.Context, id uuid.UUID, fileName string) error {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == models.RecordingStatusCompleted {
		return nil
	}
	if rec.Status != models.RecordingStatusProcessing || rec.ScratchPath == "" {
		return ErrInvalidState
	}
	if _, err := os.Stat(rec.ScratchPath); err != nil {
		// Scratch file is gone; nothing to retry with.
		if ferr := s.Fail(ctx, id, "scratch file lost before offload retry"); ferr != nil {
			return ferr
		}
		return fmt.Errorf("scratch file missing: %w", err)
	}
	_, err = s.offload(ctx, rec, rec.ScratchPath, fileName)
	return err
}

// Fail moves a job to the terminal failed state: errorDetail set, endTime
// set if absent, scratch artifacts discarded best-effort.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	status := models.RecordingStatusFailed
	empty := ""
	fields := UpdateFields{Status: &status, ErrorDetail: &reason, ScratchPath: &empty}
	if rec.EndTime == nil {
		end := s.now()
		fields.EndTime = &end
	}
	if err := s.store.Update(ctx, id, fields); err != nil {
		return err
	}
	if rec.ScratchPath != "" {
		if err := os.Remove(rec.ScratchPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove scratch file on failure", zap.String("path", rec.ScratchPath), zap.Error(err))
		}
	}
	s.logger.Info("recording failed", zap.String("recording_id", id.String()), zap.String("reason", reason))
	return nil
}

// CleanupRoom force-fails whatever job holds the room's active slot. It is
// the operator escape hatch for stuck recordings. ErrNotFound when none
// exists.
func (s *Service) CleanupRoom(ctx context.Context, roomID uuid.UUID) (*models.Recording, error) {
	active, err := s.store.GetActive(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("get active recording: %w", err)
	}
	if active == nil {
		return nil, ErrNotFound
	}
	if err := s.Fail(ctx, active.ID, "manually cleaned up"); err != nil {
		return nil, err
	}
	return s.store.GetByID(ctx, active.ID)
}

// Download returns a time-limited signed URL for a completed recording.
// Owner or participant only.
func (s *Service) Download(ctx context.Context, id, userID uuid.UUID) (string, time.Duration, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", 0, err
	}
	if !rec.CanView(userID) {
		return "", 0, ErrForbidden
	}
	if rec.Status != models.RecordingStatusCompleted || rec.StorageKey == "" {
		return "", 0, ErrInvalidState
	}
	url, err := s.blob.SignedDownloadURL(ctx, rec.StorageKey, s.presignTTL)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return url, s.presignTTL, nil
}

// Delete removes the blob (idempotent at the store) and then the metadata
// record. Owner only.
func (s *Service) Delete(ctx context.Context, id, userID uuid.UUID) error {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !rec.IsOwner(userID) {
		return ErrForbidden
	}
	if rec.StorageKey != "" {
		if err := s.blob.Delete(ctx, rec.StorageKey); err != nil {
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	if rec.ScratchPath != "" {
		if err := os.Remove(rec.ScratchPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove scratch file on delete", zap.String("path", rec.ScratchPath), zap.Error(err))
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("recording deleted", zap.String("recording_id", id.String()), zap.String("deleted_by", userID.String()))
	return nil
}

// ListVisible returns recordings the user owns or participated in.
func (s *Service) ListVisible(ctx context.Context, userID uuid.UUID) ([]models.Recording, error) {
	return s.store.ListForUser(ctx, userID)
}

// Get returns a recording if the user may view it.
func (s *Service) Get(ctx context.Context, id, userID uuid.UUID) (*models.Recording, error) {
	rec, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.CanView(userID) {
		return nil, ErrForbidden
	}
	return rec, nil
}
