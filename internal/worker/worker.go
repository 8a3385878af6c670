package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orbit-meet/backend/internal/recordings"
	"github.com/orbit-meet/backend/pkg/queue"
)

// OffloadProcessor drains offload-retry jobs: recordings whose blob upload
// failed but whose scratch file survives get re-pushed to durable storage.
type OffloadProcessor struct {
	svc    *recordings.Service
	queue  *queue.Queue
	logger *zap.Logger
}

// NewOffloadProcessor creates an offload-retry processor.
func NewOffloadProcessor(svc *recordings.Service, q *queue.Queue, logger *zap.Logger) *OffloadProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OffloadProcessor{svc: svc, queue: q, logger: logger}
}

// Process executes one offload-retry job.
func (p *OffloadProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeOffloadRetry {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.OffloadRetryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	err := p.svc.RetryOffload(ctx, payload.RecordingID, payload.FileName)
	switch {
	case err == nil:
		p.logger.Info("offload retry succeeded", zap.String("recording_id", payload.RecordingID.String()))
		return nil
	case errors.Is(err, recordings.ErrNotFound), errors.Is(err, recordings.ErrInvalidState):
		// Recording was deleted, already completed elsewhere, or has nothing
		// left to offload. Dropping the job is the right outcome.
		p.logger.Warn("offload retry dropped", zap.String("recording_id", payload.RecordingID.String()), zap.Error(err))
		return nil
	default:
		return err
	}
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *OffloadProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("offload worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("offload worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
