package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockline/stockline/internal/shared"
)

const (
	// TaskIdempotencyCleanup prunes idempotency keys past their retention.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// IdempotencyCleanupPayload carries the retention window for a cleanup run.
type IdempotencyCleanupPayload struct {
	RunID     string        `json:"run_id"`
	Retention time.Duration `json:"retention_ns"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	payload := IdempotencyCleanupPayload{RunID: newRunID(), Retention: retention}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupJob removes expired idempotency keys.
type IdempotencyCleanupJob struct {
	store  *shared.IdempotencyStore
	logger *slog.Logger
}

// NewIdempotencyCleanupJob constructs the job.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, logger *slog.Logger) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{store: store, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Retention <= 0 {
		payload.Retention = 24 * time.Hour
	}
	if err := j.store.Cleanup(ctx, payload.Retention); err != nil {
		j.logger.Error("idempotency cleanup", slog.String("run_id", payload.RunID), slog.Any("error", err))
		return err
	}
	j.logger.Info("idempotency cleanup complete",
		slog.String("run_id", payload.RunID),
		slog.Duration("retention", payload.Retention),
	)
	return nil
}
