package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lats-pos/receiving/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPipelineRepair re-runs interrupted draft and quality fan-outs.
	TaskPipelineRepair = "pipeline:repair"
	// TaskKeyCleanup purges expired idempotency keys.
	TaskKeyCleanup = "keys:cleanup"
)

// PipelineRepairPayload carries scheduling metadata.
type PipelineRepairPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// KeyCleanupPayload sets the retention window for the purge.
type KeyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewPipelineRepairTask constructs an Asynq task for the repair sweep.
func NewPipelineRepairTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(PipelineRepairPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPipelineRepair, body, asynq.Queue(QueueDefault)), nil
}

// NewKeyCleanupTask constructs an Asynq task for the key purge.
func NewKeyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(KeyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskKeyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// DraftRepairer tops up partial draft fan-outs.
type DraftRepairer interface {
	RepairAllShipments(ctx context.Context) (int, error)
}

// QualityRepairer tops up partial quality-check fan-outs.
type QualityRepairer interface {
	RepairIncompleteChecks(ctx context.Context) (int, error)
}

// KeyCleaner purges idempotency keys past the retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NewPipelineRepairHandler returns the handler for TaskPipelineRepair. Both
// sweeps run even when the first one fails, so a draft problem never blocks
// quality repairs.
func NewPipelineRepairHandler(drafts DraftRepairer, quality QualityRepairer, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload PipelineRepairPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track(TaskPipelineRepair)

		var firstErr error
		if drafts != nil {
			n, err := drafts.RepairAllShipments(ctx)
			if err != nil {
				logger.Error("draft repair sweep failed", "error", err)
				firstErr = err
			} else if n > 0 {
				logger.Info("draft repair sweep", "created", n)
				metrics.AddRepaired("drafts", n)
			}
		}
		if quality != nil {
			n, err := quality.RepairIncompleteChecks(ctx)
			if err != nil {
				logger.Error("quality repair sweep failed", "error", err)
				if firstErr == nil {
					firstErr = err
				}
			} else if n > 0 {
				logger.Info("quality repair sweep", "repaired", n)
				metrics.AddRepaired("quality_checks", n)
			}
		}
		return tracker.End(firstErr)
	}
}

// NewKeyCleanupHandler returns the handler for TaskKeyCleanup.
func NewKeyCleanupHandler(keys KeyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload KeyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track(TaskKeyCleanup)
		removed, err := keys.Cleanup(ctx, payload.Retention)
		if err != nil {
			logger.Error("key cleanup failed", "error", err)
			return tracker.End(err)
		}
		if removed > 0 {
			logger.Info("key cleanup", "removed", removed)
		}
		return tracker.End(nil)
	}
}
