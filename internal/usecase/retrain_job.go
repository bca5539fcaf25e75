package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"StockRisk/pkg/cache"
	"StockRisk/pkg/logger"
	"StockRisk/pkg/queue"
)

// RetrainJobType routes retrain messages on the job queue.
const RetrainJobType = "model.retrain"

const retrainLockKey = "lock:retrain"

// RetrainPayload is the queued retrain request.
type RetrainPayload struct {
	Source      string    `json:"source,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	RequestID   string    `json:"request_id,omitempty"`
}

// TrainerFactory builds a trainer for a dataset source; "" is the
// configured default.
type TrainerFactory func(source string) (*Trainer, error)

// RetrainJob runs queued retrain requests one at a time across workers.
type RetrainJob struct {
	newTrainer TrainerFactory
	lock       cache.Service
	lockTTL    time.Duration
	log        *logger.Logger
}

var _ queue.Job = (*RetrainJob)(nil)

func NewRetrainJob(newTrainer TrainerFactory, lock cache.Service, lockTTL time.Duration, lgr *logger.Logger) *RetrainJob {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &RetrainJob{newTrainer: newTrainer, lock: lock, lockTTL: lockTTL, log: lgr}
}

func (j *RetrainJob) Type() string { return RetrainJobType }

// Handle runs one training pass. A run already holding the lock makes this
// request a no-op.
func (j *RetrainJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.Decode[RetrainPayload](payload)
	if err != nil {
		return fmt.Errorf("decode retrain payload: %w", err)
	}
	return j.HandlePayload(ctx, req)
}

// HandlePayload runs req directly, bypassing the queue.
func (j *RetrainJob) HandlePayload(ctx context.Context, req RetrainPayload) error {
	if j.lock != nil {
		ok, err := j.lock.TryLock(ctx, retrainLockKey, j.lockTTL)
		if err != nil {
			return fmt.Errorf("acquire retrain lock: %w", err)
		}
		if !ok {
			j.log.Info("retrain already running, request dropped", logger.String("request_id", req.RequestID))
			return nil
		}
		defer func() {
			if err := j.lock.Unlock(context.WithoutCancel(ctx), retrainLockKey); err != nil {
				j.log.Warn("release retrain lock", logger.Error(err))
			}
		}()
	}

	trainer, err := j.newTrainer(req.Source)
	if err != nil {
		return err
	}
	report, err := trainer.Run(ctx)
	if err != nil {
		return err
	}
	j.log.Info("retrain completed",
		logger.String("request_id", req.RequestID),
		logger.String("version", report.Version),
		logger.Duration("took", report.Duration),
	)
	return nil
}
