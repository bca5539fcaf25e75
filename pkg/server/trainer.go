package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/usecase"
	"StockRisk/pkg/config"
	"StockRisk/pkg/logger"
	"StockRisk/pkg/queue"
)

// TrainerRuntime runs the offline trainer in one of three modes: a single
// pass, a cron schedule, or a queue worker serving retrain requests.
type TrainerRuntime struct {
	cfg     *config.Config
	log     *logger.Logger
	factory usecase.TrainerFactory
	job     *usecase.RetrainJob
	queue   *queue.RedisQueue
	closers []closer
}

func NewTrainerRuntime(
	cfg *config.Config,
	lgr *logger.Logger,
	factory usecase.TrainerFactory,
	job *usecase.RetrainJob,
	q *queue.RedisQueue,
) *TrainerRuntime {
	return &TrainerRuntime{cfg: cfg, log: lgr, factory: factory, job: job, queue: q}
}

func (r *TrainerRuntime) AddCloser(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

// RunOnce trains a single version from source ("" for the configured one).
func (r *TrainerRuntime) RunOnce(ctx context.Context, source string) (*models.TrainingReport, error) {
	trainer, err := r.factory(source)
	if err != nil {
		return nil, err
	}
	return trainer.Run(ctx)
}

// RunScheduled trains on spec (six fields, seconds first) until interrupted.
// Ticks that arrive while a run is in progress are skipped.
func (r *TrainerRuntime) RunScheduled(spec string) error {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := c.AddFunc(spec, func() {
		// the queue job takes the same lock, so a scheduled run never
		// overlaps a requested one
		payload := usecase.RetrainPayload{RequestedAt: time.Now().UTC(), RequestID: "cron-" + uuid.NewString()}
		if err := r.job.HandlePayload(ctx, payload); err != nil {
			r.log.Error("scheduled training failed", logger.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register training schedule %q: %w", spec, err)
	}

	c.Start()
	r.log.Info("training scheduler started", logger.String("schedule", spec))

	r.wait()
	cancel()
	<-c.Stop().Done()
	r.log.Info("training scheduler stopped")
	return r.close()
}

// RunWorker consumes retrain requests from the job queue until interrupted.
func (r *TrainerRuntime) RunWorker() error {
	if r.queue == nil {
		return errors.New("retrain worker needs queue.enabled and redis.enabled")
	}
	r.queue.RegisterJob(r.job)
	if err := r.queue.Start(); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}
	r.log.Info("retrain worker started", logger.Int("workers", r.cfg.Queue.Workers))

	r.wait()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := r.queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop queue: %w", err))
	}
	return errors.Join(append(errs, r.close())...)
}

// Close releases infrastructure clients.
func (r *TrainerRuntime) Close() error { return r.close() }

func (r *TrainerRuntime) wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	sig := <-sigCh
	r.log.Info("shutdown signal received", logger.String("signal", sig.String()))
}

func (r *TrainerRuntime) close() error {
	r.log.RemoveCollector()
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
