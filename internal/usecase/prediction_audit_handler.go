package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"StockRisk/internal/domain/models"
	domrepo "StockRisk/internal/domain/repository"
	"StockRisk/pkg/logger"
)

// PredictionAuditHandler consumes audit records from Kafka and writes them
// to the audit store in batches.
type PredictionAuditHandler struct {
	topic      string
	store      domrepo.AuditStore
	batchSize  int
	flushEvery time.Duration
	log        *logger.Logger

	mu  sync.Mutex
	buf []*models.PredictionRecord

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func NewPredictionAuditHandler(topic string, store domrepo.AuditStore, batchSize int, flushEvery time.Duration, lgr *logger.Logger) *PredictionAuditHandler {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushEvery <= 0 {
		flushEvery = 2 * time.Second
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &PredictionAuditHandler{
		topic:      topic,
		store:      store,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		log:        lgr,
		buf:        make([]*models.PredictionRecord, 0, batchSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (h *PredictionAuditHandler) Topic() string { return h.topic }

// Handle buffers one record. A full buffer is flushed before returning, so
// a store failure surfaces to the consumer's retry and DLQ path. The record
// is not kept after such a failure since the consumer delivers it again.
func (h *PredictionAuditHandler) Handle(ctx context.Context, _, value []byte) error {
	var rec models.PredictionRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return fmt.Errorf("decode audit record: %w", err)
	}

	h.mu.Lock()
	h.buf = append(h.buf, &rec)
	full := len(h.buf) >= h.batchSize
	h.mu.Unlock()

	if full {
		return h.flush(ctx, &rec)
	}
	return nil
}

// Flush writes out whatever is buffered. Records stay buffered on failure.
func (h *PredictionAuditHandler) Flush(ctx context.Context) error {
	return h.flush(ctx, nil)
}

// flush stores the buffer. On failure everything except retry goes back
// into the buffer.
func (h *PredictionAuditHandler) flush(ctx context.Context, retry *models.PredictionRecord) error {
	h.mu.Lock()
	if len(h.buf) == 0 {
		h.mu.Unlock()
		return nil
	}
	batch := h.buf
	h.buf = make([]*models.PredictionRecord, 0, h.batchSize)
	h.mu.Unlock()

	if err := h.store.StoreBatch(ctx, batch); err != nil {
		kept := make([]*models.PredictionRecord, 0, len(batch)+len(h.buf))
		for _, r := range batch {
			if r != retry {
				kept = append(kept, r)
			}
		}
		h.mu.Lock()
		h.buf = append(kept, h.buf...)
		h.mu.Unlock()
		return err
	}
	h.log.Debug("audit batch stored", logger.Int("records", len(batch)))
	return nil
}

// Start flushes periodically until Stop.
func (h *PredictionAuditHandler) Start() {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(h.flushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := h.Flush(context.Background()); err != nil {
					h.log.Warn("audit flush failed", logger.Error(err))
				}
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop ends the flush loop and writes the remainder.
func (h *PredictionAuditHandler) Stop(ctx context.Context) error {
	if h.started.Load() {
		close(h.stop)
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return h.Flush(ctx)
}
