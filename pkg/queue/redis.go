package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"StockRisk/pkg/logger"
)

// RedisQueue is a list-backed job queue. Failed messages wait in a sorted set
// keyed by retry time and land in a dead-letter list after RetryLimit.
type RedisQueue struct {
	log     *logger.Logger
	cfg     *Config
	client  *redis.Client
	jobs    map[string]Job
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisQueue creates a queue on client. It publishes immediately; call
// Start to consume.
func NewRedisQueue(lgr *logger.Logger, cfg *Config, client *redis.Client) *RedisQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisQueue{
		log:    lgr,
		cfg:    cfg.withDefaults(),
		client: client,
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob registers a job for its message type. It must be called
// before Start.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.log.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.log.Info("job registered", logger.String("type", job.Type()))
}

// Start starts the consumer workers and the retry mover.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue: already running")
	}
	if len(r.jobs) == 0 {
		return errors.New("queue: no jobs registered")
	}
	r.running = true

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryLoop()

	r.log.Info("redis queue started",
		logger.Int("workers", r.cfg.Workers),
		logger.String("prefix", r.cfg.KeyPrefix))
	return nil
}

// Stop cancels workers and waits for the in-flight job, bounded by ctx.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue: stop: %w", ctx.Err())
	case <-done:
		r.log.Info("redis queue stopped")
		return nil
	}
}

// Enqueue pushes a new message and returns its id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}
	msg := Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("queue: marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.key("messages"), data).Err(); err != nil {
		return "", fmt.Errorf("queue: lpush: %w", err)
	}
	return msg.ID, nil
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		res, err := r.client.BRPop(r.ctx, r.cfg.PollTimeout, r.key("messages")).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			r.log.Error("queue brpop", logger.Int("worker", id), logger.Error(err))
			select {
			case <-time.After(time.Second):
			case <-r.ctx.Done():
			}
			continue
		}
		if len(res) < 2 {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			r.log.Error("queue: malformed message", logger.Error(err))
			continue
		}
		r.process(msg)
	}
}

func (r *RedisQueue) process(msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.log.Error("queue: no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.push(r.key("dlq"), msg)
		return
	}

	start := time.Now()
	err := job.Handle(r.ctx, msg.Payload)
	if err == nil {
		r.log.Info("job done",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID),
			logger.Duration("elapsed_ms", time.Since(start)))
		return
	}
	if errors.Is(err, context.Canceled) {
		// requeue so the next consumer picks it up
		r.push(r.key("messages"), msg)
		return
	}

	r.log.Error("job failed",
		logger.String("type", msg.Type),
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts+1),
		logger.Error(err))

	if msg.Attempts >= r.cfg.RetryLimit {
		r.push(r.key("dlq"), msg)
		return
	}
	msg.Attempts++
	data, mErr := json.Marshal(msg)
	if mErr != nil {
		return
	}
	at := time.Now().Add(r.cfg.RetryDelay)
	if zErr := r.client.ZAdd(context.Background(), r.key("retry"), redis.Z{
		Score:  float64(at.Unix()),
		Member: data,
	}).Err(); zErr != nil {
		r.log.Error("queue: schedule retry", logger.Error(zErr))
	}
}

func (r *RedisQueue) push(key string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := r.client.LPush(context.Background(), key, data).Err(); err != nil {
		r.log.Error("queue: lpush", logger.String("key", key), logger.Error(err))
	}
}

func (r *RedisQueue) retryLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.moveDueRetries()
		}
	}
}

func (r *RedisQueue) moveDueRetries() {
	due, err := r.client.ZRangeByScore(r.ctx, r.key("retry"), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.Error("queue: fetch retries", logger.Error(err))
		}
		return
	}

	for _, member := range due {
		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.key("retry"), member)
		pipe.LPush(r.ctx, r.key("messages"), member)
		if _, err := pipe.Exec(r.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.log.Error("queue: requeue retry", logger.Error(err))
		}
	}
}

func (r *RedisQueue) key(suffix string) string {
	return r.cfg.KeyPrefix + ":" + suffix
}
