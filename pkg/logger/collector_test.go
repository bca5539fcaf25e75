package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) snapshot() [][]AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]AggregatedLogEntry(nil), p.batches...)
}

func TestCollectorAggregatesDuplicates(t *testing.T) {
	pub := &capturePublisher{}
	lgr := NewNop()
	lgr.AddCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 100,
		Topic:          "stockrisk.logs",
		Publisher:      pub,
	})

	for i := 0; i < 3; i++ {
		lgr.Error("model load failed", String("version", "20250101T000000Z"), Error(errors.New("boom")))
	}
	lgr.Error("other failure")
	lgr.Info("not collected")

	// Close performs the final flush synchronously
	lgr.RemoveCollector()

	batches := pub.snapshot()
	require.Len(t, batches, 1)
	assert.Equal(t, "stockrisk.logs", pub.topics[0])

	counts := map[string]int{}
	for _, e := range batches[0] {
		counts[e.Message] = e.Count
	}
	assert.Equal(t, map[string]int{"model load failed": 3, "other failure": 1}, counts)
}

func TestCollectorFlushesOnThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{
		TimeInterval:   time.Hour,
		CountThreshold: 2,
		Topic:          "t",
		Publisher:      pub,
	})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")

	assert.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
}
