package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config contains the configuration for the queue.
type Config struct {
	Workers     int           // consumer goroutines
	RetryLimit  int           // attempts after the first failure
	RetryDelay  time.Duration // delay before a failed message is requeued
	PollTimeout time.Duration // BRPOP block time
	KeyPrefix   string
}

func (c *Config) withDefaults() *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 10 * time.Second
	}
	if out.PollTimeout <= 0 {
		out.PollTimeout = time.Second
	}
	if out.KeyPrefix == "" {
		out.KeyPrefix = "stockrisk:queue"
	}
	return &out
}

// Message is the envelope stored in Redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals a job payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var out T
	if len(payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("queue: decode payload: %w", err)
	}
	return out, nil
}
