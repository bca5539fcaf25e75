package queue

import (
	"context"
	"encoding/json"
)

// Job handles one message type.
type Job interface {
	// Type is the message type routed to this job.
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Publisher enqueues messages for some Job to pick up.
type Publisher interface {
	Enqueue(ctx context.Context, msgType string, payload any) (string, error)
}
