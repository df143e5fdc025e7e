// Package events publishes per-request attempt outcomes for downstream
// consumers (dashboards, alerting). Delivery is best effort; a publish
// failure never affects the answer path.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AttemptEvent is one backend attempt from one request.
type AttemptEvent struct {
	ID        uuid.UUID `json:"id"`
	RequestID string    `json:"request_id,omitempty"`
	Backend   string    `json:"backend"`
	Outcome   string    `json:"outcome"`
	LatencyMS int64     `json:"latency_ms"`
	Err       string    `json:"err,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher exposes a minimal contract to emit attempt events.
type Publisher interface {
	PublishAttempts(ctx context.Context, events []AttemptEvent) error
	Close() error
}
