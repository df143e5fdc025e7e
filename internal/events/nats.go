package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const attemptSubject = "gateway.attempts"

// NewNATS constructs a thin NATS-based publisher.
func NewNATS(log *slog.Logger, nc *nats.Conn) Publisher {
	return &natsPublisher{log: log, nc: nc}
}

type natsPublisher struct {
	log *slog.Logger
	nc  *nats.Conn
}

func (p *natsPublisher) PublishAttempts(_ context.Context, events []AttemptEvent) error {
	for _, ev := range events {
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := p.nc.Publish(attemptSubject, body); err != nil {
			return err
		}
	}
	return nil
}

func (p *natsPublisher) Close() error {
	p.nc.Close()
	return nil
}
