package events

import "context"

// NoOpPublisher discards events. Used when no queue is configured.
type NoOpPublisher struct{}

func NewNoOpPublisher() *NoOpPublisher {
	return &NoOpPublisher{}
}

func (p *NoOpPublisher) PublishAttempts(ctx context.Context, events []AttemptEvent) error {
	return nil
}

func (p *NoOpPublisher) Close() error {
	return nil
}
