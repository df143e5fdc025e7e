// Package history persists answered questions for the /api/history view.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one answered question.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Backend   string    `json:"backend"`
	Degraded  bool      `json:"degraded"`
	LatencyMS int64     `json:"latency_ms"`
	Tried     []string  `json:"tried,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the persistence contract; an external DB implementation can replace this.
type Store interface {
	// SaveEntry records an answered question. The returned entry carries
	// the generated ID and timestamp.
	SaveEntry(ctx context.Context, e Entry) (Entry, error)

	// ListEntries returns recent entries, newest first.
	ListEntries(ctx context.Context, limit int) ([]Entry, error)

	// Close closes the store connection.
	Close() error
}
