package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Use advisory lock to prevent concurrent migrations from multiple replicas.
	const lockID = 961847302 // arbitrary number for this application's migration lock

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	if !acquired {
		// Another replica is running migrations; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}

	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS qa_history (
			id UUID PRIMARY KEY,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			backend TEXT NOT NULL,
			degraded BOOLEAN NOT NULL DEFAULT false,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			tried TEXT[],
			created_at TIMESTAMPTZ DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS qa_history_created_at_idx ON qa_history (created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) SaveEntry(ctx context.Context, e Entry) (Entry, error) {
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qa_history(id, question, answer, backend, degraded, latency_ms, tried, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.Question, e.Answer, e.Backend, e.Degraded, e.LatencyMS, pq.Array(e.Tried), e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, backend, degraded, latency_ms, tried, created_at
		FROM qa_history
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var tried []string
		if err := rows.Scan(&e.ID, &e.Question, &e.Answer, &e.Backend, &e.Degraded, &e.LatencyMS, pq.Array(&tried), &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Tried = tried
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
