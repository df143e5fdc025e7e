// Package gateway is the facade the HTTP layer talks to: it checks the
// answer cache, routes cache misses through the backend router, and fans
// served answers out to history and the events sink.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"qabot/internal/answer"
	"qabot/internal/backend"
	"qabot/internal/breaker"
	"qabot/internal/cache"
	"qabot/internal/events"
	"qabot/internal/history"
	"qabot/internal/router"
)

// AskRequest is a validated question ready for routing.
type AskRequest struct {
	Question    string
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Result is the shaped answer returned to the HTTP layer.
type Result struct {
	Heading   string `json:"heading"`
	Body      string `json:"body"`
	Backend   string `json:"backend"`
	Degraded  bool   `json:"degraded"`
	Cached    bool   `json:"cached"`
	LatencyMS int64  `json:"latency_ms"`
}

// BackendStatus is one backend's line in the health report.
type BackendStatus struct {
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	LastCheckedAt time.Time `json:"lastCheckedAt"`
}

// HealthReport aggregates breaker state into one service-level signal.
type HealthReport struct {
	OllamaStatus string          `json:"ollama_status"`
	ModelName    string          `json:"model_name"`
	Backends     []BackendStatus `json:"backends"`
}

// Service is the contract the HTTP handlers depend on.
type Service interface {
	Ask(ctx context.Context, req AskRequest) (Result, error)
	HealthSnapshot() HealthReport
	History(ctx context.Context, limit int) ([]history.Entry, error)
}

// Asker is the routing capability the gateway needs.
type Asker interface {
	Route(ctx context.Context, p backend.Prompt) (backend.Answer, []router.AttemptRecord, error)
}

type Gateway struct {
	set      *backend.Set
	router   Asker
	breakers *breaker.Group
	cache    cache.Cache
	store    history.Store
	events   events.Publisher
	ttl      time.Duration
	log      *slog.Logger
}

// New wires the gateway facade. TTL <= 0 disables answer caching writes.
func New(set *backend.Set, r Asker, breakers *breaker.Group, c cache.Cache, store history.Store, pub events.Publisher, ttl time.Duration, log *slog.Logger) *Gateway {
	return &Gateway{
		set:      set,
		router:   r,
		breakers: breakers,
		cache:    c,
		store:    store,
		events:   pub,
		ttl:      ttl,
		log:      log,
	}
}

// Ask serves a question from cache or by routing it to a backend. Cache,
// history, and event failures are logged and never surfaced to the caller.
func (g *Gateway) Ask(ctx context.Context, req AskRequest) (Result, error) {
	start := time.Now()
	model := req.Model
	if model == "" {
		model = g.set.Model()
	}

	key := cache.Key(req.Question, model)
	if hit, err := g.cache.GetAnswer(ctx, key); err != nil {
		g.log.Warn("cache read failed", "err", err)
	} else if hit != nil {
		g.log.Info("cache hit", "backend", hit.Backend)
		return Result{
			Heading:   answer.Heading(req.Question),
			Body:      hit.Text,
			Backend:   hit.Backend,
			Degraded:  hit.Degraded,
			Cached:    true,
			LatencyMS: time.Since(start).Milliseconds(),
		}, nil
	}

	ans, attempts, err := g.router.Route(ctx, backend.Prompt{
		Text:        req.Question,
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	g.publishAttempts(ctx, attempts)
	if err != nil {
		return Result{}, err
	}

	body := answer.StripMarkdown(ans.Text)
	res := Result{
		Heading:   answer.Heading(req.Question),
		Body:      body,
		Backend:   ans.Backend,
		Degraded:  ans.Degraded,
		LatencyMS: time.Since(start).Milliseconds(),
	}

	if g.ttl > 0 {
		if err := g.cache.SetAnswer(ctx, key, &cache.CachedAnswer{
			Text:     body,
			Backend:  ans.Backend,
			Degraded: ans.Degraded,
		}, g.ttl); err != nil {
			g.log.Warn("failed to cache answer", "err", err)
		}
	}

	if _, err := g.store.SaveEntry(ctx, history.Entry{
		Question:  req.Question,
		Answer:    body,
		Backend:   ans.Backend,
		Degraded:  ans.Degraded,
		LatencyMS: res.LatencyMS,
		Tried:     triedBackends(attempts),
	}); err != nil {
		g.log.Warn("failed to save history entry", "err", err)
	}

	return res, nil
}

// HealthSnapshot reports aggregate and per-backend state. Read-only and
// idempotent: repeated calls with no intervening events return identical
// reports.
func (g *Gateway) HealthSnapshot() HealthReport {
	states := g.breakers.Snapshot()

	backends := make([]BackendStatus, 0, len(states))
	allOpen := len(states) > 0
	for _, st := range states {
		backends = append(backends, BackendStatus{
			Name:          st.Name,
			Status:        string(st.Status),
			LastCheckedAt: st.LastChecked,
		})
		if st.Status != breaker.StatusOpen {
			allOpen = false
		}
	}

	status := "healthy"
	switch {
	case allOpen:
		status = "unhealthy"
	case len(states) > 0 && states[0].Status != breaker.StatusClosed:
		status = "degraded"
	}

	return HealthReport{
		OllamaStatus: status,
		ModelName:    g.set.Model(),
		Backends:     backends,
	}
}

// History lists recent answered questions, newest first.
func (g *Gateway) History(ctx context.Context, limit int) ([]history.Entry, error) {
	return g.store.ListEntries(ctx, limit)
}

func (g *Gateway) publishAttempts(ctx context.Context, attempts []router.AttemptRecord) {
	if len(attempts) == 0 {
		return
	}
	reqID := middleware.GetReqID(ctx)
	now := time.Now()
	evs := make([]events.AttemptEvent, 0, len(attempts))
	for _, a := range attempts {
		evs = append(evs, events.AttemptEvent{
			ID:        uuid.New(),
			RequestID: reqID,
			Backend:   a.Backend,
			Outcome:   string(a.Outcome),
			LatencyMS: a.Latency.Milliseconds(),
			Err:       a.Err,
			At:        now,
		})
	}
	if err := g.events.PublishAttempts(ctx, evs); err != nil {
		g.log.Warn("failed to publish attempt events", "err", err)
	}
}

func triedBackends(attempts []router.AttemptRecord) []string {
	seen := make(map[string]bool, len(attempts))
	var tried []string
	for _, a := range attempts {
		if !seen[a.Backend] {
			seen[a.Backend] = true
			tried = append(tried, a.Backend)
		}
	}
	return tried
}
