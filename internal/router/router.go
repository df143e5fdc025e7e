// Package router selects a backend per request, enforces failover order,
// and turns per-backend failures into a single outcome for the caller.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"qabot/internal/backend"
	"qabot/internal/breaker"
)

// Invoker is the calling capability the router needs from the backend
// client. Probe is used synchronously when a backend's state is unknown.
type Invoker interface {
	Generate(ctx context.Context, d backend.Descriptor, p backend.Prompt) (string, error)
	Probe(ctx context.Context, d backend.Descriptor) error
}

// Outcome classifies one attempt against one backend.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// AttemptRecord is the ephemeral per-call outcome, kept for diagnostics and
// observability and discarded after use.
type AttemptRecord struct {
	Backend string
	Outcome Outcome
	Latency time.Duration
	Err     string
}

// AllBackendsUnavailableError reports that every candidate was exhausted.
type AllBackendsUnavailableError struct {
	Attempts []AttemptRecord
}

func (e *AllBackendsUnavailableError) Error() string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Backend)
	}
	return fmt.Sprintf("all backends unavailable after %d attempts (%s)", len(e.Attempts), strings.Join(names, ", "))
}

// DeadlineExceededError reports that the caller's deadline was reached
// mid-failover, before all candidates were exhausted.
type DeadlineExceededError struct {
	Attempts []AttemptRecord
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("caller deadline exceeded after %d attempts", len(e.Attempts))
}

func (e *DeadlineExceededError) Unwrap() error {
	return context.DeadlineExceeded
}

// Config tunes the router.
type Config struct {
	// ProbeTimeout bounds the synchronous probe issued for backends whose
	// health is still unknown. Default 5s.
	ProbeTimeout time.Duration
}

// Router walks the priority-ordered candidate list for each prompt.
type Router struct {
	set      *backend.Set
	invoker  Invoker
	breakers *breaker.Group
	cfg      Config
	log      *slog.Logger
}

// New builds a router over the descriptor set and its breaker group.
func New(set *backend.Set, invoker Invoker, breakers *breaker.Group, cfg Config, log *slog.Logger) *Router {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Router{set: set, invoker: invoker, breakers: breakers, cfg: cfg, log: log}
}

// Route issues the prompt against candidates in descending trust order and
// returns the first success. All attempt records are returned for
// observability, including on success.
func (r *Router) Route(ctx context.Context, p backend.Prompt) (backend.Answer, []AttemptRecord, error) {
	var attempts []AttemptRecord
	primary := r.set.Primary().Name
	tried := 0

	for _, d := range r.set.List() {
		br := r.breakers.For(d.Name)
		if !br.Allow() {
			continue
		}
		tried++

		if br.Snapshot().Health == breaker.HealthUnknown {
			if rec, ok := r.syncProbe(ctx, d); !ok {
				attempts = append(attempts, rec)
				if deadlineHit(ctx) {
					r.log.Warn("caller deadline reached mid-failover", "attempts", len(attempts))
					return backend.Answer{}, attempts, &DeadlineExceededError{Attempts: attempts}
				}
				if ctx.Err() != nil {
					return backend.Answer{}, attempts, ctx.Err()
				}
				continue
			}
		}

		ans, recs, err := r.attempt(ctx, d, p)
		attempts = append(attempts, recs...)
		if err == nil {
			ans.Degraded = d.Name != primary
			return ans, attempts, nil
		}
		if deadlineHit(ctx) {
			r.log.Warn("caller deadline reached mid-failover", "attempts", len(attempts))
			return backend.Answer{}, attempts, &DeadlineExceededError{Attempts: attempts}
		}
		if ctx.Err() != nil {
			return backend.Answer{}, attempts, ctx.Err()
		}
	}

	if tried == 0 {
		// Every breaker is open: degrade rather than fail by trying the
		// best-latency open candidate as a last resort.
		if d, ok := r.lastResort(); ok {
			r.log.Warn("all breakers open, trying last-resort backend", "backend", d.Name)
			ans, recs, err := r.attempt(ctx, d, p)
			attempts = append(attempts, recs...)
			if err == nil {
				ans.Degraded = d.Name != primary
				return ans, attempts, nil
			}
			if deadlineHit(ctx) {
				return backend.Answer{}, attempts, &DeadlineExceededError{Attempts: attempts}
			}
		}
	}

	return backend.Answer{}, attempts, &AllBackendsUnavailableError{Attempts: attempts}
}

// attempt calls one candidate, feeding the breaker. A transport-level
// failure gets one immediate in-place retry; timeouts, HTTP errors, and
// malformed payloads move on to the next candidate at once.
func (r *Router) attempt(ctx context.Context, d backend.Descriptor, p backend.Prompt) (backend.Answer, []AttemptRecord, error) {
	br := r.breakers.For(d.Name)
	var recs []AttemptRecord
	var lastErr error

	for try := 0; try < 2; try++ {
		start := time.Now()
		text, err := r.invoker.Generate(ctx, d, p)
		latency := time.Since(start)

		if err == nil {
			br.RecordSuccess(latency)
			recs = append(recs, AttemptRecord{Backend: d.Name, Outcome: OutcomeSuccess, Latency: latency})
			return backend.Answer{Text: text, Backend: d.Name, Latency: latency}, recs, nil
		}

		outcome := classify(err)
		// A live caller context means the failure belongs to the backend;
		// an expired or canceled one means the caller aborted, and the
		// backend's breaker must not be charged for it.
		if ctx.Err() == nil {
			br.RecordFailure(latency)
		}
		recs = append(recs, AttemptRecord{Backend: d.Name, Outcome: outcome, Latency: latency, Err: err.Error()})
		r.log.Warn("backend attempt failed", "backend", d.Name, "outcome", outcome, "latency_ms", latency.Milliseconds(), "err", err)
		lastErr = err

		if deadlineHit(ctx) || ctx.Err() != nil || !retriableInPlace(err) {
			break
		}
	}
	return backend.Answer{}, recs, lastErr
}

// syncProbe warms up an unknown backend before spending its full request
// timeout on it. An unhealthy probe skips the candidate and is recorded as
// a failed attempt.
func (r *Router) syncProbe(ctx context.Context, d backend.Descriptor) (AttemptRecord, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := r.invoker.Probe(probeCtx, d)
	latency := time.Since(start)

	br := r.breakers.For(d.Name)
	if err != nil {
		if ctx.Err() == nil {
			br.RecordFailure(latency)
		}
		r.log.Warn("sync probe failed, skipping backend", "backend", d.Name, "err", err)
		return AttemptRecord{
			Backend: d.Name,
			Outcome: classify(err),
			Latency: latency,
			Err:     "probe: " + err.Error(),
		}, false
	}
	br.RecordSuccess(latency)
	return AttemptRecord{}, true
}

// lastResort picks the open candidate with the lowest recorded latency;
// candidates with no recorded latency sort last.
func (r *Router) lastResort() (backend.Descriptor, bool) {
	var best backend.Descriptor
	var bestLatency time.Duration
	found := false
	for _, d := range r.set.List() {
		st := r.breakers.For(d.Name).Snapshot()
		latency := st.Latency
		if latency == 0 {
			latency = time.Duration(1<<63 - 1)
		}
		if !found || latency < bestLatency {
			best, bestLatency, found = d, latency, true
		}
	}
	return best, found
}

func deadlineHit(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// classify maps an attempt error to an outcome. Timeouts cover both the
// per-backend timeout and net-level timeout errors.
func classify(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeFailure
}

// retriableInPlace reports whether a failure is worth one immediate retry
// against the same backend. Only fast transport-level connection errors
// qualify; timeouts and HTTP/payload failures move on to the next
// candidate to bound total request latency.
func retriableInPlace(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *backend.StatusError
	if errors.As(err, &se) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return !opErr.Timeout()
	}
	return false
}
