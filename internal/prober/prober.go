// Package prober maintains a liveness signal for every backend without
// blocking request traffic.
package prober

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"qabot/internal/backend"
	"qabot/internal/breaker"
)

// Pinger is the readiness-call capability the prober needs from the
// backend client.
type Pinger interface {
	Probe(ctx context.Context, d backend.Descriptor) error
}

// Result is the outcome of one probe.
type Result struct {
	Healthy bool
	Latency time.Duration
}

// Prober periodically checks every backend and feeds the results into the
// corresponding circuit breakers. It never raises to its caller.
type Prober struct {
	set      *backend.Set
	pinger   Pinger
	breakers *breaker.Group
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

// New builds a prober. Zero interval/timeout fall back to 30s/5s.
func New(set *backend.Set, pinger Pinger, breakers *breaker.Group, interval, timeout time.Duration, log *slog.Logger) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		set:      set,
		pinger:   pinger,
		breakers: breakers,
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Run probes all backends immediately and then on a fixed interval until
// the context is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.ProbeAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll checks every backend concurrently so one slow backend cannot
// stall checks of another.
func (p *Prober) ProbeAll(ctx context.Context) {
	g := new(errgroup.Group)
	for _, d := range p.set.List() {
		d := d
		g.Go(func() error {
			p.Probe(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

// Probe checks a single backend and pushes the result into its breaker.
func (p *Prober) Probe(ctx context.Context, d backend.Descriptor) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.pinger.Probe(ctx, d)
	latency := time.Since(start)

	br := p.breakers.For(d.Name)
	if err != nil {
		br.RecordFailure(latency)
		p.log.Warn("backend probe failed", "backend", d.Name, "latency_ms", latency.Milliseconds(), "err", err)
		return Result{Healthy: false, Latency: latency}
	}
	br.RecordSuccess(latency)
	p.log.Debug("backend probe ok", "backend", d.Name, "latency_ms", latency.Milliseconds())
	return Result{Healthy: true, Latency: latency}
}
