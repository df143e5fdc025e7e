package prober

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"qabot/internal/backend"
	"qabot/internal/breaker"
	"qabot/internal/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSet(t *testing.T) *backend.Set {
	t.Helper()
	set, err := backend.Load(config.Config{
		ModelName:    "m",
		OllamaURL:    "http://self-hosted.test",
		CloudURL:     "http://cloud.test",
		CloudDialect: "cloud",
	}, discard())
	if err != nil {
		t.Fatalf("backend.Load: %v", err)
	}
	return set
}

func testGroup(set *backend.Set) *breaker.Group {
	names := make([]string, 0, len(set.List()))
	for _, d := range set.List() {
		names = append(names, d.Name)
	}
	return breaker.NewGroup(names, breaker.Config{Threshold: 1, BaseBackoff: time.Second})
}

// fakePinger scripts per-backend probe outcomes.
type fakePinger struct {
	mu    sync.Mutex
	fail  map[string]error
	seen  map[string]int
	block time.Duration
}

func (f *fakePinger) Probe(ctx context.Context, d backend.Descriptor) error {
	f.mu.Lock()
	if f.seen == nil {
		f.seen = make(map[string]int)
	}
	f.seen[d.Name]++
	err := f.fail[d.Name]
	block := f.block
	f.mu.Unlock()

	if block > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(block):
		}
	}
	return err
}

func (f *fakePinger) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[name]
}

func TestProbeFeedsBreaker(t *testing.T) {
	set := testSet(t)
	group := testGroup(set)
	pinger := &fakePinger{fail: map[string]error{"cloud": errors.New("connection refused")}}
	p := New(set, pinger, group, time.Minute, time.Second, discard())

	p.ProbeAll(context.Background())

	if got := group.For("self-hosted").Snapshot(); got.Health != breaker.HealthHealthy {
		t.Errorf("self-hosted health = %s, want healthy", got.Health)
	}
	if got := group.For("cloud").Snapshot(); got.Health != breaker.HealthUnhealthy {
		t.Errorf("cloud health = %s, want unhealthy", got.Health)
	}
}

func TestProbeNeverRaises(t *testing.T) {
	set := testSet(t)
	group := testGroup(set)
	pinger := &fakePinger{fail: map[string]error{
		"self-hosted": errors.New("dns failure"),
		"cloud":       errors.New("timeout"),
	}}
	p := New(set, pinger, group, time.Minute, time.Second, discard())

	for _, d := range set.List() {
		res := p.Probe(context.Background(), d)
		if res.Healthy {
			t.Errorf("%s reported healthy despite failure", d.Name)
		}
	}
}

func TestProbeTimeoutCountsAsUnhealthy(t *testing.T) {
	set := testSet(t)
	group := testGroup(set)
	pinger := &fakePinger{block: time.Second}
	p := New(set, pinger, group, time.Minute, 20*time.Millisecond, discard())

	res := p.Probe(context.Background(), set.Primary())
	if res.Healthy {
		t.Error("timed-out probe must count as unhealthy")
	}
	if got := group.For("self-hosted").Snapshot(); got.Health != breaker.HealthUnhealthy {
		t.Errorf("health = %s, want unhealthy", got.Health)
	}
}

func TestRunProbesOnStartAndStopsOnCancel(t *testing.T) {
	set := testSet(t)
	group := testGroup(set)
	pinger := &fakePinger{}
	p := New(set, pinger, group, time.Hour, time.Second, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for pinger.calls("self-hosted") == 0 {
		select {
		case <-deadline:
			t.Fatal("initial probe never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
