package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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
		FallbackURL:  "http://public.test",
	}, discard())
	require.NoError(t, err)
	require.Len(t, set.List(), 3)
	return set
}

func testGroup(set *backend.Set, cfg breaker.Config) *breaker.Group {
	names := make([]string, 0, len(set.List()))
	for _, d := range set.List() {
		names = append(names, d.Name)
	}
	return breaker.NewGroup(names, cfg)
}

// fakeInvoker scripts per-backend generate and probe outcomes and counts
// calls so tests can assert which backends were touched.
type fakeInvoker struct {
	mu        sync.Mutex
	genErr    map[string]error
	probeErr  map[string]error
	genCalls  map[string]int
	probeCall map[string]int
	text      string
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		genErr:    make(map[string]error),
		probeErr:  make(map[string]error),
		genCalls:  make(map[string]int),
		probeCall: make(map[string]int),
		text:      "Paris.",
	}
}

func (f *fakeInvoker) Generate(ctx context.Context, d backend.Descriptor, p backend.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genCalls[d.Name]++
	if err := f.genErr[d.Name]; err != nil {
		return "", err
	}
	return f.text, nil
}

func (f *fakeInvoker) Probe(ctx context.Context, d backend.Descriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCall[d.Name]++
	return f.probeErr[d.Name]
}

func (f *fakeInvoker) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genCalls[name]
}

func newTestRouter(t *testing.T, inv Invoker, bcfg breaker.Config) (*Router, *backend.Set, *breaker.Group) {
	t.Helper()
	set := testSet(t)
	group := testGroup(set, bcfg)
	return New(set, inv, group, Config{}, discard()), set, group
}

func TestRoutePrimaryHealthy(t *testing.T) {
	inv := newFakeInvoker()
	r, _, _ := newTestRouter(t, inv, breaker.Config{})

	ans, attempts, err := r.Route(context.Background(), backend.Prompt{Text: "capital of France?"})
	require.NoError(t, err)
	require.Equal(t, "Paris.", ans.Text)
	require.Equal(t, "self-hosted", ans.Backend)
	require.False(t, ans.Degraded)

	require.Len(t, attempts, 1)
	require.Equal(t, OutcomeSuccess, attempts[0].Outcome)

	// Lower-priority backends receive no traffic while the primary answers.
	require.Zero(t, inv.calls("cloud"))
	require.Zero(t, inv.calls("public-fallback"))
}

func TestRouteFailsOverToCloud(t *testing.T) {
	inv := newFakeInvoker()
	inv.genErr["self-hosted"] = errors.New("connection refused")
	r, _, _ := newTestRouter(t, inv, breaker.Config{})

	ans, attempts, err := r.Route(context.Background(), backend.Prompt{Text: "q?"})
	require.NoError(t, err)
	require.Equal(t, "cloud", ans.Backend)
	require.True(t, ans.Degraded)

	require.Len(t, attempts, 2)
	require.Equal(t, OutcomeFailure, attempts[0].Outcome)
	require.Equal(t, "self-hosted", attempts[0].Backend)
	require.Equal(t, OutcomeSuccess, attempts[1].Outcome)

	require.Zero(t, inv.calls("public-fallback"))
}

func TestRouteAllBackendsFail(t *testing.T) {
	inv := newFakeInvoker()
	inv.genErr["self-hosted"] = errors.New("down")
	inv.genErr["cloud"] = errors.New("down")
	inv.genErr["public-fallback"] = errors.New("down")
	r, _, _ := newTestRouter(t, inv, breaker.Config{})

	_, attempts, err := r.Route(context.Background(), backend.Prompt{Text: "q?"})

	var unavail *AllBackendsUnavailableError
	require.ErrorAs(t, err, &unavail)
	require.Len(t, attempts, 3)
	require.Len(t, unavail.Attempts, 3)
	for i, name := range []string{"self-hosted", "cloud", "public-fallback"} {
		require.Equal(t, name, attempts[i].Backend)
		require.Equal(t, OutcomeFailure, attempts[i].Outcome)
	}
}

func TestRouteErrorPayloadTriggersFailover(t *testing.T) {
	// A 200 response carrying an error payload surfaces as a generate error
	// and must not be served to the caller.
	inv := newFakeInvoker()
	inv.genErr["self-hosted"] = errors.New(`backend error: model "gemma:2b" not found`)
	r, _, _ := newTestRouter(t, inv, breaker.Config{})

	ans, _, err := r.Route(context.Background(), backend.Prompt{Text: "q?"})
	require.NoError(t, err)
	require.Equal(t, "cloud", ans.Backend)
}

func TestRouteSkipsOpenBreaker(t *testing.T) {
	inv := newFakeInvoker()
	r, _, group := newTestRouter(t, inv, breaker.Config{Threshold: 1, BaseBackoff: time.Minute})

	group.For("self-hosted").RecordFailure(time.Millisecond)
	require.Equal(t, breaker.StatusOpen, group.For("self-hosted").Snapshot().Status)

	ans, _, err := r.Route(context.Background(), backend.Prompt{Text: "q?"})
	require.NoError(t, err)
	require.Equal(t, "cloud", ans.Backend)
	require.Zero(t, inv.calls("self-hosted"))
}

func TestRouteHalfOpenTrialClosesBreaker(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	inv := newFakeInvoker()
	r, _, group := newTestRouter(t, inv, breaker.Config{Threshold: 1, BaseBackoff: 10 * time.Second, Clock: clock})

	group.For("self-hosted").RecordFailure(time.Millisecond)

	// Cooldown elapses: the next request grants the primary a trial call.
	now = now.Add(11 * time.Second)
	ans, _, err := r.Route(context.Background(), backend.Prompt{Text: "q?"})
	require.NoError(t, err)
	require.Equal(t, "self-hosted", ans.Backend)
	require.False(t, ans.Degraded)
	require.Equal(t, breaker.StatusClosed, group.For("self-hosted").Snapshot().Status)

	// The recovered primary keeps serving subsequent requests.
	ans, _, err = r.Route(context.Background(), backend.Prompt{Text: "q?"})
	require.NoError(t, err)
	require.Equal(t, "self-hosted", ans.Backend)
	require.Zero(t, inv.calls("cloud"))
}

func TestRouteSyncProbeSkipsUnreachableBackend(t *testing.T) {
	inv := newFakeInvoker()
	inv.probeErr["self-hosted"] = errors.New("no route to host")
	r, _, _ := newTestRouter(t, inv, breaker.Config{})

	ans, attempts, err := r.Route(context.Background(), backend.Prompt{Text: "q?"})
	require.NoError(t, err)
	require.Equal(t, "cloud", ans.Backend)

	// The failed probe is recorded but the full request timeout was never
	// spent on the dead backend.
	require.Zero(t, inv.calls("self-hosted"))
	require.Len(t, attempts, 2)
	require.Contains(t, attempts[0].Err, "probe:")
}

func TestRouteSkipsProbeForKnownHealthyBackend(t *testing.T) {
	inv := newFakeInvoker()
	r, _, group := newTestRouter(t, inv, breaker.Config{})

	group.For("self-hosted").RecordSuccess(time.Millisecond)

	_, _, err := r.Route(context.Background(), backend.Prompt{Text: "q?"})
	require.NoError(t, err)
	require.Zero(t, inv.probeCall["self-hosted"])
}

func TestRouteCallerDeadline(t *testing.T) {
	inv := newFakeInvoker()
	inv.genErr["self-hosted"] = context.DeadlineExceeded
	r, _, _ := newTestRouter(t, inv, breaker.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, attempts, err := r.Route(ctx, backend.Prompt{Text: "q?"})

	var de *DeadlineExceededError
	require.ErrorAs(t, err, &de)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, attempts, 1)
	require.Equal(t, OutcomeTimeout, attempts[0].Outcome)
}

func TestRouteDeadlineDuringSyncProbe(t *testing.T) {
	// An expired caller deadline makes every readiness probe fail at once.
	// That must surface as the caller's deadline, not as exhaustion, and
	// must not charge breakers for backends that were never reachable.
	inv := newFakeInvoker()
	inv.probeErr["self-hosted"] = context.DeadlineExceeded
	inv.probeErr["cloud"] = context.DeadlineExceeded
	inv.probeErr["public-fallback"] = context.DeadlineExceeded
	r, _, group := newTestRouter(t, inv, breaker.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, attempts, err := r.Route(ctx, backend.Prompt{Text: "q?"})

	var de *DeadlineExceededError
	require.ErrorAs(t, err, &de)
	require.Len(t, attempts, 1)
	require.Zero(t, inv.calls("self-hosted"))

	for _, name := range []string{"self-hosted", "cloud", "public-fallback"} {
		require.Zero(t, group.For(name).Snapshot().ConsecutiveFailures, name)
	}
}

func TestRouteCallerAbortDoesNotChargeBreaker(t *testing.T) {
	inv := newFakeInvoker()
	inv.genErr["self-hosted"] = context.DeadlineExceeded
	r, _, group := newTestRouter(t, inv, breaker.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, _, err := r.Route(ctx, backend.Prompt{Text: "q?"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The generate call failed because the caller gave up, not because the
	// backend misbehaved.
	require.Zero(t, group.For("self-hosted").Snapshot().ConsecutiveFailures)
}

func TestRouteAllOpenLastResort(t *testing.T) {
	inv := newFakeInvoker()
	r, _, group := newTestRouter(t, inv, breaker.Config{Threshold: 1, BaseBackoff: time.Hour})

	group.For("self-hosted").RecordFailure(50 * time.Millisecond)
	group.For("cloud").RecordFailure(10 * time.Millisecond)
	group.For("public-fallback").RecordFailure(90 * time.Millisecond)

	// Every breaker is open; the best-latency candidate gets one shot
	// rather than failing outright.
	ans, _, err := r.Route(context.Background(), backend.Prompt{Text: "q?"})
	require.NoError(t, err)
	require.Equal(t, "cloud", ans.Backend)
	require.True(t, ans.Degraded)
}

func TestRouteAllOpenLastResortAlsoFails(t *testing.T) {
	inv := newFakeInvoker()
	inv.genErr["cloud"] = errors.New("still down")
	r, _, group := newTestRouter(t, inv, breaker.Config{Threshold: 1, BaseBackoff: time.Hour})

	group.For("self-hosted").RecordFailure(50 * time.Millisecond)
	group.For("cloud").RecordFailure(10 * time.Millisecond)
	group.For("public-fallback").RecordFailure(90 * time.Millisecond)

	_, attempts, err := r.Route(context.Background(), backend.Prompt{Text: "q?"})

	var unavail *AllBackendsUnavailableError
	require.ErrorAs(t, err, &unavail)
	require.Len(t, attempts, 1)
	require.Equal(t, "cloud", attempts[0].Backend)
}

func TestRouteRetriesTransportErrorInPlace(t *testing.T) {
	// A connection-level failure gets one immediate retry against the same
	// backend before failover.
	inv := newFakeInvoker()
	inv.genErr["self-hosted"] = &net.OpError{Op: "dial", Err: errors.New("connection reset")}
	r, _, _ := newTestRouter(t, inv, breaker.Config{})

	ans, attempts, err := r.Route(context.Background(), backend.Prompt{Text: "q?"})
	require.NoError(t, err)
	require.Equal(t, "cloud", ans.Backend)
	require.Equal(t, 2, inv.calls("self-hosted"))
	require.Len(t, attempts, 3)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"deadline", context.DeadlineExceeded, OutcomeTimeout},
		{"wrapped deadline", &net.OpError{Op: "read", Err: context.DeadlineExceeded}, OutcomeTimeout},
		{"plain error", errors.New("boom"), OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, classify(tt.err))
		})
	}
}
