package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"feedpush/internal/model"
	"feedpush/internal/push"
)

const codeOK = ""

// scriptedGateway answers each token from a per-token script of error codes.
// An empty code is a success; a token without a script always succeeds.
type scriptedGateway struct {
	mu      sync.Mutex
	scripts map[string][]string
	batches [][]string
	err     []error
	delay   time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (g *scriptedGateway) SendMulticast(_ context.Context, tokens []string, _ *push.Envelope) ([]push.Response, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		cur := g.maxInFlight.Load()
		if n <= cur || g.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.batches = append(g.batches, append([]string(nil), tokens...))
	if len(g.err) > 0 {
		err := g.err[0]
		g.err = g.err[1:]
		if err != nil {
			return nil, err
		}
	}

	out := make([]push.Response, 0, len(tokens))
	for _, tok := range tokens {
		code := codeOK
		if script := g.scripts[tok]; len(script) > 0 {
			code = script[0]
			g.scripts[tok] = script[1:]
		}
		if code == codeOK {
			out = append(out, push.Response{Success: true, MessageID: "msg-" + tok})
			continue
		}
		out = append(out, push.Response{Error: &push.Error{Code: code}})
	}
	return out, nil
}

func (g *scriptedGateway) calls() [][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.batches
}

type fakeRegistry struct {
	mu       sync.Mutex
	disabled [][]string
	err      error
}

func (f *fakeRegistry) DisableTargets(_ context.Context, tokens []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, append([]string(nil), tokens...))
	return int64(len(tokens)), f.err
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

var testNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func newTestDispatcher(gw Gateway, reg TargetDisabler, sleeps *sleepRecorder) *Dispatcher {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(gw, reg, DefaultConfig(), log,
		WithClock(func() time.Time { return testNow }),
		WithSleep(sleeps.sleep),
	)
}

func targets(n int) []model.Target {
	out := make([]model.Target, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Target{Token: fmt.Sprintf("tok-%04d", i), Platform: model.PlatformAndroid})
	}
	return out
}

var msg = Message{Title: "Live now", Body: "m2 started streaming", URL: "https://example.com/m2", Tag: "live-m2"}

func TestDispatchEmptyTargets(t *testing.T) {
	gw := &scriptedGateway{}
	d := newTestDispatcher(gw, &fakeRegistry{}, &sleepRecorder{})

	got := d.Dispatch(context.Background(), model.CategoryLive, "m2", nil, msg)
	want := model.DispatchResult{Category: model.CategoryLive, EntityID: "m2", InvalidTokens: []string{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if len(gw.calls()) != 0 {
		t.Errorf("gateway called %d times", len(gw.calls()))
	}
}

func TestDispatchRetryClassification(t *testing.T) {
	tests := []struct {
		name        string
		script      []string
		wantSent    int
		wantFailed  int
		wantInvalid []string
		wantDelays  []time.Duration
		wantCalls   int
	}{
		{
			name:       "transient twice then success",
			script:     []string{push.CodeUnavailable, push.CodeInternal, codeOK},
			wantSent:   1,
			wantDelays: []time.Duration{300 * time.Millisecond, 600 * time.Millisecond},
			wantCalls:  3,
		},
		{
			name:        "permanently invalid",
			script:      []string{push.CodeTokenNotRegistered},
			wantFailed:  1,
			wantInvalid: []string{"tok-0000"},
			wantCalls:   1,
		},
		{
			name:        "malformed token",
			script:      []string{push.CodeInvalidArgument},
			wantFailed:  1,
			wantInvalid: []string{"tok-0000"},
			wantCalls:   1,
		},
		{
			name:       "retries exhausted",
			script:     []string{push.CodeServerUnavailable, push.CodeServerUnavailable, push.CodeServerUnavailable, codeOK},
			wantFailed: 1,
			wantDelays: []time.Duration{300 * time.Millisecond, 600 * time.Millisecond},
			wantCalls:  3,
		},
		{
			name:       "other failure is not retried",
			script:     []string{push.CodeMessageRateExceeded},
			wantFailed: 1,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &scriptedGateway{scripts: map[string][]string{"tok-0000": tt.script}}
			reg := &fakeRegistry{}
			sleeps := &sleepRecorder{}
			d := newTestDispatcher(gw, reg, sleeps)

			got := d.Dispatch(context.Background(), model.CategoryVote, "v1", targets(1), msg)

			if got.Sent != tt.wantSent || got.Failed != tt.wantFailed {
				t.Errorf("sent/failed = %d/%d, want %d/%d", got.Sent, got.Failed, tt.wantSent, tt.wantFailed)
			}
			if diff := cmp.Diff(tt.wantInvalid, got.InvalidTokens, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("invalid tokens mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantDelays, sleeps.delays, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("backoff delays mismatch (-want +got):\n%s", diff)
			}
			if n := len(gw.calls()); n != tt.wantCalls {
				t.Errorf("gateway calls = %d, want %d", n, tt.wantCalls)
			}

			if len(tt.wantInvalid) > 0 {
				if diff := cmp.Diff([][]string{tt.wantInvalid}, reg.disabled); diff != "" {
					t.Errorf("registry cleanup mismatch (-want +got):\n%s", diff)
				}
			} else if len(reg.disabled) != 0 {
				t.Errorf("registry touched without invalid tokens: %v", reg.disabled)
			}
		})
	}
}

func TestDispatchRetriesOnlyRetryableSubset(t *testing.T) {
	gw := &scriptedGateway{scripts: map[string][]string{
		"tok-0001": {push.CodeInternal, codeOK},
		"tok-0002": {push.CodeInvalidToken},
	}}
	d := newTestDispatcher(gw, &fakeRegistry{}, &sleepRecorder{})

	got := d.Dispatch(context.Background(), model.CategoryLive, "m1", targets(3), msg)
	if got.Sent != 2 || got.Failed != 1 {
		t.Errorf("sent/failed = %d/%d, want 2/1", got.Sent, got.Failed)
	}

	want := [][]string{{"tok-0000", "tok-0001", "tok-0002"}, {"tok-0001"}}
	if diff := cmp.Diff(want, gw.calls()); diff != "" {
		t.Errorf("gateway batches mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchBatchError(t *testing.T) {
	tests := []struct {
		name       string
		errs       []error
		wantSent   int
		wantFailed int
		wantCalls  int
	}{
		{
			name:      "transport error then success",
			errs:      []error{errors.New("connection reset"), nil},
			wantSent:  2,
			wantCalls: 2,
		},
		{
			name:       "server errors exhaust retries",
			errs:       []error{&push.StatusError{StatusCode: 503}, &push.StatusError{StatusCode: 502}, &push.StatusError{StatusCode: 500}},
			wantFailed: 2,
			wantCalls:  3,
		},
		{
			name:       "rejected batch is not retried",
			errs:       []error{&push.StatusError{StatusCode: 401}},
			wantFailed: 2,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &scriptedGateway{err: tt.errs}
			d := newTestDispatcher(gw, &fakeRegistry{}, &sleepRecorder{})

			got := d.Dispatch(context.Background(), model.CategoryYouTube, "vid", targets(2), msg)
			if got.Sent != tt.wantSent || got.Failed != tt.wantFailed {
				t.Errorf("sent/failed = %d/%d, want %d/%d", got.Sent, got.Failed, tt.wantSent, tt.wantFailed)
			}
			if n := len(gw.calls()); n != tt.wantCalls {
				t.Errorf("gateway calls = %d, want %d", n, tt.wantCalls)
			}
		})
	}
}

func TestDispatchBatchingAndConcurrency(t *testing.T) {
	gw := &scriptedGateway{delay: 30 * time.Millisecond}
	d := newTestDispatcher(gw, &fakeRegistry{}, &sleepRecorder{})

	got := d.Dispatch(context.Background(), model.CategoryLive, "m1", targets(1200), msg)
	if got.Sent != 1200 || got.Failed != 0 {
		t.Errorf("sent/failed = %d/%d, want 1200/0", got.Sent, got.Failed)
	}

	calls := gw.calls()
	if len(calls) != 3 {
		t.Fatalf("batches = %d, want 3", len(calls))
	}
	total := 0
	for _, b := range calls {
		if len(b) > 500 {
			t.Errorf("batch size %d exceeds 500", len(b))
		}
		total += len(b)
	}
	if total != 1200 {
		t.Errorf("tokens sent = %d, want 1200", total)
	}
	if peak := gw.maxInFlight.Load(); peak > 3 {
		t.Errorf("max in-flight batches = %d, want <= 3", peak)
	}
}

func TestDispatchConcurrencyCap(t *testing.T) {
	gw := &scriptedGateway{delay: 20 * time.Millisecond}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultConfig()
	cfg.BatchSize = 10
	d := New(gw, &fakeRegistry{}, cfg, log, WithSleep((&sleepRecorder{}).sleep))

	got := d.Dispatch(context.Background(), model.CategoryLive, "m1", targets(200), msg)
	if got.Sent != 200 {
		t.Errorf("sent = %d, want 200", got.Sent)
	}
	if n := len(gw.calls()); n != 20 {
		t.Errorf("batches = %d, want 20", n)
	}
	if peak := gw.maxInFlight.Load(); peak > 3 {
		t.Errorf("max in-flight batches = %d, want <= 3", peak)
	}
}

func TestDispatchRegistryFailureDoesNotChangeResult(t *testing.T) {
	gw := &scriptedGateway{scripts: map[string][]string{"tok-0000": {push.CodeInvalidToken}}}
	reg := &fakeRegistry{err: errors.New("database is locked")}
	d := newTestDispatcher(gw, reg, &sleepRecorder{})

	got := d.Dispatch(context.Background(), model.CategoryLive, "m1", targets(2), msg)
	if got.Sent != 1 || got.Failed != 1 {
		t.Errorf("sent/failed = %d/%d, want 1/1", got.Sent, got.Failed)
	}
	if diff := cmp.Diff([]string{"tok-0000"}, got.InvalidTokens); diff != "" {
		t.Errorf("invalid tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchCancelledDuringBackoff(t *testing.T) {
	gw := &scriptedGateway{scripts: map[string][]string{"tok-0000": {push.CodeUnavailable, codeOK}}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := New(gw, &fakeRegistry{}, DefaultConfig(), log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := d.Dispatch(ctx, model.CategoryLive, "m1", targets(1), msg)
	if got.Failed != 1 || got.Sent != 0 {
		t.Errorf("sent/failed = %d/%d, want 0/1", got.Sent, got.Failed)
	}
}

func TestExponentialDelay(t *testing.T) {
	b := Exponential{Initial: 300 * time.Millisecond}
	want := []time.Duration{300 * time.Millisecond, 600 * time.Millisecond, 1200 * time.Millisecond}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %s, want %s", i+1, got, w)
		}
	}

	capped := Exponential{Initial: time.Second, Max: 3 * time.Second}
	if got := capped.Delay(5); got != 3*time.Second {
		t.Errorf("capped Delay(5) = %s, want 3s", got)
	}
}
