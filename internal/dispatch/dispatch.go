// Package dispatch delivers one notification to a set of push targets through the
// push gateway: batching, bounded concurrency, per-token retry classification and
// registry cleanup of invalid tokens.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"feedpush/internal/metrics"
	"feedpush/internal/model"
	"feedpush/internal/push"
)

// Gateway sends one envelope to many tokens.
type Gateway interface {
	SendMulticast(ctx context.Context, tokens []string, env *push.Envelope) ([]push.Response, error)
}

// TargetDisabler deactivates tokens in the registry.
type TargetDisabler interface {
	DisableTargets(ctx context.Context, tokens []string) (int64, error)
}

// Config holds delivery limits.
type Config struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	Backoff     Exponential
	TTL         time.Duration
}

// DefaultConfig returns the production delivery limits.
func DefaultConfig() Config {
	return Config{
		BatchSize:   500,
		Concurrency: 3,
		MaxAttempts: 3,
		Backoff:     Exponential{Initial: 300 * time.Millisecond},
		TTL:         24 * time.Hour,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source used for envelope stamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithSleep overrides how backoff delays are waited out.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// WithMetrics records delivery counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher delivers messages to push targets.
type Dispatcher struct {
	gw       Gateway
	registry TargetDisabler
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher. Zero values in cfg fall back to DefaultConfig.
func New(gw Gateway, registry TargetDisabler, cfg Config, log *slog.Logger, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if log == nil {
		log = slog.Default()
	}

	d := &Dispatcher{
		gw:       gw,
		registry: registry,
		cfg:      cfg,
		log:      log,
		tracer:   otel.Tracer("feedpush/dispatch"),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type batchOutcome struct {
	sent    int
	failed  int
	invalid []string
}

// Dispatch sends msg to targets and returns the aggregated outcome. Tokens the
// gateway reports as permanently invalid are disabled in the registry.
func (d *Dispatcher) Dispatch(ctx context.Context, category model.Category, entityID string, targets []model.Target, msg Message) model.DispatchResult {
	res := model.DispatchResult{Category: category, EntityID: entityID, InvalidTokens: []string{}}
	if len(targets) == 0 {
		return res
	}

	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("category", string(category)),
			attribute.String("entity_id", entityID),
			attribute.Int("targets", len(targets)),
		))
	defer span.End()

	env := BuildEnvelope(msg, d.now(), d.cfg.TTL)

	tokens := make([]string, 0, len(targets))
	for _, t := range targets {
		tokens = append(tokens, t.Token)
	}
	batches := chunk(tokens, d.cfg.BatchSize)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			out := d.sendBatch(ctx, category, i, batch, env)
			mu.Lock()
			res.Sent += out.sent
			res.Failed += out.failed
			res.InvalidTokens = append(res.InvalidTokens, out.invalid...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(res.InvalidTokens) > 0 && d.registry != nil {
		n, err := d.registry.DisableTargets(ctx, res.InvalidTokens)
		if err != nil {
			d.log.Error("disable invalid tokens", "category", category, "count", len(res.InvalidTokens), "error", err)
		} else {
			d.log.Info("disabled invalid tokens", "category", category, "count", n)
		}
	}

	d.metrics.Delivery(string(category), res.Sent, res.Failed, len(res.InvalidTokens))
	span.SetAttributes(
		attribute.Int("sent", res.Sent),
		attribute.Int("failed", res.Failed),
		attribute.Int("invalid", len(res.InvalidTokens)),
	)
	d.log.Info("dispatch finished",
		"category", category, "entity_id", entityID, "batches", len(batches),
		"sent", res.Sent, "failed", res.Failed, "invalid", len(res.InvalidTokens))
	return res
}

func (d *Dispatcher) sendBatch(ctx context.Context, category model.Category, idx int, tokens []string, env *push.Envelope) batchOutcome {
	ctx, span := d.tracer.Start(ctx, "dispatch.batch",
		trace.WithAttributes(attribute.Int("batch", idx), attribute.Int("tokens", len(tokens))))
	defer span.End()

	var out batchOutcome
	pending := tokens
	for attempt := 1; ; attempt++ {
		retry := d.attempt(ctx, pending, env, &out)
		if len(retry) == 0 {
			return out
		}
		if attempt >= d.cfg.MaxAttempts {
			d.log.Warn("retries exhausted", "category", category, "batch", idx, "tokens", len(retry))
			span.SetStatus(codes.Error, "retries exhausted")
			out.failed += len(retry)
			return out
		}

		delay := d.cfg.Backoff.Delay(attempt)
		d.log.Debug("retrying batch", "category", category, "batch", idx, "attempt", attempt+1, "tokens", len(retry), "delay", delay)
		if err := d.sleep(ctx, delay); err != nil {
			out.failed += len(retry)
			return out
		}
		d.metrics.Retry(string(category))
		pending = retry
	}
}

// attempt sends tokens once and returns the tokens worth retrying.
func (d *Dispatcher) attempt(ctx context.Context, tokens []string, env *push.Envelope, out *batchOutcome) []string {
	resps, err := d.gw.SendMulticast(ctx, tokens, env)
	if err != nil {
		var se *push.StatusError
		if (errors.As(err, &se) && !se.Temporary()) || ctx.Err() != nil {
			d.log.Error("send batch", "tokens", len(tokens), "error", err)
			out.failed += len(tokens)
			return nil
		}
		d.log.Warn("send batch", "tokens", len(tokens), "error", err)
		return tokens
	}

	if len(resps) != len(tokens) {
		d.log.Warn("send batch", "tokens", len(tokens), "results", len(resps), "error", "result count mismatch")
		return tokens
	}

	var retry []string
	for i, r := range resps {
		switch classify(r) {
		case classSuccess:
			out.sent++
		case classRetryable:
			retry = append(retry, tokens[i])
		case classInvalid:
			out.invalid = append(out.invalid, tokens[i])
			out.failed++
		default:
			out.failed++
		}
	}
	return retry
}

func chunk(tokens []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		out = append(out, tokens[start:end])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
