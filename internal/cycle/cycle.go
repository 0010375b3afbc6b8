// Package cycle runs one detection and delivery pass over every feed.
//
// A run loads all feed states and snapshots concurrently, then handles the feeds
// one after another: detect, resolve targets, dispatch per entity, and commit the
// next state only once delivery for that feed has been attempted.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"feedpush/internal/detector"
	"feedpush/internal/dispatch"
	"feedpush/internal/metrics"
	"feedpush/internal/model"
	"feedpush/internal/provider"
	"feedpush/internal/storage"
)

// Sources groups the snapshot providers of the three feeds.
type Sources struct {
	Live  provider.Source[model.LiveEntity]
	Vote  provider.Source[model.VoteEntity]
	Video provider.Source[model.VideoEntity]
}

// Resolver lists the targets eligible for a category.
type Resolver interface {
	Resolve(ctx context.Context, category model.Category) []model.Target
}

// Dispatcher delivers one message to a set of targets.
type Dispatcher interface {
	Dispatch(ctx context.Context, category model.Category, entityID string, targets []model.Target, msg dispatch.Message) model.DispatchResult
}

// Reporter receives every finished report.
type Reporter interface {
	ReportCycle(ctx context.Context, rep *Report)
}

// Config holds the feed policies of a run.
type Config struct {
	LiveGuard     time.Duration
	VoteStabilize time.Duration
	// EntityPause separates consecutive dispatches within one feed.
	EntityPause time.Duration
}

// DefaultConfig returns the production policies.
func DefaultConfig() Config {
	return Config{
		LiveGuard:     detector.DefaultLiveGuard,
		VoteStabilize: detector.DefaultVoteStabilize,
		EntityPause:   1500 * time.Millisecond,
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithMetrics records feed and cycle outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithReporter registers a hook that receives every finished report.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) { r.reporter = rep }
}

// Runner executes cycles.
type Runner struct {
	store      storage.StateStore
	sources    Sources
	resolver   Resolver
	dispatcher Dispatcher
	cfg        Config
	log        *slog.Logger
	metrics    *metrics.Metrics
	reporter   Reporter
	tracer     trace.Tracer
	now        func() time.Time
}

// New creates a Runner.
func New(store storage.StateStore, sources Sources, resolver Resolver, dispatcher Dispatcher, cfg Config, log *slog.Logger, opts ...Option) *Runner {
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		store:      store,
		sources:    sources,
		resolver:   resolver,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
		tracer:     otel.Tracer("feedpush/cycle"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// snapshots is the shared prelude of a run.
type snapshots struct {
	states map[model.FeedKind]model.FeedState

	live     []model.LiveEntity
	liveErr  error
	votes    []model.VoteEntity
	voteErr  error
	videos   []model.VideoEntity
	videoErr error
}

// Run executes one cycle. The returned report is never nil. An error means the
// cycle did not complete: the prelude failed or ctx ended during the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := r.now()
	rep := newReport(uuid.NewString(), start)
	log := r.log.With("run_id", rep.RunID)

	ctx, span := r.tracer.Start(ctx, "cycle.run", trace.WithAttributes(attribute.String("run_id", rep.RunID)))
	defer span.End()

	err := r.run(ctx, rep, log)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		rep.OK = false
		rep.Error = err.Error()
		rep.addf("", "cycle aborted: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("cycle aborted", "error", err)
	} else {
		rep.OK = true
		sent, failed := rep.Totals()
		log.Info("cycle finished", "sent", sent, "failed", failed, "duration", time.Since(start))
	}

	r.metrics.Cycle(rep.OK, r.now().Sub(start))
	if r.reporter != nil {
		r.reporter.ReportCycle(context.WithoutCancel(ctx), rep)
	}
	return rep, err
}

func (r *Runner) run(ctx context.Context, rep *Report, log *slog.Logger) error {
	snap, err := r.load(ctx)
	if err != nil {
		return err
	}

	if r.usable(rep, log, model.FeedLive, len(snap.live), snap.liveErr) {
		r.processLive(ctx, rep, log, snap.states[model.FeedLive], snap.live)
	}
	if r.usable(rep, log, model.FeedVote, len(snap.votes), snap.voteErr) {
		r.processVote(ctx, rep, log, snap.states[model.FeedVote], snap.votes)
	}
	if r.usable(rep, log, model.FeedYouTube, len(snap.videos), snap.videoErr) {
		r.processVideo(ctx, rep, log, snap.states[model.FeedYouTube], snap.videos)
	}
	return nil
}

// load reads every feed state and snapshot concurrently. Only a state read
// failure is returned; snapshot failures are kept per feed.
func (r *Runner) load(ctx context.Context) (*snapshots, error) {
	ctx, span := r.tracer.Start(ctx, "cycle.load")
	defer span.End()

	snap := &snapshots{}
	states := make([]model.FeedState, len(model.Feeds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range model.Feeds {
		g.Go(func() error {
			st, err := r.store.GetFeedState(gctx, kind)
			if err != nil {
				return fmt.Errorf("load %s state: %w", kind, err)
			}
			states[i] = st
			return nil
		})
	}
	g.Go(func() error {
		snap.live, snap.liveErr = fetch(gctx, r.sources.Live)
		return nil
	})
	g.Go(func() error {
		snap.votes, snap.voteErr = fetch(gctx, r.sources.Vote)
		return nil
	})
	g.Go(func() error {
		snap.videos, snap.videoErr = fetch(gctx, r.sources.Video)
		return nil
	})
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	snap.states = make(map[model.FeedKind]model.FeedState, len(states))
	for i, kind := range model.Feeds {
		snap.states[kind] = states[i]
	}
	return snap, nil
}

var errNoSource = errors.New("no source configured")

func fetch[T any](ctx context.Context, src provider.Source[T]) ([]T, error) {
	if src == nil {
		return nil, errNoSource
	}
	return src.Snapshot(ctx)
}

// usable reports whether a feed's snapshot can be processed this cycle.
func (r *Runner) usable(rep *Report, log *slog.Logger, kind model.FeedKind, n int, err error) bool {
	switch {
	case err != nil:
		line := rep.addf(kind, "snapshot unavailable, skipped: %v", err)
		log.Warn(line, "feed", kind)
	case n == 0:
		line := rep.addf(kind, "snapshot empty, skipped")
		log.Info(line, "feed", kind)
	default:
		return true
	}
	r.metrics.FeedOutcome(string(kind), "skipped")
	return false
}
