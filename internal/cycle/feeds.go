package cycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"feedpush/internal/detector"
	"feedpush/internal/dispatch"
	"feedpush/internal/model"
	"feedpush/internal/storage"
)

func (r *Runner) processLive(ctx context.Context, rep *Report, log *slog.Logger, prior model.FeedState, snapshot []model.LiveEntity) {
	ctx, span := r.startFeed(ctx, model.FeedLive)
	defer span.End()

	d := detector.DetectLive(prior, snapshot, r.now(), r.cfg.LiveGuard)
	span.SetAttributes(attribute.String("outcome", string(d.Outcome)))
	if len(d.Suppressed) > 0 {
		log.Info(rep.addf(model.FeedLive, "duplicate guard held back %s", strings.Join(d.Suppressed, ",")), "feed", model.FeedLive)
	}
	if d.Outcome == detector.OutcomeNotify {
		ok := deliver(ctx, r, rep, log, model.FeedLive, d.Notify,
			func(e model.LiveEntity) string { return e.ID }, liveMessage, d.MarkAttempted)
		if !ok {
			return
		}
	}
	r.commit(ctx, rep, log, model.FeedLive, d.Outcome, &d.Next)
}

func (r *Runner) processVote(ctx context.Context, rep *Report, log *slog.Logger, prior model.FeedState, snapshot []model.VoteEntity) {
	ctx, span := r.startFeed(ctx, model.FeedVote)
	defer span.End()

	d := detector.DetectVote(prior, snapshot, r.now(), r.cfg.VoteStabilize)
	span.SetAttributes(attribute.String("outcome", string(d.Outcome)))
	if len(d.Waiting) > 0 {
		ids := make([]string, 0, len(d.Waiting))
		for _, v := range d.Waiting {
			ids = append(ids, v.ID)
		}
		log.Info(rep.addf(model.FeedVote, "waiting to stabilize: %s", strings.Join(ids, ",")), "feed", model.FeedVote)
	}
	if d.Outcome == detector.OutcomeNotify {
		ok := deliver(ctx, r, rep, log, model.FeedVote, d.Notify,
			func(v model.VoteEntity) string { return v.ID }, voteMessage, d.MarkAttempted)
		if !ok {
			return
		}
	}
	r.commit(ctx, rep, log, model.FeedVote, d.Outcome, &d.Next)
}

func (r *Runner) processVideo(ctx context.Context, rep *Report, log *slog.Logger, prior model.FeedState, snapshot []model.VideoEntity) {
	ctx, span := r.startFeed(ctx, model.FeedYouTube)
	defer span.End()

	d := detector.DetectVideo(prior, snapshot, r.now())
	span.SetAttributes(attribute.String("outcome", string(d.Outcome)))
	if d.Outcome == detector.OutcomeNotify {
		ok := deliver(ctx, r, rep, log, model.FeedYouTube, d.Notify,
			func(v model.VideoEntity) string { return v.ID }, videoMessage, d.MarkAttempted)
		if !ok {
			return
		}
	}
	r.commit(ctx, rep, log, model.FeedYouTube, d.Outcome, &d.Next)
}

func (r *Runner) startFeed(ctx context.Context, kind model.FeedKind) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "cycle.feed", trace.WithAttributes(attribute.String("feed", string(kind))))
}

// deliver resolves the feed's targets once and dispatches one message per item,
// pausing between items. It reports false when ctx ended before every item was
// attempted, in which case the feed must not be committed.
func deliver[T any](
	ctx context.Context,
	r *Runner,
	rep *Report,
	log *slog.Logger,
	kind model.FeedKind,
	items []T,
	id func(T) string,
	compose func(T) dispatch.Message,
	mark func(id string, at time.Time),
) bool {
	category := kind.Category()
	targets := r.resolver.Resolve(ctx, category)
	log.Info(rep.addf(kind, "notifying %d item(s) to %d target(s)", len(items), len(targets)), "feed", kind)

	pause := rate.NewLimiter(rate.Every(r.cfg.EntityPause), 1)
	for _, item := range items {
		if err := pause.Wait(ctx); err != nil {
			log.Warn(rep.addf(kind, "delivery interrupted, state not committed: %v", err), "feed", kind)
			return false
		}

		entityID := id(item)
		res := r.dispatcher.Dispatch(ctx, category, entityID, targets, compose(item))
		rep.Results = append(rep.Results, res)
		log.Info(rep.addf(kind, "%s: sent=%d failed=%d invalid=%d", entityID, res.Sent, res.Failed, len(res.InvalidTokens)),
			"feed", kind, "entity_id", entityID)
		if err := ctx.Err(); err != nil {
			log.Warn(rep.addf(kind, "delivery interrupted, state not committed: %v", err), "feed", kind)
			return false
		}

		mark(entityID, r.now())
	}
	return true
}

// commit persists next. A failure is reported and left for the next cycle.
func (r *Runner) commit(ctx context.Context, rep *Report, log *slog.Logger, kind model.FeedKind, outcome detector.Outcome, next *model.FeedState) {
	if err := r.store.PutFeedState(ctx, next); err != nil {
		if errors.Is(err, storage.ErrStateConflict) {
			log.Warn(rep.addf(kind, "state changed by a concurrent run, commit dropped"), "feed", kind, "error", err)
		} else {
			log.Error(rep.addf(kind, "commit state: %v", err), "feed", kind)
		}
		r.metrics.FeedOutcome(string(kind), "commit_error")
		return
	}
	r.metrics.FeedOutcome(string(kind), string(outcome))
	log.Info(rep.addf(kind, "%s, state committed (%d ids)", outcome, len(next.Identity)), "feed", kind)
}
