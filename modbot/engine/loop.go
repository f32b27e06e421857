package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("modbot")

type cycleStep struct {
	name string
	fn   func(context.Context, *Community) error
}

// Order matters: flair checks need this cycle's log entries, and queue counts need the processed queue.
func (eng *Engine) cycleSteps() []cycleStep {
	return []cycleStep{
		{"ingest-log", eng.IngestLog},
		{"ingest-comments", eng.IngestComments},
		{"check-flair-changes", eng.CheckFlairChanges},
		{"process-queue", eng.ProcessQueue},
		{"highlighted-modmail", eng.LogHighlightedModmail},
		{"archived-modmail", eng.LogArchivedWithoutReply},
		{"new-submissions", eng.ProcessNewSubmissions},
		{"automod-modmail", eng.ArchiveAutomodNotifications},
		{"backfill-karma", eng.BackfillKarma},
		{"count-queues", eng.CountQueues},
		{"ping-queues", eng.PingQueues},
	}
}

// Runs one polling cycle over every community, sequentially. All durable writes of the cycle share one transaction, which is committed at the end even if ctx was cancelled part way through.
func (eng *Engine) RunCycle(ctx context.Context) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "RunCycle")
	defer span.End()

	if err := eng.Store.Begin(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting cycle transaction: %w", err)
	}
	for _, c := range eng.Communities {
		if ctx.Err() != nil {
			break
		}
		eng.runCommunity(ctx, c)
	}
	if err := eng.Store.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return fmt.Errorf("committing cycle transaction: %w", err)
	}
	eng.Metrics.CycleDuration.Observe(time.Since(start).Seconds())
	eng.Logger.Debug("cycle complete", "duration", time.Since(start))
	return nil
}

func (eng *Engine) runCommunity(ctx context.Context, c *Community) {
	// similar to an HTTP server, a panic in one community must not take down the loop
	defer func() {
		if r := recover(); r != nil {
			eng.Metrics.CycleErrors.WithLabelValues(c.Name).Inc()
			c.Logger.Error("community cycle exception", "err", r, "stack", string(debug.Stack()))
		}
	}()

	ctx, span := tracer.Start(ctx, "community")
	span.SetAttributes(attribute.String("community", c.Name))
	defer span.End()

	c.ResetCycle()
	for _, step := range eng.cycleSteps() {
		if ctx.Err() != nil {
			return
		}
		stepCtx, stepSpan := tracer.Start(ctx, step.name)
		err := step.fn(stepCtx, c)
		if err != nil {
			stepSpan.RecordError(err)
			stepSpan.SetStatus(codes.Error, err.Error())
			eng.Metrics.CycleErrors.WithLabelValues(c.Name).Inc()
			ProcessError(c.Logger.With("step", step.name), "cycle step failed", err)
		}
		stepSpan.End()
	}
}

// Polls until ctx is cancelled, or after a single cycle when once is set. Pending writes are flushed before returning.
func (eng *Engine) Run(ctx context.Context, period time.Duration, once bool) error {
	if eng.StartTime.IsZero() {
		eng.StartTime = eng.now()
	}
	for {
		if err := eng.RunCycle(ctx); err != nil {
			eng.Logger.Error("polling cycle failed", "err", err)
		}
		if once {
			return nil
		}
		select {
		case <-ctx.Done():
			eng.Logger.Info("shutting down polling loop")
			return nil
		case <-time.After(period):
		}
	}
}
