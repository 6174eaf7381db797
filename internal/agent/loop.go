// Package agent runs the top-level loop: inbound messages flow through
// the bundler, closed bundles through the reply policy, and Respond
// decisions launch pipeline runs whose replies go back out through the
// chat sender.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurhq/murmur/internal/affect"
	"github.com/murmurhq/murmur/internal/bundle"
	"github.com/murmurhq/murmur/internal/chat"
	"github.com/murmurhq/murmur/internal/policy"
	"github.com/murmurhq/murmur/internal/run"
)

// Loop coordinates the agent's message flow.
type Loop struct {
	bundler   *bundle.Collector
	scheduler *policy.Scheduler
	mood      *affect.Tracker
	pipeline  *run.Pipeline
	sender    chat.Sender
	log       *slog.Logger

	wg sync.WaitGroup

	runsStarted    atomic.Int64
	runsFinished   atomic.Int64
	bundlesGated   atomic.Int64
	bundlesSkipped atomic.Int64
}

// New creates a loop.
func New(bundler *bundle.Collector, scheduler *policy.Scheduler, mood *affect.Tracker,
	pipeline *run.Pipeline, sender chat.Sender, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		bundler:   bundler,
		scheduler: scheduler,
		mood:      mood,
		pipeline:  pipeline,
		sender:    sender,
		log:       log.With("component", "agent"),
	}
}

// Receive is the transport handler for one inbound message. It updates
// the sender's mood and feeds the bundler.
func (l *Loop) Receive(msg chat.Inbound) {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	l.mood.Observe(msg.SenderID, msg.Text, ts)
	l.bundler.Add(msg)
}

// Run consumes closed bundles until the bundler's output channel
// closes (which happens when its own Run loop observes cancellation),
// then waits for in-flight pipeline runs to finish.
func (l *Loop) Run(ctx context.Context) {
	for b := range l.bundler.Out() {
		l.bundlesGated.Add(1)
		d := l.scheduler.Decide(b, time.Now())
		if !d.Respond {
			l.bundlesSkipped.Add(1)
			continue
		}

		l.runsStarted.Add(1)
		l.wg.Add(1)
		go l.execute(ctx, b)
	}
	l.wg.Wait()
}

// execute drives one pipeline run for a bundle and sends the reply.
// The in-flight slot is released exactly once, whatever the outcome.
func (l *Loop) execute(ctx context.Context, b *bundle.Bundle) {
	defer l.wg.Done()
	defer l.runsFinished.Add(1)
	defer l.scheduler.RunFinished(b.ConversationID, b.SenderID)

	r, err := l.pipeline.Execute(ctx, b.ConversationID, b.SenderID, b.Text())
	if err != nil {
		l.log.Error("run failed without a reply",
			"conversation", b.ConversationID, "sender", b.SenderID, "error", err)
		return
	}

	if err := l.sender.Send(ctx, b.ConversationID, r.Reply); err != nil {
		l.log.Error("failed to send reply",
			"conversation", b.ConversationID, "run", r.ID.String(), "error", err)
		return
	}

	l.log.Info("reply sent",
		"conversation", b.ConversationID,
		"sender", b.SenderID,
		"run", r.ID.String(),
		"state", string(r.State),
		"replans", r.Replans,
		"duration", r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond),
	)
}

// Snapshot reports loop counters for the ops state endpoint.
func (l *Loop) Snapshot() map[string]any {
	return map[string]any{
		"bundles_gated":   l.bundlesGated.Load(),
		"bundles_skipped": l.bundlesSkipped.Load(),
		"runs_started":    l.runsStarted.Load(),
		"runs_finished":   l.runsFinished.Load(),
	}
}
