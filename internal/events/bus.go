// Package events provides a publish/subscribe event bus carrying the
// per-run observable event stream. Pipeline stages publish one event per
// stage transition; subscribers (the ops WebSocket handler, tests)
// receive them on buffered channels. The bus is nil-safe: Publish on a
// nil *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourcePipeline identifies events from the run pipeline.
	SourcePipeline = "pipeline"
	// SourcePolicy identifies events from the reply policy scheduler.
	SourcePolicy = "policy"
	// SourceTransport identifies events from the chat transport.
	SourceTransport = "transport"
)

// Kind constants describe the type of event within a source.
const (
	// KindJudge reports the judge decision for a run.
	// Data: run_id, needs_tools, estimated_operations.
	KindJudge = "judge"
	// KindPlan reports an accepted plan.
	// Data: run_id, steps, replan_cycle.
	KindPlan = "plan"
	// KindArgs reports generated arguments for a step.
	// Data: run_id, step, tool, attempt, args.
	KindArgs = "args"
	// KindToolResult reports one tool attempt outcome.
	// Data: run_id, step, tool, attempt, success, error.
	KindToolResult = "tool_result"
	// KindEvaluate reports the evaluator verdict.
	// Data: run_id, verdict, reason.
	KindEvaluate = "evaluate"
	// KindSummary reports the composed reply.
	// Data: run_id, length, partial.
	KindSummary = "summary"

	// KindDecision reports a respond/skip gating decision.
	// Data: conversation_id, sender_id, probability, respond, reason.
	KindDecision = "decision"

	// KindMessageReceived reports an inbound chat message.
	// Data: conversation_id, sender_id, message_len.
	KindMessageReceived = "message_received"
	// KindReplySent reports an outbound reply.
	// Data: conversation_id, length.
	KindReplySent = "reply_sent"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Slow subscribers miss
// events rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel handed out by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept the caller's <-chan view.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
