package policy

import (
	"log/slog"
	"sync"
	"time"

	"github.com/murmurhq/murmur/internal/bundle"
	"github.com/murmurhq/murmur/internal/events"
)

// Config holds the gating knobs.
type Config struct {
	// ReplyThreshold is the probability floor for a Respond decision.
	ReplyThreshold float64
	// MinReplyInterval is the hard floor between replies to one sender.
	MinReplyInterval time.Duration
	// MaxConcurrent caps in-flight runs per sender.
	MaxConcurrent int
	// SelfID is the agent's own identity for mention detection.
	SelfID string
}

// Decision is the outcome of gating one bundle.
type Decision struct {
	Respond     bool
	Desire      float64
	Probability float64
	// Reason names the gate that blocked a Skip ("probability",
	// "interval", "concurrency") or is "ok" on Respond.
	Reason string
}

// MoodSource supplies the affect bias for a sender. May be nil.
type MoodSource interface {
	Mood(senderID string, now time.Time) float64
}

// senderState is the desire state for one (conversation, sender) key.
// All mutation goes through its own mutex, giving single-writer-per-key
// discipline without a table-wide write lock on the hot path.
type senderState struct {
	mu                 sync.Mutex
	lastReplyAt        time.Time
	consecutiveIgnores int
	inFlight           int
}

type stateKey struct {
	conversation string
	sender       string
}

// Scheduler gates bundles and owns the per-sender desire state table.
type Scheduler struct {
	cfg    Config
	mood   MoodSource
	bus    *events.Bus
	logger *slog.Logger

	mu     sync.RWMutex // guards the map only, not the entries
	states map[stateKey]*senderState
}

// NewScheduler creates a reply policy scheduler.
func NewScheduler(cfg Config, mood MoodSource, bus *events.Bus, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		mood:   mood,
		bus:    bus,
		logger: logger.With("component", "policy"),
		states: make(map[stateKey]*senderState),
	}
}

// state returns the entry for key, creating it lazily.
func (s *Scheduler) state(k stateKey) *senderState {
	s.mu.RLock()
	st, ok := s.states[k]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.states[k]; ok {
		return st
	}
	st = &senderState{}
	s.states[k] = st
	return st
}

// Decide gates one closed bundle and updates the desire state as a side
// effect: Respond resets the ignore count, stamps lastReplyAt, and
// increments the in-flight count; Skip increments the ignore count.
//
// A sender with no recorded reply has an unbounded elapsed time, so the
// interval floor never blocks the first exchange.
func (s *Scheduler) Decide(b *bundle.Bundle, now time.Time) Decision {
	k := stateKey{conversation: b.ConversationID, sender: b.SenderID}
	st := s.state(k)

	st.mu.Lock()
	defer st.mu.Unlock()

	elapsed := time.Duration(1<<62 - 1)
	if !st.lastReplyAt.IsZero() {
		elapsed = now.Sub(st.lastReplyAt)
	}

	var mood float64
	if s.mood != nil {
		mood = s.mood.Mood(b.SenderID, now)
	}

	desire := Desire(DesireInputs{
		MessageCount:          len(b.Messages),
		ElapsedSinceLastReply: elapsed,
		Mentioned:             b.Mentioned(s.cfg.SelfID),
		ConsecutiveIgnores:    st.consecutiveIgnores,
		Mood:                  mood,
	})
	prob := Probability(desire)

	d := Decision{Desire: desire, Probability: prob}
	switch {
	case prob < s.cfg.ReplyThreshold:
		d.Reason = "probability"
	case elapsed < s.cfg.MinReplyInterval:
		d.Reason = "interval"
	case st.inFlight >= s.cfg.MaxConcurrent:
		d.Reason = "concurrency"
	default:
		d.Respond = true
		d.Reason = "ok"
	}

	if d.Respond {
		st.consecutiveIgnores = 0
		st.lastReplyAt = now
		st.inFlight++
	} else {
		st.consecutiveIgnores++
	}

	s.logger.Debug("gating decision",
		"conversation", b.ConversationID,
		"sender", b.SenderID,
		"messages", len(b.Messages),
		"probability", prob,
		"respond", d.Respond,
		"reason", d.Reason,
	)
	s.bus.Publish(events.Event{
		Source: events.SourcePolicy,
		Kind:   events.KindDecision,
		Data: map[string]any{
			"conversation_id": b.ConversationID,
			"sender_id":       b.SenderID,
			"probability":     prob,
			"respond":         d.Respond,
			"reason":          d.Reason,
		},
	})

	return d
}

// RunFinished releases one in-flight slot for the sender. Must be
// called exactly once per Respond decision, regardless of run outcome.
func (s *Scheduler) RunFinished(conversationID, senderID string) {
	st := s.state(stateKey{conversation: conversationID, sender: senderID})
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.inFlight > 0 {
		st.inFlight--
	}
}

// InFlight reports the current in-flight run count for a sender.
func (s *Scheduler) InFlight(conversationID, senderID string) int {
	st := s.state(stateKey{conversation: conversationID, sender: senderID})
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inFlight
}
