// Package affect tracks a per-sender mood scalar used as a small bias
// in the reply-desire computation. Each observation nudges a fast and a
// slow accumulator; both decay exponentially by half-life, so the fast
// term reflects the current exchange while the slow term reflects the
// relationship baseline.
package affect

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Half-lives for the two accumulators.
const (
	fastHalfLife = 10 * time.Minute
	slowHalfLife = 6 * time.Hour
)

// Valence word lists are deliberately tiny. This is a bias term, not a
// sentiment model; anything subtle belongs to the LLM stages.
var (
	positiveWords = []string{"thanks", "thank", "great", "love", "nice", "awesome", "good", "cool", "please"}
	negativeWords = []string{"hate", "awful", "terrible", "angry", "annoying", "stupid", "broken", "bad", "wtf"}
)

type state struct {
	fast    float64
	slow    float64
	updated time.Time
}

// Tracker holds per-sender mood state. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*state
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*state)}
}

// Observe scores the text's valence and folds it into the sender's
// mood at the given time.
func (t *Tracker) Observe(senderID, text string, now time.Time) {
	v := valence(text)

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[senderID]
	if !ok {
		s = &state{updated: now}
		t.states[senderID] = s
	}
	s.decayTo(now)
	s.fast += v
	s.slow += v * 0.25
	s.fast = clamp(s.fast, -1, 1)
	s.slow = clamp(s.slow, -1, 1)
}

// Mood returns the sender's current mood in [-1, 1], decayed to now.
// Unknown senders are neutral.
func (t *Tracker) Mood(senderID string, now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[senderID]
	if !ok {
		return 0
	}
	s.decayTo(now)
	return clamp(0.7*s.fast+0.3*s.slow, -1, 1)
}

func (s *state) decayTo(now time.Time) {
	elapsed := now.Sub(s.updated)
	if elapsed <= 0 {
		return
	}
	s.fast *= halfLifeFactor(elapsed, fastHalfLife)
	s.slow *= halfLifeFactor(elapsed, slowHalfLife)
	s.updated = now
}

func halfLifeFactor(elapsed, halfLife time.Duration) float64 {
	return math.Exp2(-elapsed.Seconds() / halfLife.Seconds())
}

// valence returns a rough score in [-1, 1] from word matches.
func valence(text string) float64 {
	lower := strings.ToLower(text)
	var score float64
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score += 0.2
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score -= 0.2
		}
	}
	return clamp(score, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
