// Package policy implements the reply gating scheduler: it scores each
// closed bundle with a desire value, converts it to a probability, and
// decides whether to start a run, subject to a minimum reply interval
// and a per-sender in-flight cap.
package policy

import (
	"math"
	"time"
)

// Desire shape constants. The desire value is a sum of bounded terms,
// so the sigmoid never saturates from any single input.
const (
	// volumeK controls how quickly message count saturates the volume
	// term; volumeN is the count treated as a "full" bundle.
	volumeK = 4.0
	volumeN = 8.0

	// decayCap bounds the time-decay term; decayTau is its time scale.
	// The term is monotonic non-decreasing in elapsed time and
	// approaches decayCap asymptotically.
	decayCap = 0.8
	decayTau = 10 * time.Minute

	// mentionBonus is added when the agent is mentioned. It biases
	// desire only; it never overrides the minimum-interval floor.
	mentionBonus = 1.5

	// ignoreStep raises desire per consecutive skipped bundle, up to
	// ignoreMax, guaranteeing the agent eventually speaks without ever
	// forcing always-respond.
	ignoreStep = 0.25
	ignoreMax  = 1.5

	// moodWeight scales the affect bias term (itself in [-1, 1]).
	moodWeight = 0.3

	// baseline shifts the sigmoid so a lone unprompted message sits
	// below the default threshold.
	baseline = -1.0
)

// DesireInputs are the per-bundle observations feeding the score.
type DesireInputs struct {
	MessageCount          int
	ElapsedSinceLastReply time.Duration
	Mentioned             bool
	ConsecutiveIgnores    int
	Mood                  float64 // [-1, 1], 0 when unknown
}

// Desire computes the raw desire value.
func Desire(in DesireInputs) float64 {
	w := float64(in.MessageCount)
	if w < 0 {
		w = 0
	}
	volume := math.Log1p(volumeK*w) / math.Log1p(volumeK*volumeN)

	d := volume +
		timeDecay(in.ElapsedSinceLastReply) +
		ignorePenalty(in.ConsecutiveIgnores) +
		moodWeight*in.Mood +
		baseline

	if in.Mentioned {
		d += mentionBonus
	}
	return d
}

// Probability squashes desire into (0, 1).
func Probability(desire float64) float64 {
	return 1 / (1 + math.Exp(-desire))
}

// timeDecay grows with time since the last reply, bounded by decayCap.
func timeDecay(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return decayCap * (1 - math.Exp(-elapsed.Seconds()/decayTau.Seconds()))
}

// ignorePenalty raises desire for senders the agent has been ignoring.
// Monotonic non-decreasing, bounded by ignoreMax.
func ignorePenalty(count int) float64 {
	if count <= 0 {
		return 0
	}
	p := ignoreStep * float64(count)
	if p > ignoreMax {
		return ignoreMax
	}
	return p
}
