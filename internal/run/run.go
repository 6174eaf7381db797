// Package run drives one bundle through the full pipeline: judge,
// plan, execute, evaluate, summarize, with bounded replan cycles. A
// run always ends with a reply to send; failure modes produce an
// honest explanation rather than silence.
package run

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/murmurhq/murmur/internal/evaluator"
	"github.com/murmurhq/murmur/internal/events"
	"github.com/murmurhq/murmur/internal/executor"
	"github.com/murmurhq/murmur/internal/history"
	"github.com/murmurhq/murmur/internal/plan"
	"github.com/murmurhq/murmur/internal/planner"
	"github.com/murmurhq/murmur/internal/retrieval"
	"github.com/murmurhq/murmur/internal/summarizer"
)

// State is the run lifecycle phase.
type State string

const (
	StateCreated     State = "created"
	StateJudging     State = "judging"
	StatePlanning    State = "planning"
	StateExecuting   State = "executing"
	StateEvaluating  State = "evaluating"
	StateReplanning  State = "replanning"
	StateSummarizing State = "summarizing"

	// Terminal states. Cancelled is external interruption, distinct
	// from a run that failed on its own.
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Run is one pipeline pass for one bundle.
type Run struct {
	ID             uuid.UUID
	ConversationID string
	SenderID       string
	Objective      string
	State          State
	Replans        int
	Reply          string
	Partial        bool
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Pipeline wires the stages together.
type Pipeline struct {
	retrieval  *retrieval.Pipeline
	planner    *planner.Planner
	executor   *executor.Executor
	evaluator  *evaluator.Evaluator
	summarizer *summarizer.Summarizer
	store      *history.Store
	bus        *events.Bus
	maxReplans int
	log        *slog.Logger
}

// Config for the pipeline.
type Config struct {
	Retrieval  *retrieval.Pipeline
	Planner    *planner.Planner
	Executor   *executor.Executor
	Evaluator  *evaluator.Evaluator
	Summarizer *summarizer.Summarizer
	Store      *history.Store
	Bus        *events.Bus
	MaxReplans int
	Logger     *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		retrieval:  cfg.Retrieval,
		planner:    cfg.Planner,
		executor:   cfg.Executor,
		evaluator:  cfg.Evaluator,
		summarizer: cfg.Summarizer,
		store:      cfg.Store,
		bus:        cfg.Bus,
		maxReplans: cfg.MaxReplans,
		log:        log.With("component", "run"),
	}
}

// newRunID prefers time-ordered v7 IDs.
func newRunID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// Execute drives one run to completion and returns it with Reply set.
// The returned error is non-nil only for infrastructure failures where
// no reply could be composed at all.
func (pl *Pipeline) Execute(ctx context.Context, conversationID, senderID, objective string) (*Run, error) {
	r := &Run{
		ID:             newRunID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Objective:      objective,
		State:          StateCreated,
		StartedAt:      time.Now(),
	}
	log := pl.log.With("run", r.ID.String())

	// Judge.
	r.State = StateJudging
	shortlist, err := pl.retrieval.Select(ctx, objective, "")
	if err != nil {
		log.Error("retrieval failed", "error", err)
		return pl.fail(r, "I couldn't look up my capabilities")
	}

	judgment, err := pl.planner.Judge(ctx, objective, shortlist.Tools)
	if err != nil {
		log.Error("judge failed", "error", err)
		return pl.fail(r, "I couldn't work out how to approach that")
	}
	pl.bus.Publish(events.Event{
		Source: events.SourcePipeline,
		Kind:   events.KindJudge,
		Data: map[string]any{
			"run_id":               r.ID.String(),
			"needs_tools":          judgment.NeedsTools,
			"estimated_operations": judgment.EstimatedOperations,
		},
	})

	if !judgment.NeedsTools {
		r.State = StateSummarizing
		r.Reply = judgment.Reply
		if r.Reply == "" {
			r.Reply = "I don't have anything useful to add to that."
		}
		return pl.finish(r, StateDone)
	}

	// Plan, execute, evaluate, with bounded replan cycles. After the
	// first cycle, feedback carries the executed plan's outcomes and the
	// evaluator's reason into the next generation.
	var feedback *planner.Feedback
	for cycle := 0; ; cycle++ {
		r.State = StatePlanning
		p, err := pl.planner.Plan(ctx, objective, shortlist.Tools, judgment.EstimatedOperations, feedback)
		if err != nil {
			log.Error("planning failed", "cycle", cycle, "error", err)
			return pl.fail(r, "I couldn't come up with a workable approach")
		}
		if err := pl.store.SetPlan(r.ID, cycle, p); err != nil {
			log.Error("failed to persist plan", "error", err)
		}
		pl.bus.Publish(events.Event{
			Source: events.SourcePipeline,
			Kind:   events.KindPlan,
			Data: map[string]any{
				"run_id":       r.ID.String(),
				"steps":        p.Len(),
				"replan_cycle": cycle,
			},
		})

		r.State = StateExecuting
		execErr := pl.executor.Execute(ctx, r.ID, cycle, p)
		if ctx.Err() != nil {
			r.Reply = pl.summarizer.ComposeFailure(objective, "I was interrupted before finishing")
			return pl.finish(r, StateCancelled)
		}
		if execErr != nil {
			log.Debug("execution finished with failures", "cycle", cycle, "error", execErr)
		}

		results, err := pl.store.Latest(r.ID, cycle)
		if err != nil {
			log.Error("failed to load step results", "error", err)
			results = map[int]*history.StepResult{}
		}

		r.State = StateEvaluating
		ev := pl.evaluator.Evaluate(ctx, p, results)
		pl.bus.Publish(events.Event{
			Source: events.SourcePipeline,
			Kind:   events.KindEvaluate,
			Data: map[string]any{
				"run_id":  r.ID.String(),
				"verdict": string(ev.Verdict),
				"reason":  ev.Reason,
			},
		})

		switch ev.Verdict {
		case evaluator.VerdictAccept:
			return pl.summarize(ctx, r, p, results)

		case evaluator.VerdictReplan:
			if cycle >= pl.maxReplans {
				log.Info("replan budget exhausted, summarizing what we have",
					"cycles", cycle+1)
				r.Partial = true
				return pl.summarize(ctx, r, p, results)
			}
			r.Replans++
			r.State = StateReplanning
			feedback = &planner.Feedback{
				Reason:   ev.Reason,
				Outcomes: evaluator.OutcomeLines(p, results),
			}
			log.Debug("replanning", "cycle", cycle+1, "reason", ev.Reason)

		case evaluator.VerdictFail:
			r.State = StateSummarizing
			r.Reply = pl.summarizer.ComposeFailure(objective, ev.Reason)
			return pl.finish(r, StateFailed)
		}
	}
}

func (pl *Pipeline) summarize(ctx context.Context, r *Run, p *plan.Plan, results map[int]*history.StepResult) (*Run, error) {
	r.State = StateSummarizing
	sum := pl.summarizer.Compose(ctx, p, results)
	r.Reply = sum.Reply
	r.Partial = r.Partial || sum.Partial

	pl.bus.Publish(events.Event{
		Source: events.SourcePipeline,
		Kind:   events.KindSummary,
		Data: map[string]any{
			"run_id":  r.ID.String(),
			"length":  len(r.Reply),
			"partial": r.Partial,
		},
	})
	return pl.finish(r, StateDone)
}

// fail composes a failure reply so the conversation never goes silent.
func (pl *Pipeline) fail(r *Run, reason string) (*Run, error) {
	r.Reply = pl.summarizer.ComposeFailure(r.Objective, reason)
	return pl.finish(r, StateFailed)
}

func (pl *Pipeline) finish(r *Run, terminal State) (*Run, error) {
	r.State = terminal
	r.FinishedAt = time.Now()
	return r, nil
}
