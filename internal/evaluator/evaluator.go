// Package evaluator judges whether an executed plan satisfied its
// objective, producing an accept, replan, or fail verdict. When the
// model is unreachable or returns garbage the verdict falls back to a
// deterministic rule: full success accepts, anything else fails.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/murmurhq/murmur/internal/history"
	"github.com/murmurhq/murmur/internal/llm"
	"github.com/murmurhq/murmur/internal/plan"
	"github.com/murmurhq/murmur/internal/prompts"
)

// Verdict is the evaluation outcome.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReplan Verdict = "replan"
	VerdictFail   Verdict = "fail"
)

// Evaluation is the full evaluator output.
type Evaluation struct {
	Verdict Verdict `json:"verdict"`
	Reason  string  `json:"reason"`
}

// Evaluator produces verdicts on executed plans.
type Evaluator struct {
	client llm.Client
	model  string
	log    *slog.Logger
}

// New creates an evaluator.
func New(client llm.Client, model string, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{client: client, model: model, log: log}
}

// Evaluate judges the executed plan against its objective. results
// holds the latest attempt per step.
func (e *Evaluator) Evaluate(ctx context.Context, p *plan.Plan, results map[int]*history.StepResult) *Evaluation {
	prompt := prompts.EvaluatePrompt(p.Objective, OutcomeLines(p, results))

	resp, err := e.client.Chat(ctx, e.model, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		e.log.Warn("evaluator model unavailable, using deterministic verdict", "error", err)
		return e.fallback(p)
	}

	var ev Evaluation
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Message.Content)), &ev); err != nil {
		e.log.Warn("evaluator returned unparseable verdict, using deterministic verdict", "error", err)
		return e.fallback(p)
	}

	switch ev.Verdict {
	case VerdictAccept, VerdictReplan, VerdictFail:
		return &ev
	}
	e.log.Warn("evaluator returned unknown verdict, using deterministic verdict", "verdict", ev.Verdict)
	return e.fallback(p)
}

// fallback is the deterministic rule applied when the model cannot be
// consulted: a fully successful plan is accepted, anything else fails
// rather than looping on replans blind.
func (e *Evaluator) fallback(p *plan.Plan) *Evaluation {
	if p.Succeeded() {
		return &Evaluation{Verdict: VerdictAccept, Reason: "all steps succeeded"}
	}
	return &Evaluation{Verdict: VerdictFail, Reason: "one or more steps did not succeed"}
}

// OutcomeLines formats the latest attempt per step for a prompt. The
// run pipeline reuses it to feed an executed cycle back into the
// planner on a replan.
func OutcomeLines(p *plan.Plan, results map[int]*history.StepResult) []string {
	lines := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		r, ok := results[s.Index]
		switch {
		case ok && r.Success:
			lines = append(lines, fmt.Sprintf("Step %d (%s): succeeded: %s", s.Index, s.ToolName, r.Data))
		case ok:
			lines = append(lines, fmt.Sprintf("Step %d (%s): failed: %s", s.Index, s.ToolName, r.Error))
		default:
			lines = append(lines, fmt.Sprintf("Step %d (%s): %s (never ran)", s.Index, s.ToolName, s.Status))
		}
	}
	return lines
}
