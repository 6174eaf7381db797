// Package summarizer composes the user-facing reply from a run's
// results. Partial and total failures are reported honestly, including
// any guidance the tools attached. The run never goes silent: when the
// model itself is unreachable a deterministic text is assembled from
// the recorded results.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/murmurhq/murmur/internal/history"
	"github.com/murmurhq/murmur/internal/llm"
	"github.com/murmurhq/murmur/internal/plan"
	"github.com/murmurhq/murmur/internal/prompts"
)

// Summarizer composes replies.
type Summarizer struct {
	client llm.Client
	model  string
	log    *slog.Logger
}

// New creates a summarizer.
func New(client llm.Client, model string, log *slog.Logger) *Summarizer {
	if log == nil {
		log = slog.Default()
	}
	return &Summarizer{client: client, model: model, log: log}
}

// Summary is the composed reply plus whether it reports a partial
// outcome.
type Summary struct {
	Reply   string
	Partial bool
}

// Compose builds the reply for an executed plan. results holds the
// latest attempt per step.
func (s *Summarizer) Compose(ctx context.Context, p *plan.Plan, results map[int]*history.StepResult) *Summary {
	partial := !p.Succeeded()
	outcomes := outcomeLines(p, results)

	prompt := prompts.SummaryPrompt(p.Objective, outcomes)
	resp, err := s.client.Chat(ctx, s.model, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil || strings.TrimSpace(resp.Message.Content) == "" {
		if err != nil {
			s.log.Warn("summary model unavailable, composing deterministic reply", "error", err)
		}
		return &Summary{Reply: s.fallback(p, results), Partial: partial}
	}

	return &Summary{Reply: strings.TrimSpace(resp.Message.Content), Partial: partial}
}

// failureObjectiveMax caps how much of the objective is echoed back in
// a failure reply.
const failureObjectiveMax = 60

// ComposeFailure builds the reply for a run that never produced a
// usable plan or was abandoned by the evaluator. The objective is
// echoed back so the reply names what was being attempted.
func (s *Summarizer) ComposeFailure(objective, reason string) string {
	if reason == "" {
		reason = "something went wrong while working on it"
	}
	reason = strings.TrimSuffix(reason, ".")

	objective = strings.TrimSpace(objective)
	if objective == "" {
		return fmt.Sprintf("I couldn't finish that: %s.", reason)
	}
	if len(objective) > failureObjectiveMax {
		objective = objective[:failureObjectiveMax] + "..."
	}
	return fmt.Sprintf("I couldn't finish %q: %s.", objective, reason)
}

// fallback assembles a plain reply directly from recorded results.
func (s *Summarizer) fallback(p *plan.Plan, results map[int]*history.StepResult) string {
	var b strings.Builder

	var successes, failures []string
	for _, st := range p.Steps {
		r, ok := results[st.Index]
		if ok && r.Success {
			successes = append(successes, r.Data)
		} else if ok {
			line := r.Error
			if r.Advice != "" {
				line += " " + r.Advice
			}
			failures = append(failures, line)
		}
	}

	if len(successes) > 0 {
		b.WriteString(strings.Join(successes, "\n"))
	}
	if len(failures) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Some of it didn't work out: ")
		b.WriteString(strings.Join(failures, "; "))
	}
	if b.Len() == 0 {
		b.WriteString("I tried, but none of the steps produced a result I can share.")
	}
	return b.String()
}

func outcomeLines(p *plan.Plan, results map[int]*history.StepResult) []string {
	lines := make([]string, 0, len(p.Steps))
	for _, st := range p.Steps {
		r, ok := results[st.Index]
		switch {
		case ok && r.Success:
			line := fmt.Sprintf("- %s (%s): %s", st.Reason, st.ToolName, r.Data)
			if r.Advice != "" {
				line += " [note: " + r.Advice + "]"
			}
			lines = append(lines, line)
		case ok:
			line := fmt.Sprintf("- %s (%s) FAILED: %s", st.Reason, st.ToolName, r.Error)
			if r.Advice != "" {
				line += " [guidance: " + r.Advice + "]"
			}
			lines = append(lines, line)
		default:
			lines = append(lines, fmt.Sprintf("- %s (%s) did not run (%s)", st.Reason, st.ToolName, st.Status))
		}
	}
	return lines
}
