// Package arggen generates tool arguments for one plan step at a time.
// The prompt context is the step's transitive dependency closure only,
// assembled in step-index order; unrelated branches never leak in. On
// a retry the step's own failed attempt is replayed so the model can
// correct it.
package arggen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/murmurhq/murmur/internal/catalog"
	"github.com/murmurhq/murmur/internal/fault"
	"github.com/murmurhq/murmur/internal/history"
	"github.com/murmurhq/murmur/internal/llm"
	"github.com/murmurhq/murmur/internal/plan"
	"github.com/murmurhq/murmur/internal/prompts"
)

// maxArgAttempts bounds regeneration when the model keeps producing
// arguments that fail schema validation.
const maxArgAttempts = 3

// Generator produces validated arguments for plan steps.
type Generator struct {
	client llm.Client
	model  string
	log    *slog.Logger
}

// New creates a generator.
func New(client llm.Client, model string, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{client: client, model: model, log: log}
}

// Request carries everything needed to generate arguments for one step.
type Request struct {
	Plan *plan.Plan
	Step *plan.Step
	Tool *catalog.Tool
	// Results holds the latest recorded attempt per step index.
	Results map[int]*history.StepResult
	// LastFailure is this step's own previous failed attempt, replayed
	// on retries. Nil on the first attempt.
	LastFailure *history.StepResult
}

// Generate produces arguments satisfying the tool's schema. Invalid
// output triggers regeneration with the validation error included, up
// to maxArgAttempts; persistent failure surfaces the last
// *fault.ValidationError.
func (g *Generator) Generate(ctx context.Context, req *Request) (map[string]any, error) {
	schemaJSON, err := json.MarshalIndent(req.Tool.Schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	ancestors := ancestorContext(req.Plan, req.Step, req.Results)

	failure := ""
	if req.LastFailure != nil {
		failure = formatFailure(req.LastFailure)
	}

	var lastErr error
	for attempt := 1; attempt <= maxArgAttempts; attempt++ {
		prompt := prompts.ArgsPrompt(req.Plan.Objective, req.Step.Reason,
			req.Tool.Name, string(schemaJSON), ancestors, failure)

		resp, err := g.client.Chat(ctx, g.model, []llm.Message{
			{Role: "user", Content: prompt},
		})
		if err != nil {
			return nil, fmt.Errorf("generate args: %w", err)
		}

		var args map[string]any
		if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Message.Content)), &args); err != nil {
			lastErr = &fault.ValidationError{
				Tool:   req.Tool.Name,
				Reason: fmt.Sprintf("arguments are not a JSON object: %v", err),
			}
		} else if err := req.Tool.ValidateArgs(args); err != nil {
			lastErr = err
		} else {
			return args, nil
		}

		// Feed the validation error back as a synthetic failure so the
		// next attempt corrects it.
		failure = lastErr.Error()
		g.log.Debug("arguments rejected, regenerating",
			"tool", req.Tool.Name, "step", req.Step.Index,
			"attempt", attempt, "reason", failure)
	}

	var ve *fault.ValidationError
	if errors.As(lastErr, &ve) {
		return nil, ve
	}
	return nil, lastErr
}

// ancestorContext formats the results of the step's transitive
// dependency closure, in ascending step-index order. Filtering uses
// the precomputed closure set, never execution order, so parallel
// sibling branches cannot leak in.
func ancestorContext(p *plan.Plan, step *plan.Step, results map[int]*history.StepResult) []string {
	closure := p.Ancestors(step.Index)

	var out []string
	for i := 0; i < step.Index; i++ {
		if !closure[i] {
			continue
		}
		r, ok := results[i]
		if !ok {
			continue
		}
		out = append(out, formatResult(p.Steps[i], r))
	}
	return out
}

func formatResult(step *plan.Step, r *history.StepResult) string {
	if r.Success {
		return fmt.Sprintf("Step %d (%s): %s", step.Index, step.ToolName, r.Data)
	}
	return fmt.Sprintf("Step %d (%s) FAILED: %s", step.Index, step.ToolName, r.Error)
}

func formatFailure(r *history.StepResult) string {
	s := r.Error
	if r.Advice != "" {
		s += " (guidance: " + r.Advice + ")"
	}
	return s
}
