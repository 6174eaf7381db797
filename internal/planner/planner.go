// Package planner implements the judge and plan generation stages.
// The judge decides whether a message needs tools at all; plan
// generation turns an objective plus a ranked tool shortlist into a
// validated step DAG, regenerating a bounded number of times when the
// model produces an invalid plan.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/murmurhq/murmur/internal/catalog"
	"github.com/murmurhq/murmur/internal/fault"
	"github.com/murmurhq/murmur/internal/llm"
	"github.com/murmurhq/murmur/internal/plan"
	"github.com/murmurhq/murmur/internal/prompts"
)

// maxPlanAttempts bounds regeneration when the model keeps producing
// invalid plans.
const maxPlanAttempts = 3

// minStepCap is the floor for the step budget even when the judge
// estimates a single operation.
const minStepCap = 2

// Judgment is the judge stage outcome.
type Judgment struct {
	NeedsTools          bool   `json:"needs_tools"`
	Reply               string `json:"reply"`
	EstimatedOperations int    `json:"estimated_operations"`
}

// Planner drives the judge and plan stages.
type Planner struct {
	client llm.Client
	model  string
	log    *slog.Logger
}

// New creates a planner.
func New(client llm.Client, model string, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{client: client, model: model, log: log}
}

// Judge decides whether objective needs tool use. shortlist is the
// ranked tool shortlist for the objective.
func (p *Planner) Judge(ctx context.Context, objective string, shortlist []*catalog.Tool) (*Judgment, error) {
	prompt := prompts.JudgePrompt(toolLines(shortlist), objective)

	resp, err := p.client.Chat(ctx, p.model, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}

	var j Judgment
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Message.Content)), &j); err != nil {
		return nil, fmt.Errorf("judge: parse verdict: %w", err)
	}

	if j.EstimatedOperations < 1 {
		j.EstimatedOperations = 1
	}
	if len(shortlist) == 0 {
		// Nothing to plan with regardless of what the model thinks.
		j.NeedsTools = false
	}
	return &j, nil
}

// Feedback carries an executed cycle's outcome into the next plan
// generation, so a replan sees what already ran and why it fell short.
type Feedback struct {
	// Reason is the evaluator's explanation for the replan verdict.
	Reason string
	// Outcomes are the formatted step results of the executed plan.
	Outcomes []string
}

// Plan generates a validated plan for objective using the shortlist.
// The step count is capped at twice the judge's estimate so a runaway
// model cannot schedule unbounded work. Invalid output (unknown tools,
// forward dependencies, unparseable JSON) triggers regeneration with
// the rejection reason, up to maxPlanAttempts. prior is nil on the
// first cycle; on a replan it holds the executed cycle's outcome.
func (p *Planner) Plan(ctx context.Context, objective string, shortlist []*catalog.Tool, estimatedOps int, prior *Feedback) (*plan.Plan, error) {
	if estimatedOps < 1 {
		estimatedOps = 1
	}
	stepCap := estimatedOps * 2
	if stepCap < minStepCap {
		stepCap = minStepCap
	}

	lines := toolLines(shortlist)
	allowed := make(map[string]bool, len(shortlist))
	for _, t := range shortlist {
		allowed[t.Name] = true
	}

	history := ""
	if prior != nil {
		history = prompts.PlanHistory(prior.Reason, prior.Outcomes)
	}

	rejection := ""
	var lastErr error
	for attempt := 1; attempt <= maxPlanAttempts; attempt++ {
		prompt := prompts.PlanPrompt(lines, objective, stepCap, history, rejection)

		resp, err := p.client.Chat(ctx, p.model, []llm.Message{
			{Role: "user", Content: prompt},
		})
		if err != nil {
			return nil, fmt.Errorf("plan: %w", err)
		}

		pl, err := p.parse(objective, resp.Message.Content, allowed, stepCap)
		if err == nil {
			return pl, nil
		}

		lastErr = err
		rejection = err.Error()
		p.log.Debug("plan rejected, regenerating",
			"attempt", attempt, "reason", rejection)
	}

	return nil, fmt.Errorf("plan: no valid plan after %d attempts: %w", maxPlanAttempts, lastErr)
}

func (p *Planner) parse(objective, content string, allowed map[string]bool, stepCap int) (*plan.Plan, error) {
	var raw []struct {
		ToolName  string `json:"tool_name"`
		Reason    string `json:"reason"`
		DependsOn []int  `json:"depends_on"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &raw); err != nil {
		return nil, fmt.Errorf("parse steps: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	if len(raw) > stepCap {
		return nil, fmt.Errorf("plan has %d steps, limit is %d", len(raw), stepCap)
	}

	steps := make([]*plan.Step, len(raw))
	for i, r := range raw {
		if !allowed[r.ToolName] {
			return nil, &catalog.ErrUnknownTool{Name: r.ToolName}
		}
		steps[i] = &plan.Step{
			ToolName:  r.ToolName,
			Reason:    r.Reason,
			DependsOn: r.DependsOn,
		}
	}

	pl, err := plan.New(objective, steps)
	if err != nil {
		var depErr *fault.DependencyError
		if errors.As(err, &depErr) {
			return nil, fmt.Errorf("step %d depends on step %d, which is not an earlier step",
				depErr.StepIndex, depErr.Ref)
		}
		return nil, err
	}
	return pl, nil
}

func toolLines(tools []*catalog.Tool) []string {
	lines := make([]string, len(tools))
	for i, t := range tools {
		lines[i] = prompts.ToolLine(t.Name, t.Description, t.Schema.Required)
	}
	return lines
}
