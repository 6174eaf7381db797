package prompts

import (
	"fmt"
	"strings"
)

// planTemplate asks the model for a dependency-ordered step list.
// Inputs are the tool shortlist, the objective, and the maximum step
// count.
const planTemplate = `You plan tool invocations to satisfy an objective. Produce the smallest plan that works.

Available tools:
%s

Objective:
%s

Respond with ONLY a JSON array of steps, no prose:
[{"tool_name": "...", "reason": "why this step is needed", "depends_on": [indices of earlier steps whose output this step needs]}]

Rules:
- Steps are numbered from 0 in array order.
- depends_on may only reference EARLIER steps (smaller indices). Leave it empty for independent steps.
- Only use tool names from the list above.
- At most %d steps.`

// replanSuffix is appended when a previous plan attempt was rejected.
const replanSuffix = `

Your previous plan was rejected: %s
Produce a corrected plan.`

// historySection carries the executed prior cycle into a replan so the
// model does not regenerate the plan that already fell short.
const historySection = `

A previous plan was already executed but did not satisfy the objective.
Why it fell short: %s
What happened:
%s

Produce a different plan that addresses what went wrong. Do not repeat
steps whose results above already answer part of the objective.`

// PlanPrompt returns the plan generation prompt. history is the
// formatted prior-cycle section (empty on the first cycle); rejection
// is the reason the previous generation attempt was rejected.
func PlanPrompt(toolLines []string, objective string, maxSteps int, history, rejection string) string {
	p := fmt.Sprintf(planTemplate, strings.Join(toolLines, "\n"), objective, maxSteps)
	if history != "" {
		p += history
	}
	if rejection != "" {
		p += fmt.Sprintf(replanSuffix, rejection)
	}
	return p
}

// PlanHistory formats an executed cycle's verdict reason and step
// outcomes for inclusion in the next cycle's plan prompt.
func PlanHistory(reason string, outcomes []string) string {
	return fmt.Sprintf(historySection, reason, strings.Join(outcomes, "\n"))
}

// ToolLine formats one tool for a prompt shortlist.
func ToolLine(name, description string, required []string) string {
	if len(required) == 0 {
		return fmt.Sprintf("- %s: %s", name, description)
	}
	return fmt.Sprintf("- %s: %s (required args: %s)", name, description, strings.Join(required, ", "))
}
