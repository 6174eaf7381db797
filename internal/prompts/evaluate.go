package prompts

import (
	"fmt"
	"strings"
)

// evaluateTemplate asks the model whether the executed plan satisfied
// the objective. Inputs are the objective and the result block.
const evaluateTemplate = `You judge whether an executed plan satisfied its objective.

Objective: %s

Step outcomes:
%s

Respond with ONLY a JSON object, no prose:
{"verdict": "accept" | "replan" | "fail", "reason": "one sentence"}

Rules:
- accept: the results answer the objective, even partially if the gaps are minor.
- replan: the results miss the objective but a different plan could succeed.
- fail: no plan with the available tools can satisfy the objective.`

// EvaluatePrompt returns the plan evaluation prompt.
func EvaluatePrompt(objective string, outcomes []string) string {
	return fmt.Sprintf(evaluateTemplate, objective, strings.Join(outcomes, "\n"))
}
