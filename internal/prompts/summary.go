package prompts

import (
	"fmt"
	"strings"
)

// summaryTemplate asks the model to compose the user-facing reply from
// the run's results. Inputs are the objective and the result block.
const summaryTemplate = `You compose a chat reply from the results of tool invocations.

The user asked: %s

What happened:
%s

Write a natural conversational reply. Rules:
- Answer the question directly using the tool results.
- If some steps failed, say honestly what could not be done and why, and include any guidance the tools offered.
- Never invent data the tools did not return.
- No preamble, no meta commentary about tools or plans.`

// SummaryPrompt returns the reply composition prompt.
func SummaryPrompt(objective string, outcomes []string) string {
	return fmt.Sprintf(summaryTemplate, objective, strings.Join(outcomes, "\n"))
}
