package prompts

import (
	"fmt"
	"strings"
)

// argsTemplate asks the model to fill a tool's arguments. Inputs are
// the objective, the step reason, the tool name, the JSON schema, and
// the ancestor results block.
const argsTemplate = `You fill in the arguments for one tool invocation inside a larger plan.

Objective: %s
This step: %s (tool: %s)

Argument schema:
%s
%s
Respond with ONLY a JSON object containing the arguments, no prose.`

// ancestorSection carries results from dependency steps.
const ancestorSection = `
Results from earlier steps this one depends on:
%s
`

// retrySection carries this step's own failed attempt so the model can
// correct it.
const retrySection = `
The previous attempt of THIS step failed:
%s
Adjust the arguments to avoid the same failure.
`

// ArgsPrompt returns the argument generation prompt. ancestors holds
// formatted dependency results; lastFailure is non-empty on a retry.
func ArgsPrompt(objective, reason, tool, schemaJSON string, ancestors []string, lastFailure string) string {
	var ctx strings.Builder
	if len(ancestors) > 0 {
		ctx.WriteString(fmt.Sprintf(ancestorSection, strings.Join(ancestors, "\n")))
	}
	if lastFailure != "" {
		ctx.WriteString(fmt.Sprintf(retrySection, lastFailure))
	}
	return fmt.Sprintf(argsTemplate, objective, reason, tool, schemaJSON, ctx.String())
}
