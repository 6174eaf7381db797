package prompts

import (
	"fmt"
	"strings"
)

// judgeTemplate asks the model whether a message needs tool use at
// all. Inputs are the tool shortlist, then the message text.
const judgeTemplate = `You decide whether answering a chat message requires using tools.

Available tools:
%s

Message:
%s

Respond with ONLY a JSON object, no prose:
{"needs_tools": true/false, "reply": "direct answer if no tools are needed, else empty", "estimated_operations": N}

Rules:
- needs_tools is true only when the answer depends on information or actions a listed tool provides.
- When needs_tools is false, reply must contain a complete conversational answer.
- estimated_operations is your rough count of tool invocations needed (1-10).`

// JudgePrompt returns the tool-necessity prompt for a message.
func JudgePrompt(toolLines []string, message string) string {
	tools := "(none)"
	if len(toolLines) > 0 {
		tools = strings.Join(toolLines, "\n")
	}
	return fmt.Sprintf(judgeTemplate, tools, message)
}
