// Package fault defines the error taxonomy shared by the planning and
// execution pipeline. Each type is matchable with errors.As so callers
// can branch on failure class without string inspection.
//
// Retry policy by class:
//   - ValidationError, DependencyError: never retried at the call site;
//     they force argument regeneration or replanning.
//   - ProviderError, TimeoutError: retried locally up to the configured
//     bound, then surface as ExhaustedRetriesError.
//   - CancellationError: terminal, recorded distinctly from failure.
package fault

import (
	"errors"
	"fmt"
)

// ValidationError indicates arguments that failed schema validation
// before dispatch. The tool was never invoked.
type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid arguments for %q: field %q: %s", e.Tool, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %q: %s", e.Tool, e.Reason)
}

// DependencyError indicates a malformed plan: a step referencing itself
// or a step at an equal or higher index.
type DependencyError struct {
	StepIndex int
	Ref       int
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("step %d has illegal dependency on step %d", e.StepIndex, e.Ref)
}

// ProviderError wraps a failure from an external collaborator
// (embedding, rerank, LLM, or tool invocation).
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TimeoutError indicates a per-step deadline expired. The step's own
// timeout is independent of any timeout the underlying call applies.
type TimeoutError struct {
	StepIndex int
	Tool      string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %d (%s) timed out", e.StepIndex, e.Tool)
}

// CancellationError indicates the run was cancelled while the step was
// pending or in flight. Distinct from failure: dependents are recorded
// as Cancelled, not Blocked.
type CancellationError struct {
	StepIndex int
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("step %d cancelled", e.StepIndex)
}

// ExhaustedRetriesError indicates a step failed every allowed attempt.
type ExhaustedRetriesError struct {
	StepIndex int
	Tool      string
	Attempts  int
	Last      error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("step %d (%s) failed after %d attempts: %v", e.StepIndex, e.Tool, e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() error { return e.Last }

// Retryable reports whether err belongs to a class that may succeed on
// a fresh attempt of the same call.
func Retryable(err error) bool {
	var ve *ValidationError
	var de *DependencyError
	var ce *CancellationError
	if errors.As(err, &ve) || errors.As(err, &de) || errors.As(err, &ce) {
		return false
	}
	return true
}
