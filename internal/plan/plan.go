// Package plan defines the step DAG a run executes. Steps reference
// their dependencies by index, and construction enforces that every
// dependency index is strictly less than the step's own index, so a
// validated plan is acyclic without a separate cycle check.
package plan

import (
	"encoding/json"
	"fmt"

	"github.com/murmurhq/murmur/internal/fault"
)

// Status is the lifecycle state of one step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEligible  Status = "eligible"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// Step is one planned tool invocation.
type Step struct {
	Index     int    `json:"index"`
	ToolName  string `json:"tool_name"`
	Reason    string `json:"reason"`
	DependsOn []int  `json:"depends_on,omitempty"`
	Status    Status `json:"status"`
}

// Plan is a validated step DAG.
type Plan struct {
	Objective string  `json:"objective"`
	Steps     []*Step `json:"steps"`
}

// New validates raw steps and builds a plan. Every DependsOn entry
// must reference an earlier step (0 <= dep < step index); a violation
// is a *fault.DependencyError. Step indices are assigned positionally,
// overriding whatever the input carried.
func New(objective string, steps []*Step) (*Plan, error) {
	for i, s := range steps {
		s.Index = i
		if s.Status == "" {
			s.Status = StatusPending
		}
		for _, dep := range s.DependsOn {
			if dep < 0 || dep >= i {
				return nil, &fault.DependencyError{StepIndex: i, Ref: dep}
			}
		}
	}
	return &Plan{Objective: objective, Steps: steps}, nil
}

// Len returns the number of steps.
func (p *Plan) Len() int { return len(p.Steps) }

// Ancestors returns the full transitive dependency closure of step
// index, as a set of step indices. The step itself is not included.
func (p *Plan) Ancestors(index int) map[int]bool {
	closure := make(map[int]bool)
	var walk func(i int)
	walk = func(i int) {
		for _, dep := range p.Steps[i].DependsOn {
			if !closure[dep] {
				closure[dep] = true
				walk(dep)
			}
		}
	}
	walk(index)
	return closure
}

// Dependents returns the indices of steps that list index as a direct
// dependency.
func (p *Plan) Dependents(index int) []int {
	var out []int
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if dep == index {
				out = append(out, s.Index)
				break
			}
		}
	}
	return out
}

// AllTerminal reports whether every step has reached a terminal status.
func (p *Plan) AllTerminal() bool {
	for _, s := range p.Steps {
		if !s.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Succeeded reports whether every step finished with StatusSuccess.
func (p *Plan) Succeeded() bool {
	for _, s := range p.Steps {
		if s.Status != StatusSuccess {
			return false
		}
	}
	return true
}

// Marshal serializes the plan for durable storage.
func (p *Plan) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal restores a plan from its serialized form, re-running
// construction validation.
func Unmarshal(data []byte) (*Plan, error) {
	var raw Plan
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return New(raw.Objective, raw.Steps)
}
