// Package catalog defines the tool descriptor registry. Tools are
// registered capability values, not subclasses: each carries a name,
// a parameter schema, relevance text for ranking, and an invoke
// function with a uniform result contract.
package catalog

import (
	"context"
	"fmt"
)

// Property describes a single parameter for schema validation.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array").
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// Schema defines the expected arguments for a tool.
type Schema struct {
	Required   []string            `json:"required,omitempty"`
	Properties map[string]Property `json:"properties"`
}

// Result is the uniform tool invocation outcome. Advice is optional
// user-facing guidance a tool may attach, on success or failure.
type Result struct {
	Data   string
	Advice string
}

// Handler executes a tool with validated arguments. A non-nil error
// marks the attempt failed; any Result returned alongside an error may
// still carry advice worth surfacing.
type Handler func(ctx context.Context, args map[string]any) (*Result, error)

// Tool is one registered capability.
type Tool struct {
	// Name is the unique identifier used in plans.
	Name string
	// Description explains what the tool does, for the planner.
	Description string
	// Relevance is the text embedded for retrieval ranking.
	Relevance string
	// Scope is an optional tenant tag; empty means globally available.
	Scope string
	// Schema defines the expected arguments.
	Schema Schema
	// Invoke runs the tool.
	Invoke Handler
}

// RelevanceText returns the text embedded for coarse ranking.
func (t *Tool) RelevanceText() string {
	if t.Relevance != "" {
		return t.Name + ": " + t.Relevance
	}
	return t.Name + ": " + t.Description
}

// ErrUnknownTool is returned when a plan references a tool that is not
// registered.
type ErrUnknownTool struct {
	Name string
}

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// Catalog holds the registered tools in registration order. The order
// is the stable tie-break for retrieval ranking. A Catalog is immutable
// after construction; concurrent reads need no locking.
type Catalog struct {
	byName map[string]*Tool
	order  []*Tool
}

// New builds a catalog from the given tools. Duplicate names are a
// programming error and panic at startup.
func New(tools ...*Tool) *Catalog {
	c := &Catalog{byName: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if t.Name == "" || t.Invoke == nil {
			panic(fmt.Sprintf("catalog: tool %+v missing name or handler", t))
		}
		if _, dup := c.byName[t.Name]; dup {
			panic(fmt.Sprintf("catalog: duplicate tool %q", t.Name))
		}
		c.byName[t.Name] = t
		c.order = append(c.order, t)
	}
	return c
}

// Get returns the tool by name, or an ErrUnknownTool.
func (c *Catalog) Get(name string) (*Tool, error) {
	t, ok := c.byName[name]
	if !ok {
		return nil, &ErrUnknownTool{Name: name}
	}
	return t, nil
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// List returns the tools in registration order. Callers must not
// mutate the returned slice.
func (c *Catalog) List() []*Tool {
	return c.order
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	return len(c.order)
}
