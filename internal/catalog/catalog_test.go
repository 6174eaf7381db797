package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/murmurhq/murmur/internal/fault"
)

func noop(ctx context.Context, args map[string]any) (*Result, error) {
	return &Result{}, nil
}

func TestCatalogLookupAndOrder(t *testing.T) {
	c := New(
		&Tool{Name: "alpha", Invoke: noop},
		&Tool{Name: "beta", Invoke: noop},
		&Tool{Name: "gamma", Invoke: noop},
	)

	if c.Len() != 3 {
		t.Fatalf("len: got %d, want 3", c.Len())
	}
	if !c.Has("beta") || c.Has("delta") {
		t.Error("Has gave wrong answers")
	}

	tool, err := c.Get("gamma")
	if err != nil {
		t.Fatal(err)
	}
	if tool.Name != "gamma" {
		t.Errorf("got %q", tool.Name)
	}

	_, err = c.Get("delta")
	var unknown *ErrUnknownTool
	if !errors.As(err, &unknown) || unknown.Name != "delta" {
		t.Errorf("want ErrUnknownTool for delta, got %v", err)
	}

	// Registration order is the ranking tie-break; List must preserve it.
	want := []string{"alpha", "beta", "gamma"}
	for i, tool := range c.List() {
		if tool.Name != want[i] {
			t.Errorf("order[%d]: got %q, want %q", i, tool.Name, want[i])
		}
	}
}

func TestCatalogPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate registration should panic")
		}
	}()
	New(
		&Tool{Name: "dup", Invoke: noop},
		&Tool{Name: "dup", Invoke: noop},
	)
}

func TestRelevanceText(t *testing.T) {
	withRel := &Tool{Name: "a", Description: "desc", Relevance: "rel"}
	if got := withRel.RelevanceText(); got != "a: rel" {
		t.Errorf("got %q", got)
	}
	withoutRel := &Tool{Name: "b", Description: "desc"}
	if got := withoutRel.RelevanceText(); got != "b: desc" {
		t.Errorf("got %q", got)
	}
}

func TestValidateArgs(t *testing.T) {
	tool := &Tool{
		Name: "probe",
		Schema: Schema{
			Required: []string{"target"},
			Properties: map[string]Property{
				"target": {Type: "string"},
				"count":  {Type: "integer"},
				"ratio":  {Type: "number"},
				"deep":   {Type: "boolean"},
				"tags":   {Type: "array", Items: &PropertyItems{Type: "string"}},
				"mode":   {Type: "string", Enum: []any{"fast", "slow"}},
			},
		},
	}

	cases := []struct {
		name  string
		args  map[string]any
		field string // expected failing field; "" means valid
	}{
		{"valid minimal", map[string]any{"target": "x"}, ""},
		{"valid full", map[string]any{
			"target": "x", "count": float64(3), "ratio": 1.5,
			"deep": true, "tags": []any{"a", "b"}, "mode": "fast",
		}, ""},
		{"missing required", map[string]any{"count": float64(1)}, "target"},
		{"undeclared field", map[string]any{"target": "x", "bogus": 1}, "bogus"},
		{"wrong type", map[string]any{"target": 7}, "target"},
		{"fractional integer", map[string]any{"target": "x", "count": 1.5}, "count"},
		{"whole float integer ok", map[string]any{"target": "x", "count": 2.0}, ""},
		{"bad array element", map[string]any{"target": "x", "tags": []any{"a", 3}}, "tags"},
		{"enum violation", map[string]any{"target": "x", "mode": "turbo"}, "mode"},
		{"null value", map[string]any{"target": nil}, "target"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tool.ValidateArgs(tc.args)
			if tc.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *fault.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("want ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Errorf("field: got %q, want %q", ve.Field, tc.field)
			}
		})
	}
}
