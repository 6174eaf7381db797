package plan

import (
	"errors"
	"testing"

	"github.com/murmurhq/murmur/internal/fault"
)

func TestNewRejectsForwardDependency(t *testing.T) {
	cases := []struct {
		name  string
		steps []*Step
		bad   bool
	}{
		{
			name: "valid chain",
			steps: []*Step{
				{ToolName: "a"},
				{ToolName: "b", DependsOn: []int{0}},
				{ToolName: "c", DependsOn: []int{0, 1}},
			},
		},
		{
			name: "self reference",
			steps: []*Step{
				{ToolName: "a", DependsOn: []int{0}},
			},
			bad: true,
		},
		{
			name: "forward reference",
			steps: []*Step{
				{ToolName: "a", DependsOn: []int{1}},
				{ToolName: "b"},
			},
			bad: true,
		},
		{
			name: "negative reference",
			steps: []*Step{
				{ToolName: "a"},
				{ToolName: "b", DependsOn: []int{-1}},
			},
			bad: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("objective", tc.steps)
			if tc.bad {
				var depErr *fault.DependencyError
				if !errors.As(err, &depErr) {
					t.Fatalf("want DependencyError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNewAssignsIndicesAndStatus(t *testing.T) {
	p, err := New("obj", []*Step{
		{ToolName: "a", Index: 99},
		{ToolName: "b", DependsOn: []int{0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	for i, s := range p.Steps {
		if s.Index != i {
			t.Errorf("step %d: got index %d", i, s.Index)
		}
		if s.Status != StatusPending {
			t.Errorf("step %d: got status %q, want pending", i, s.Status)
		}
	}
}

func TestAncestorsUnionsBranches(t *testing.T) {
	// Diamond plus a tail:
	//   0   1
	//    \ /
	//     2     3 (independent)
	//     |
	//     4 depends on 2 and 3
	p, err := New("obj", []*Step{
		{ToolName: "a"},
		{ToolName: "b"},
		{ToolName: "c", DependsOn: []int{0, 1}},
		{ToolName: "d"},
		{ToolName: "e", DependsOn: []int{2, 3}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := p.Ancestors(4)
	want := map[int]bool{0: true, 1: true, 2: true, 3: true}
	if len(got) != len(want) {
		t.Fatalf("got closure %v, want %v", got, want)
	}
	for i := range want {
		if !got[i] {
			t.Errorf("closure missing step %d", i)
		}
	}

	// Independent branch 3 never appears in the closure of step 2.
	if c := p.Ancestors(2); c[3] {
		t.Errorf("step 3 leaked into closure of step 2: %v", c)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusSuccess, StatusFailed, StatusBlocked, StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%q should be terminal", s)
		}
	}
	live := []Status{StatusPending, StatusEligible, StatusRunning}
	for _, s := range live {
		if s.IsTerminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	p, err := New("check the weather", []*Step{
		{ToolName: "weather_lookup", Reason: "get conditions"},
		{ToolName: "clock", DependsOn: []int{0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	p.Steps[0].Status = StatusSuccess

	data, err := p.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Objective != p.Objective {
		t.Errorf("objective: got %q, want %q", got.Objective, p.Objective)
	}
	if got.Steps[0].Status != StatusSuccess {
		t.Errorf("status not preserved: got %q", got.Steps[0].Status)
	}
	if got.Steps[1].DependsOn[0] != 0 {
		t.Errorf("depends_on not preserved: %v", got.Steps[1].DependsOn)
	}
}

func TestDependents(t *testing.T) {
	p, err := New("obj", []*Step{
		{ToolName: "a"},
		{ToolName: "b", DependsOn: []int{0}},
		{ToolName: "c", DependsOn: []int{0}},
		{ToolName: "d", DependsOn: []int{1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := p.Dependents(0)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("dependents of 0: got %v, want [1 2]", got)
	}
	if got := p.Dependents(3); got != nil {
		t.Errorf("dependents of 3: got %v, want none", got)
	}
}
