package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/murmurhq/murmur/internal/arggen"
	"github.com/murmurhq/murmur/internal/catalog"
	"github.com/murmurhq/murmur/internal/history"
	"github.com/murmurhq/murmur/internal/llm"
	"github.com/murmurhq/murmur/internal/plan"
)

// emptyArgsClient always returns an empty JSON object, satisfying any
// tool with no required fields.
type emptyArgsClient struct{}

func (emptyArgsClient) Chat(ctx context.Context, model string, messages []llm.Message) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "{}"}}, nil
}

func newTestExecutor(t *testing.T, cat *catalog.Catalog, maxRetries, maxParallel int) (*Executor, *history.Store) {
	t.Helper()
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return New(Config{
		Store:        store,
		Catalog:      cat,
		ArgGen:       arggen.New(emptyArgsClient{}, "test", nil),
		StepTimeout:  5 * time.Second,
		MaxRetries:   maxRetries,
		MaxParallel:  maxParallel,
		RetryBackoff: time.Millisecond,
	}), store
}

func mustPlan(t *testing.T, steps []*plan.Step) *plan.Plan {
	t.Helper()
	p, err := plan.New("test objective", steps)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDiamondRunsInDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	mark := func(name string) catalog.Handler {
		return func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return &catalog.Result{Data: name + " done"}, nil
		}
	}

	cat := catalog.New(
		&catalog.Tool{Name: "root", Invoke: mark("root")},
		&catalog.Tool{Name: "left", Invoke: mark("left")},
		&catalog.Tool{Name: "right", Invoke: mark("right")},
		&catalog.Tool{Name: "join", Invoke: mark("join")},
	)
	exec, store := newTestExecutor(t, cat, 0, 4)

	p := mustPlan(t, []*plan.Step{
		{ToolName: "root"},
		{ToolName: "left", DependsOn: []int{0}},
		{ToolName: "right", DependsOn: []int{0}},
		{ToolName: "join", DependsOn: []int{1, 2}},
	})

	runID := uuid.New()
	if err := exec.Execute(context.Background(), runID, 0, p); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !p.Succeeded() {
		t.Fatalf("plan not fully successful: %+v", statuses(p))
	}

	pos := make(map[string]int)
	for i, name := range order {
		pos[name] = i
	}
	if pos["root"] > pos["left"] || pos["root"] > pos["right"] {
		t.Errorf("root ran after a dependent: %v", order)
	}
	if pos["join"] < pos["left"] || pos["join"] < pos["right"] {
		t.Errorf("join ran before its dependencies: %v", order)
	}

	// Every step's success is durably recorded.
	results, err := store.Latest(runID, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		r, ok := results[i]
		if !ok || !r.Success {
			t.Errorf("step %d missing durable success record", i)
		}
	}
}

func TestFailureBlocksTransitiveDependents(t *testing.T) {
	cat := catalog.New(
		&catalog.Tool{Name: "boom", Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			return nil, errors.New("it broke")
		}},
		&catalog.Tool{Name: "ok", Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			return &catalog.Result{Data: "fine"}, nil
		}},
	)
	exec, _ := newTestExecutor(t, cat, 0, 2)

	p := mustPlan(t, []*plan.Step{
		{ToolName: "boom"},
		{ToolName: "ok", DependsOn: []int{0}},
		{ToolName: "ok", DependsOn: []int{1}},
		{ToolName: "ok"}, // independent branch keeps running
	})

	err := exec.Execute(context.Background(), uuid.New(), 0, p)
	if err == nil {
		t.Fatal("want error from failed plan")
	}

	want := []plan.Status{plan.StatusFailed, plan.StatusBlocked, plan.StatusBlocked, plan.StatusSuccess}
	for i, s := range p.Steps {
		if s.Status != want[i] {
			t.Errorf("step %d: got %q, want %q", i, s.Status, want[i])
		}
	}
}

func TestRetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	cat := catalog.New(
		&catalog.Tool{Name: "flaky", Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("transient glitch")
			}
			return &catalog.Result{Data: "recovered"}, nil
		}},
	)
	exec, store := newTestExecutor(t, cat, 2, 1)

	p := mustPlan(t, []*plan.Step{{ToolName: "flaky"}})
	runID := uuid.New()
	if err := exec.Execute(context.Background(), runID, 0, p); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("tool calls: got %d, want 2", got)
	}

	// Both attempts are in the history, failure first.
	all, err := store.List(runID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("recorded attempts: got %d, want 2", len(all))
	}
	if all[0].Success || !all[1].Success {
		t.Errorf("attempt outcomes: got (%v, %v), want (false, true)", all[0].Success, all[1].Success)
	}
}

func TestExhaustedRetriesFails(t *testing.T) {
	var calls atomic.Int32
	cat := catalog.New(
		&catalog.Tool{Name: "dead", Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			calls.Add(1)
			return nil, errors.New("always broken")
		}},
	)
	exec, _ := newTestExecutor(t, cat, 1, 1)

	p := mustPlan(t, []*plan.Step{{ToolName: "dead"}})
	err := exec.Execute(context.Background(), uuid.New(), 0, p)
	if err == nil {
		t.Fatal("want error after exhausted retries")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("tool calls: got %d, want 2 (initial + 1 retry)", got)
	}
	if p.Steps[0].Status != plan.StatusFailed {
		t.Errorf("status: got %q, want failed", p.Steps[0].Status)
	}
}

func TestParallelismBounded(t *testing.T) {
	const maxParallel = 2
	var inFlight, peak atomic.Int32

	cat := catalog.New(
		&catalog.Tool{Name: "slow", Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return &catalog.Result{Data: "done"}, nil
		}},
	)
	exec, _ := newTestExecutor(t, cat, 0, maxParallel)

	steps := make([]*plan.Step, 6)
	for i := range steps {
		steps[i] = &plan.Step{ToolName: "slow"}
	}
	p := mustPlan(t, steps)

	if err := exec.Execute(context.Background(), uuid.New(), 0, p); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := peak.Load(); got > maxParallel {
		t.Errorf("peak concurrency: got %d, want <= %d", got, maxParallel)
	}
}

func TestCancelledContextCancelsSteps(t *testing.T) {
	cat := catalog.New(
		&catalog.Tool{Name: "ok", Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			return &catalog.Result{Data: "fine"}, nil
		}},
	)
	exec, _ := newTestExecutor(t, cat, 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := mustPlan(t, []*plan.Step{{ToolName: "ok"}, {ToolName: "ok", DependsOn: []int{0}}})
	err := exec.Execute(ctx, uuid.New(), 0, p)
	if err == nil {
		t.Fatal("want error from cancelled run")
	}
	for i, s := range p.Steps {
		if s.Status != plan.StatusCancelled {
			t.Errorf("step %d: got %q, want cancelled", i, s.Status)
		}
	}
}

func statuses(p *plan.Plan) []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = fmt.Sprintf("%d=%s", i, s.Status)
	}
	return out
}
