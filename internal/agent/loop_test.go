package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/murmurhq/murmur/internal/affect"
	"github.com/murmurhq/murmur/internal/arggen"
	"github.com/murmurhq/murmur/internal/bundle"
	"github.com/murmurhq/murmur/internal/catalog"
	"github.com/murmurhq/murmur/internal/chat"
	"github.com/murmurhq/murmur/internal/evaluator"
	"github.com/murmurhq/murmur/internal/executor"
	"github.com/murmurhq/murmur/internal/history"
	"github.com/murmurhq/murmur/internal/llm"
	"github.com/murmurhq/murmur/internal/planner"
	"github.com/murmurhq/murmur/internal/policy"
	"github.com/murmurhq/murmur/internal/retrieval"
	"github.com/murmurhq/murmur/internal/run"
	"github.com/murmurhq/murmur/internal/summarizer"
)

type fixedClient struct {
	response string
}

func (c fixedClient) Chat(ctx context.Context, model string, messages []llm.Message) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: c.response}}, nil
}

type zeroEmbedder struct{}

func (zeroEmbedder) Model() string { return "fake" }

func (zeroEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

type recordingSender struct {
	mu    sync.Mutex
	sends []string
}

func (s *recordingSender) Send(ctx context.Context, conversationID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, content)
	return nil
}

func (s *recordingSender) replies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sends...)
}

// newDirectReplyLoop wires a loop whose pipeline always answers without
// tools, so a test exercises bundling, gating, and reply delivery.
func newDirectReplyLoop(t *testing.T, sender chat.Sender) (*Loop, *bundle.Collector, *policy.Scheduler) {
	t.Helper()
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cat := catalog.New(&catalog.Tool{
		Name: "echo",
		Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			return &catalog.Result{Data: "echoed"}, nil
		},
	})
	judge := fixedClient{response: `{"needs_tools": false, "reply": "direct answer", "estimated_operations": 0}`}

	pipeline := run.New(run.Config{
		Retrieval:  retrieval.New(retrieval.Config{Catalog: cat, Embedder: zeroEmbedder{}}),
		Planner:    planner.New(judge, "test", nil),
		Executor: executor.New(executor.Config{
			Store:        store,
			Catalog:      cat,
			ArgGen:       arggen.New(fixedClient{response: "{}"}, "test", nil),
			StepTimeout:  time.Second,
			MaxParallel:  1,
			RetryBackoff: time.Millisecond,
		}),
		Evaluator:  evaluator.New(judge, "test", nil),
		Summarizer: summarizer.New(judge, "test", nil),
		Store:      store,
	})

	scheduler := policy.NewScheduler(policy.Config{
		ReplyThreshold: 0.01,
		MaxConcurrent:  2,
		SelfID:         "murmur",
	}, nil, nil, nil)
	bundler := bundle.NewCollector(10*time.Millisecond, time.Second, nil)

	return New(bundler, scheduler, affect.NewTracker(), pipeline, sender, nil), bundler, scheduler
}

func TestLoopDeliversReply(t *testing.T) {
	sender := &recordingSender{}
	loop, bundler, scheduler := newDirectReplyLoop(t, sender)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); bundler.Run(ctx) }()
	go func() { defer wg.Done(); loop.Run(ctx) }()

	// A mention guarantees the probability gate opens.
	loop.Receive(chat.Inbound{
		ConversationID: "conv",
		SenderID:       "alice",
		Text:           "hey, you there?",
		Mentions:       []string{"murmur"},
	})

	deadline := time.Now().Add(5 * time.Second)
	for len(sender.replies()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no reply delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	got := sender.replies()
	if len(got) != 1 || got[0] != "direct answer" {
		t.Errorf("replies: %v", got)
	}

	// The in-flight slot was released after the run.
	if n := scheduler.InFlight("conv", "alice"); n != 0 {
		t.Errorf("in-flight after run: got %d, want 0", n)
	}

	snap := loop.Snapshot()
	if snap["runs_started"] != int64(1) || snap["runs_finished"] != int64(1) {
		t.Errorf("snapshot: %v", snap)
	}
}
