package bundle

import (
	"context"
	"testing"
	"time"

	"github.com/murmurhq/murmur/internal/chat"
)

func msg(conv, sender, text string) chat.Inbound {
	return chat.Inbound{ConversationID: conv, SenderID: sender, Text: text}
}

// backdate rewrites the open bundle's timestamps so sweep can be driven
// deterministically without sleeping through real windows.
func backdate(c *Collector, conv, sender string, openedAgo, lastAgo time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := c.open[key{conversation: conv, sender: sender}]
	now := time.Now()
	o.openedAt = now.Add(-openedAgo)
	o.lastAt = now.Add(-lastAgo)
}

func drain(t *testing.T, c *Collector) *Bundle {
	t.Helper()
	select {
	case b := <-c.out:
		return b
	default:
		return nil
	}
}

func TestQuietWindowClosesBundle(t *testing.T) {
	c := NewCollector(2*time.Second, time.Minute, nil)

	c.Add(msg("conv", "alice", "first"))
	c.Add(msg("conv", "alice", "second"))

	c.sweep(time.Now())
	if b := drain(t, c); b != nil {
		t.Fatal("bundle closed before quiet window elapsed")
	}

	backdate(c, "conv", "alice", 3*time.Second, 3*time.Second)
	c.sweep(time.Now())

	b := drain(t, c)
	if b == nil {
		t.Fatal("bundle not closed after quiet window")
	}
	if len(b.Messages) != 2 {
		t.Errorf("messages: got %d, want 2", len(b.Messages))
	}
	if got := b.Text(); got != "first\nsecond" {
		t.Errorf("text: got %q", got)
	}
}

func TestMaxAgeForcesClose(t *testing.T) {
	c := NewCollector(10*time.Second, 30*time.Second, nil)

	c.Add(msg("conv", "alice", "chatty"))
	// Still active (last message just now), but past max age.
	backdate(c, "conv", "alice", 31*time.Second, 0)
	c.sweep(time.Now())

	if b := drain(t, c); b == nil {
		t.Fatal("aged bundle not force-closed")
	}
}

func TestKeysBundleIndependently(t *testing.T) {
	c := NewCollector(time.Second, time.Minute, nil)

	c.Add(msg("conv", "alice", "a"))
	c.Add(msg("conv", "bob", "b"))
	c.Add(msg("other", "alice", "c"))

	backdate(c, "conv", "alice", 2*time.Second, 2*time.Second)
	c.sweep(time.Now())

	b := drain(t, c)
	if b == nil {
		t.Fatal("want one closed bundle")
	}
	if b.SenderID != "alice" || b.ConversationID != "conv" || b.Text() != "a" {
		t.Errorf("wrong bundle closed: %+v", b)
	}
	if extra := drain(t, c); extra != nil {
		t.Errorf("unexpected second bundle: %+v", extra)
	}
}

func TestRunFlushesOnShutdown(t *testing.T) {
	c := NewCollector(time.Hour, time.Hour, nil)
	c.Add(msg("conv", "alice", "pending"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	var got []*Bundle
	for b := range c.Out() {
		got = append(got, b)
	}
	if len(got) != 1 || got[0].Text() != "pending" {
		t.Errorf("flush: got %+v", got)
	}
}

func TestBundleMentioned(t *testing.T) {
	b := &Bundle{Messages: []chat.Inbound{
		{Text: "hey"},
		{Text: "you there", Mentions: []string{"murmur"}},
	}}
	if !b.Mentioned("murmur") {
		t.Error("want mention detected")
	}
	if b.Mentioned("someone-else") {
		t.Error("false mention")
	}
}
