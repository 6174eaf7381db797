// Package bundle groups inbound chat messages into time-windowed
// bundles. Messages from the same (conversation, sender) arriving
// within the quiet window extend the open bundle; a bundle closes when
// the window elapses with no new message, or unconditionally once it
// reaches the maximum age. Closed bundles are immutable and feed the
// reply policy as single decision units.
package bundle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/murmurhq/murmur/internal/chat"
)

// Bundle is a closed group of messages treated as one decision unit.
type Bundle struct {
	ConversationID string
	SenderID       string
	Messages       []chat.Inbound
	OpenedAt       time.Time
	Deadline       time.Time // OpenedAt + max age
}

// Text joins the bundled message texts in arrival order.
func (b *Bundle) Text() string {
	switch len(b.Messages) {
	case 0:
		return ""
	case 1:
		return b.Messages[0].Text
	}
	var s string
	for i, m := range b.Messages {
		if i > 0 {
			s += "\n"
		}
		s += m.Text
	}
	return s
}

// Mentioned reports whether any bundled message mentions self.
func (b *Bundle) Mentioned(self string) bool {
	for _, m := range b.Messages {
		if m.Mentioned(self) {
			return true
		}
	}
	return false
}

type key struct {
	conversation string
	sender       string
}

type open struct {
	messages []chat.Inbound
	openedAt time.Time
	lastAt   time.Time
}

// Collector accumulates inbound messages and emits closed bundles.
type Collector struct {
	window time.Duration
	maxAge time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	open map[key]*open

	out chan *Bundle
}

// sweepInterval bounds how stale a closeable bundle can sit before the
// sweep notices it. Kept well under any sane window setting.
const sweepInterval = 200 * time.Millisecond

// NewCollector creates a collector. window is the quiet period that
// closes a bundle; maxAge force-closes regardless of activity.
func NewCollector(window, maxAge time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		window: window,
		maxAge: maxAge,
		logger: logger.With("component", "bundler"),
		open:   make(map[key]*open),
		out:    make(chan *Bundle, 16),
	}
}

// Out returns the channel of closed bundles.
func (c *Collector) Out() <-chan *Bundle {
	return c.out
}

// Add records an inbound message, opening a bundle for its key if none
// is open.
func (c *Collector) Add(m chat.Inbound) {
	now := time.Now()
	k := key{conversation: m.ConversationID, sender: m.SenderID}

	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.open[k]
	if !ok {
		o = &open{openedAt: now}
		c.open[k] = o
	}
	o.messages = append(o.messages, m)
	o.lastAt = now
}

// Run sweeps open bundles until ctx is cancelled, then flushes whatever
// remains open and closes the output channel.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flushAll()
			close(c.out)
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

// sweep closes every bundle whose quiet window elapsed or whose max age
// was reached.
func (c *Collector) sweep(now time.Time) {
	var closed []*Bundle

	c.mu.Lock()
	for k, o := range c.open {
		quiet := now.Sub(o.lastAt) >= c.window
		aged := now.Sub(o.openedAt) >= c.maxAge
		if !quiet && !aged {
			continue
		}
		closed = append(closed, c.seal(k, o))
		delete(c.open, k)
	}
	c.mu.Unlock()

	for _, b := range closed {
		c.emit(b)
	}
}

func (c *Collector) flushAll() {
	c.mu.Lock()
	var closed []*Bundle
	for k, o := range c.open {
		closed = append(closed, c.seal(k, o))
		delete(c.open, k)
	}
	c.mu.Unlock()

	for _, b := range closed {
		c.emit(b)
	}
}

// seal converts an open bundle into its immutable closed form. Caller
// holds the mutex.
func (c *Collector) seal(k key, o *open) *Bundle {
	msgs := make([]chat.Inbound, len(o.messages))
	copy(msgs, o.messages)
	return &Bundle{
		ConversationID: k.conversation,
		SenderID:       k.sender,
		Messages:       msgs,
		OpenedAt:       o.openedAt,
		Deadline:       o.openedAt.Add(c.maxAge),
	}
}

func (c *Collector) emit(b *Bundle) {
	select {
	case c.out <- b:
	default:
		// Consumer is stalled. Dropping a bundle is preferable to
		// blocking the sweep loop; the sender will usually repeat.
		c.logger.Warn("bundle dropped, consumer backlogged",
			"conversation", b.ConversationID,
			"sender", b.SenderID,
			"messages", len(b.Messages),
		)
	}
}
