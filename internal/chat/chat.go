// Package chat defines transport-neutral chat message types. Concrete
// transports (MQTT today) decode their wire format into these types and
// hand them to the bundler; the pipeline sends replies back through the
// Sender interface without knowing the transport.
package chat

import (
	"context"
	"time"
)

// Inbound is a single received chat message.
type Inbound struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	Mentions       []string  `json:"mentions,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Mentioned reports whether the agent identity appears in the message's
// mention list.
func (m Inbound) Mentioned(self string) bool {
	for _, id := range m.Mentions {
		if id == self {
			return true
		}
	}
	return false
}

// Sender delivers an outbound reply to a conversation.
type Sender interface {
	Send(ctx context.Context, conversationID, content string) error
}
