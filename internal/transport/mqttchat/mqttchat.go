// Package mqttchat is the MQTT chat transport. Inbound messages arrive
// as JSON on murmur/<device>/chat/in, replies publish to
// murmur/<device>/chat/out/<conversation>. The connection is managed by
// autopaho, which reconnects and resubscribes automatically.
package mqttchat

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/murmurhq/murmur/internal/chat"
	"github.com/murmurhq/murmur/internal/config"
	"github.com/murmurhq/murmur/internal/events"
)

// Handler receives decoded inbound messages.
type Handler func(msg chat.Inbound)

// Transport manages the broker connection and message flow.
type Transport struct {
	cfg     config.MQTTConfig
	handler Handler
	bus     *events.Bus
	logger  *slog.Logger
	cm      *autopaho.ConnectionManager
}

// New creates a Transport but does not connect. Call [Transport.Start]
// to begin the connection.
func New(cfg config.MQTTConfig, handler Handler, bus *events.Bus, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:     cfg,
		handler: handler,
		bus:     bus,
		logger:  logger.With("component", "mqttchat"),
	}
}

// Start connects to the broker and subscribes to the inbound topic. It
// returns once the connection manager is running; reconnects happen in
// the background until ctx is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(t.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	inTopic := t.inboundTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: t.cfg.Username,
		ConnectPassword: []byte(t.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   t.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			t.logger.Info("mqtt connected to broker", "broker", t.cfg.Broker)
			// Resubscribe on every (re-)connect; subscriptions do not
			// survive a new session.
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: inTopic, QoS: 1},
				},
			}); err != nil {
				t.logger.Error("mqtt subscribe failed", "topic", inTopic, "error", err)
				return
			}
			t.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			t.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "murmur-" + t.cfg.DeviceName,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					t.receive(pr.Packet)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	t.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		t.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop publishes an offline availability message and disconnects.
func (t *Transport) Stop(ctx context.Context) error {
	if t.cm == nil {
		return nil
	}
	t.publishAvailability(ctx, t.cm, "offline")
	return t.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires.
func (t *Transport) AwaitConnection(ctx context.Context) error {
	if t.cm == nil {
		return fmt.Errorf("mqtt transport not started")
	}
	return t.cm.AwaitConnection(ctx)
}

// Send publishes a reply to the conversation's outbound topic.
func (t *Transport) Send(ctx context.Context, conversationID, content string) error {
	if t.cm == nil {
		return fmt.Errorf("mqtt transport not started")
	}

	payload, err := json.Marshal(outbound{
		ConversationID: conversationID,
		Text:           content,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}

	if _, err := t.cm.Publish(ctx, &paho.Publish{
		Topic:   t.outboundTopic(conversationID),
		Payload: payload,
		QoS:     1,
	}); err != nil {
		return fmt.Errorf("publish reply: %w", err)
	}

	t.bus.Publish(events.Event{
		Source: events.SourceTransport,
		Kind:   events.KindReplySent,
		Data: map[string]any{
			"conversation_id": conversationID,
			"length":          len(content),
		},
	})
	return nil
}

// outbound is the reply wire format.
type outbound struct {
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// receive decodes one inbound publish and hands it to the handler.
// Malformed payloads are logged and dropped; a bad message must not
// take down the subscription.
func (t *Transport) receive(pub *paho.Publish) {
	var msg chat.Inbound
	if err := json.Unmarshal(pub.Payload, &msg); err != nil {
		t.logger.Warn("dropping malformed chat message",
			"topic", pub.Topic, "error", err)
		return
	}
	if msg.Text == "" || msg.SenderID == "" {
		t.logger.Warn("dropping chat message with missing fields",
			"topic", pub.Topic)
		return
	}
	if msg.ConversationID == "" {
		msg.ConversationID = "default"
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	t.bus.Publish(events.Event{
		Source: events.SourceTransport,
		Kind:   events.KindMessageReceived,
		Data: map[string]any{
			"conversation_id": msg.ConversationID,
			"sender_id":       msg.SenderID,
			"message_len":     len(msg.Text),
		},
	})
	t.handler(msg)
}

func (t *Transport) baseTopic() string {
	return "murmur/" + t.cfg.DeviceName
}

func (t *Transport) inboundTopic() string {
	return t.baseTopic() + "/chat/in"
}

func (t *Transport) outboundTopic(conversationID string) string {
	return t.baseTopic() + "/chat/out/" + conversationID
}

func (t *Transport) availabilityTopic() string {
	return t.baseTopic() + "/availability"
}

func (t *Transport) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   t.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		t.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	}
}
