package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/murmurhq/murmur/internal/events"
)

type fakeState struct {
	snapshot map[string]any
}

func (f *fakeState) Snapshot() map[string]any {
	out := make(map[string]any, len(f.snapshot))
	for k, v := range f.snapshot {
		out[k] = v
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	s := New("", 0, events.New(), nil, nil)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body: %v", body)
	}
	if _, ok := body["uptime"]; !ok {
		t.Error("uptime missing")
	}
}

func TestStateEndpoint(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe(1)
	defer bus.Unsubscribe(sub)

	s := New("", 0, bus, &fakeState{snapshot: map[string]any{"runs_started": 3}}, nil)

	rec := httptest.NewRecorder()
	s.handleState(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["runs_started"] != float64(3) {
		t.Errorf("snapshot lost: %v", body)
	}
	if body["event_subscribers"] != float64(1) {
		t.Errorf("subscribers: %v", body["event_subscribers"])
	}
	if _, ok := body["build"]; !ok {
		t.Error("build info missing")
	}
}

func TestStateEndpointWithoutSource(t *testing.T) {
	s := New("", 0, events.New(), nil, nil)

	rec := httptest.NewRecorder()
	s.handleState(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status: got %d", rec.Code)
	}
}

func TestEventsStreamOverWebSocket(t *testing.T) {
	bus := events.New()
	s := New("", 0, bus, nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(s.handleEvents))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// The subscription is registered during the upgrade handshake; wait
	// for it before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(events.Event{Source: events.SourcePipeline, Kind: events.KindJudge})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != events.KindJudge || got.Source != events.SourcePipeline {
		t.Errorf("event: %+v", got)
	}
}
