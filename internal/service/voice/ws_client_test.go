package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type gateway struct {
	server   *httptest.Server
	commands chan command
	auth     chan string
	conns    chan *websocket.Conn
}

func newGateway(t *testing.T) *gateway {
	t.Helper()

	g := &gateway{
		commands: make(chan command, 8),
		auth:     make(chan string, 1),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}

	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		g.conns <- conn
		for {
			var cmd command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			g.commands <- cmd
		}
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *gateway) url() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestWSClientRoundTrip(t *testing.T) {
	g := newGateway(t)

	client := NewWSClient(WSOptions{URL: g.url(), PublicKey: "pk_test"}, nil)
	events := make(chan Event, 4)
	client.Subscribe(EventReady, func(ev Event) { events <- ev })
	client.Subscribe(EventError, func(ev Event) { events <- ev })
	client.Subscribe(EventEnded, func(ev Event) { events <- ev })

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()

	if auth := <-g.auth; auth != "Bearer pk_test" {
		t.Fatalf("expected bearer header, got %q", auth)
	}
	server := <-g.conns

	if err := server.WriteJSON(Event{Type: EventReady}); err != nil {
		t.Fatalf("write ready: %v", err)
	}
	if ev := waitEvent(t, events); ev.Type != EventReady {
		t.Fatalf("expected ready event, got %+v", ev)
	}

	if err := client.Start(context.Background(), StartOptions{APIKey: "pk_test", AssistantID: "asst_1"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	cmd := <-g.commands
	if cmd.Type != "start" || cmd.APIKey != "pk_test" || cmd.AssistantID != "asst_1" {
		t.Fatalf("unexpected start command: %+v", cmd)
	}

	if err := server.WriteJSON(Event{Type: EventError, Message: "Assistant not found"}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if ev := waitEvent(t, events); ev.Type != EventError || ev.Message != "Assistant not found" {
		t.Fatalf("unexpected error event: %+v", ev)
	}

	if err := client.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if cmd := <-g.commands; cmd.Type != "stop" {
		t.Fatalf("expected stop command, got %+v", cmd)
	}

	if err := server.WriteJSON(Event{Type: EventEnded}); err != nil {
		t.Fatalf("write call-end: %v", err)
	}
	if ev := waitEvent(t, events); ev.Type != EventEnded {
		t.Fatalf("expected call-end event, got %+v", ev)
	}
}

func TestWSClientEmitsErrorWhenConnectionDrops(t *testing.T) {
	g := newGateway(t)

	client := NewWSClient(WSOptions{URL: g.url()}, nil)
	events := make(chan Event, 1)
	client.Subscribe(EventError, func(ev Event) { events <- ev })

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()

	server := <-g.conns
	server.Close()

	ev := waitEvent(t, events)
	if !strings.Contains(ev.Message, "voice connection lost") {
		t.Fatalf("unexpected error message: %q", ev.Message)
	}
}

func TestWSClientSendBeforeConnect(t *testing.T) {
	client := NewWSClient(WSOptions{URL: "ws://127.0.0.1:1"}, nil)
	if err := client.Start(context.Background(), StartOptions{}); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestWSClientConnectFailure(t *testing.T) {
	client := NewWSClient(WSOptions{URL: "ws://127.0.0.1:1", MaxRetries: 1, HandshakeTimeout: 200 * time.Millisecond}, nil)
	if err := client.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial error")
	}
}
