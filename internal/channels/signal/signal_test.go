package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/sigclaw/internal/bus"
)

var upgrader = websocket.Upgrader{}

// fakeBridge runs a WebSocket server standing in for the bridge daemon.
// handler is called with each frame the channel writes.
func fakeBridge(t *testing.T, handler func(conn *websocket.Conn, env envelope)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env envelope
			if json.Unmarshal(data, &env) == nil && handler != nil {
				handler(conn, env)
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startChannel(t *testing.T, srv *httptest.Server, msgBus *bus.MessageBus) *Channel {
	t.Helper()
	ch, err := New(wsURL(srv), "+15550009999", msgBus)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := ch.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ch.Stop(context.Background()) })
	return ch
}

// emittingBridge runs a WebSocket server that pushes one frame on connect.
func emittingBridge(t *testing.T, env envelope) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		frame, _ := json.Marshal(env)
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInboundMessagePublished(t *testing.T) {
	msgBus := bus.New()
	srv := emittingBridge(t, envelope{
		Type:      "message",
		ID:        "m-1",
		From:      "+15550001111",
		To:        "+15550009999",
		Content:   "hello",
		Timestamp: time.Now().UnixMilli(),
	})

	ch := startChannel(t, srv, msgBus)
	defer ch.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message received")
	}
	if msg.ID != "m-1" || msg.SenderID != "+15550001111" || msg.Content != "hello" {
		t.Errorf("inbound = %+v", msg)
	}
	if msg.ChatID != "+15550001111" {
		t.Errorf("ChatID = %q, want the peer", msg.ChatID)
	}
	if msg.FromSelf {
		t.Error("message from a peer must not be FromSelf")
	}
}

func TestSendReturnsAckID(t *testing.T) {
	srv := fakeBridge(t, func(conn *websocket.Conn, env envelope) {
		if env.Type != "send" {
			return
		}
		ack, _ := json.Marshal(envelope{Type: "sent", Nonce: env.Nonce, ID: "bridge-42"})
		_ = conn.WriteMessage(websocket.TextMessage, ack)
	})
	ch := startChannel(t, srv, bus.New())

	// Give the listen loop a moment to establish the connection.
	waitConnected(t, ch)

	id, err := ch.Send(context.Background(), "+15550001111", "hi there")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "bridge-42" {
		t.Errorf("id = %q, want bridge-42", id)
	}
}

func TestLateAckHandedToHook(t *testing.T) {
	srv := fakeBridge(t, func(conn *websocket.Conn, env envelope) {
		if env.Type != "send" {
			return
		}
		// Answer after the sender has given up waiting.
		time.Sleep(150 * time.Millisecond)
		ack, _ := json.Marshal(envelope{Type: "sent", Nonce: env.Nonce, ID: "bridge-99"})
		_ = conn.WriteMessage(websocket.TextMessage, ack)
	})
	ch := startChannel(t, srv, bus.New())
	ch.ackTimeout = 50 * time.Millisecond

	var mu sync.Mutex
	var gotChat, gotID string
	ch.SetLateAckHandler(func(chatID, messageID string) {
		mu.Lock()
		gotChat, gotID = chatID, messageID
		mu.Unlock()
	})

	waitConnected(t, ch)
	id, err := ch.Send(context.Background(), "+15550001111", "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(id, "local-") {
		t.Fatalf("id = %q, want a synthetic local id", id)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := gotID != ""
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotID != "bridge-99" || gotChat != "+15550001111" {
		t.Fatalf("late ack = (%q, %q), want (+15550001111, bridge-99)", gotChat, gotID)
	}
}

func TestSelfMessageKeyedByRecipient(t *testing.T) {
	msgBus := bus.New()
	srv := emittingBridge(t, envelope{
		Type: "message", ID: "m-2",
		From: "+15550009999", To: "+15550001111",
		Content: "our own reply echoed back",
	})

	ch := startChannel(t, srv, msgBus)
	defer ch.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no inbound message received")
	}
	if !msg.FromSelf {
		t.Error("message from the paired number must be FromSelf")
	}
	if msg.ChatID != "+15550001111" {
		t.Errorf("ChatID = %q, want the recipient peer", msg.ChatID)
	}
}

func waitConnected(t *testing.T, ch *Channel) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ch.mu.Lock()
		connected := ch.conn != nil
		ch.mu.Unlock()
		if connected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("channel never connected to fake bridge")
}
