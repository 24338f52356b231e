// Package signal connects to a Signal bridge daemon via WebSocket. The
// daemon (signal-cli compatible) owns the account pairing and the Signal
// protocol; this channel just exchanges JSON envelopes over the socket.
package signal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/sigclaw/internal/bus"
)

const (
	handshakeTimeout = 10 * time.Second
	maxBackoff       = 30 * time.Second

	// sendAckTimeout bounds the wait for the bridge's send acknowledgment
	// carrying the outgoing message id. Past it a synthetic id is used; the
	// router's mid-send window covers the gap until the real ack arrives.
	sendAckTimeout = 5 * time.Second

	// lateAckCap bounds the nonce→chat map kept for sends that stopped
	// waiting, so a straggling ack can still surface the bridge id.
	lateAckCap = 128
)

// envelope is the JSON frame exchanged with the bridge daemon.
type envelope struct {
	Type      string       `json:"type"`
	ID        string       `json:"id,omitempty"`
	Nonce     string       `json:"nonce,omitempty"`
	From      string       `json:"from,omitempty"`
	To        string       `json:"to,omitempty"`
	Content   string       `json:"content,omitempty"`
	Timestamp int64        `json:"timestamp,omitempty"`
	FromSelf  bool         `json:"from_self,omitempty"`
	Broadcast bool         `json:"broadcast,omitempty"`
	Media     []mediaFrame `json:"media,omitempty"`
}

type mediaFrame struct {
	Data        string `json:"data,omitempty"` // base64
	Path        string `json:"path,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Channel is the Signal bridge connection.
type Channel struct {
	bridgeURL string
	number    string
	bus       *bus.MessageBus

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool

	ackMu      sync.Mutex
	acks       map[string]chan string
	lateSends  map[string]string
	lateOrder  []string
	onLateAck  func(chatID, messageID string)
	ackTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Signal channel for the paired account number.
func New(bridgeURL, number string, msgBus *bus.MessageBus) (*Channel, error) {
	if bridgeURL == "" {
		return nil, fmt.Errorf("signal bridge_url is required")
	}
	return &Channel{
		bridgeURL:  bridgeURL,
		number:     number,
		bus:        msgBus,
		acks:       make(map[string]chan string),
		lateSends:  make(map[string]string),
		ackTimeout: sendAckTimeout,
	}, nil
}

// SetLateAckHandler installs a callback for bridge acks that arrive after the
// corresponding Send already returned a synthetic id. Set before Start.
func (c *Channel) SetLateAckHandler(fn func(chatID, messageID string)) {
	c.ackMu.Lock()
	c.onLateAck = fn
	c.ackMu.Unlock()
}

// Name returns "signal".
func (c *Channel) Name() string { return "signal" }

// IsRunning reports whether the listen loop is active.
func (c *Channel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start connects to the bridge and begins listening.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting signal channel", "bridge_url", c.bridgeURL, "number", c.number)

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		// Don't fail hard — the reconnect loop will keep trying.
		slog.Warn("initial signal bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

// Stop closes the bridge connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping signal channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.running = false
	return nil
}

// Send delivers text to a conversation. The returned id is the bridge's ack
// id when it answers in time, else a locally generated one.
func (c *Channel) Send(ctx context.Context, chatID, text string) (string, error) {
	nonce := uuid.NewString()

	ackCh := make(chan string, 1)
	c.ackMu.Lock()
	c.acks[nonce] = ackCh
	c.ackMu.Unlock()
	defer func() {
		c.ackMu.Lock()
		delete(c.acks, nonce)
		c.ackMu.Unlock()
	}()

	if err := c.write(envelope{
		Type:    "send",
		Nonce:   nonce,
		To:      chatID,
		Content: text,
	}); err != nil {
		return "", fmt.Errorf("send signal message: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case id := <-ackCh:
		return id, nil
	case <-time.After(c.ackTimeout):
		c.noteLateSend(nonce, chatID)
		slog.Debug("no send ack from bridge, using synthetic id", "chat_id", chatID)
		return "local-" + nonce, nil
	}
}

// noteLateSend remembers which conversation a timed-out send belonged to so
// a straggling ack can still be attributed.
func (c *Channel) noteLateSend(nonce, chatID string) {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	if len(c.lateOrder) >= lateAckCap {
		delete(c.lateSends, c.lateOrder[0])
		c.lateOrder = c.lateOrder[1:]
	}
	c.lateSends[nonce] = chatID
	c.lateOrder = append(c.lateOrder, nonce)
}

func (c *Channel) write(env envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("signal bridge not connected")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// connect establishes the WebSocket connection to the bridge.
func (c *Channel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.Dial(c.bridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial signal bridge %s: %w", c.bridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("signal bridge connected", "url", c.bridgeURL)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (c *Channel) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			slog.Info("attempting signal bridge reconnect", "backoff", backoff)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("signal bridge reconnect failed", "error", err)
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("signal read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("invalid signal bridge frame", "error", err)
			continue
		}

		switch env.Type {
		case "message":
			c.handleMessage(env)
		case "sent":
			c.handleSendAck(env)
		}
	}
}

// handleMessage converts a bridge message frame into an inbound bus message.
// Filtering (echo guard, whitelist) is the router's job; the channel only
// normalizes the payload.
func (c *Channel) handleMessage(env envelope) {
	if env.From == "" {
		return
	}

	var media []bus.MediaAttachment
	for _, m := range env.Media {
		att := bus.MediaAttachment{Path: m.Path, ContentType: m.ContentType}
		if m.Data != "" {
			raw, err := base64.StdEncoding.DecodeString(m.Data)
			if err != nil {
				slog.Warn("undecodable media payload, skipping attachment", "error", err)
				continue
			}
			att.Data = raw
		}
		media = append(media, att)
	}

	ts := time.Now()
	if env.Timestamp > 0 {
		ts = time.UnixMilli(env.Timestamp)
	}

	// The conversation is keyed by the peer: the sender for inbound
	// traffic, the recipient for our own mirrored sends (Note to Self
	// keeps both sides on the paired number).
	fromSelf := env.FromSelf || env.From == c.number
	chatID := env.From
	if fromSelf && env.To != "" {
		chatID = env.To
	}

	c.bus.PublishInbound(bus.InboundMessage{
		ID:        env.ID,
		SenderID:  env.From,
		ChatID:    chatID,
		Content:   env.Content,
		Timestamp: ts,
		FromSelf:  fromSelf,
		Broadcast: env.Broadcast,
		Media:     media,
	})
}

// handleSendAck resolves a pending Send waiting on the bridge's message id.
// An ack for a send that already timed out is handed to the late-ack hook so
// the real bridge id still reaches the echo guard.
func (c *Channel) handleSendAck(env envelope) {
	if env.Nonce == "" {
		return
	}
	c.ackMu.Lock()
	ch, pending := c.acks[env.Nonce]
	var hook func(string, string)
	var chatID string
	if !pending {
		if cid, late := c.lateSends[env.Nonce]; late {
			delete(c.lateSends, env.Nonce)
			chatID = cid
			hook = c.onLateAck
		}
	}
	c.ackMu.Unlock()

	if pending {
		select {
		case ch <- env.ID:
		default:
		}
		return
	}
	if hook != nil && env.ID != "" {
		slog.Debug("late send ack from bridge", "chat_id", chatID, "id", env.ID)
		hook(chatID, env.ID)
	}
}
