// Package bus carries messages between the channel layer and the bridge core.
package bus

import "time"

// InboundMessage represents an event received from the messaging channel.
type InboundMessage struct {
	ID        string            `json:"id"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	FromSelf  bool              `json:"from_self,omitempty"` // sent by the paired account itself
	Broadcast bool              `json:"broadcast,omitempty"` // story/status/system traffic
	Media     []MediaAttachment `json:"media,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HasMedia reports whether the message carries any media payload.
func (m *InboundMessage) HasMedia() bool { return len(m.Media) > 0 }

// OutboundMessage represents a message to be sent back to the channel.
type OutboundMessage struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// MediaAttachment is an inbound media payload. Either Data (raw bytes, already
// decoded by the channel) or Path (a file the bridge daemon wrote) is set.
type MediaAttachment struct {
	Data        []byte `json:"-"`
	Path        string `json:"path,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}
