// Package guard holds the keyed in-memory guards shared across conversations:
// echo suppression and per-conversation mutual exclusion. Both are bounded
// mutex-protected maps, injected into the router so tests can swap them.
package guard

import "sync"

const (
	// maxTrackedIDs caps the outgoing-id set; once exceeded the oldest
	// evictBatch entries are dropped. Entries are write-once and
	// short-lived, so eviction order only needs to be roughly FIFO.
	maxTrackedIDs = 500
	evictBatch    = 300
)

// EchoGuard prevents the bridge from reprocessing its own output. It tracks
// outgoing message identifiers plus the set of conversations currently
// mid-send: the channel may deliver our own outgoing event back to us before
// the send call returns an id, so an id-only filter is insufficient.
type EchoGuard struct {
	mu      sync.Mutex
	ids     map[string]struct{}
	order   []string
	sending map[string]int
}

// NewEchoGuard creates an empty echo guard.
func NewEchoGuard() *EchoGuard {
	return &EchoGuard{
		ids:     make(map[string]struct{}),
		sending: make(map[string]int),
	}
}

// ShouldDiscard reports whether an inbound event is our own echo: either its
// id was registered by MarkSent, or its conversation is currently mid-send.
func (g *EchoGuard) ShouldDiscard(inboundID, conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.ids[inboundID]; inboundID != "" && ok {
		return true
	}
	return g.sending[conversationID] > 0
}

// MarkSent registers an outgoing message identifier.
func (g *EchoGuard) MarkSent(conversationID, outgoingID string) {
	if outgoingID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.ids[outgoingID]; ok {
		return
	}
	g.ids[outgoingID] = struct{}{}
	g.order = append(g.order, outgoingID)
	if len(g.ids) > maxTrackedIDs {
		for _, id := range g.order[:evictBatch] {
			delete(g.ids, id)
		}
		g.order = append(g.order[:0], g.order[evictBatch:]...)
	}
}

// BeginSending marks a conversation as mid-send. Must be paired with
// EndSending on every exit path; the count handles nested sends.
func (g *EchoGuard) BeginSending(conversationID string) {
	g.mu.Lock()
	g.sending[conversationID]++
	g.mu.Unlock()
}

// EndSending clears the mid-send mark set by BeginSending.
func (g *EchoGuard) EndSending(conversationID string) {
	g.mu.Lock()
	if g.sending[conversationID] > 1 {
		g.sending[conversationID]--
	} else {
		delete(g.sending, conversationID)
	}
	g.mu.Unlock()
}

// TrackedIDs returns the number of remembered outgoing ids.
func (g *EchoGuard) TrackedIDs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}
