package guard

import "sync"

// BusyGuard enforces at most one in-flight agent turn per conversation.
// While a conversation is busy, the router sends exactly one "still working"
// notice; further concurrent messages are logged and dropped, never queued.
type BusyGuard struct {
	mu       sync.Mutex
	busy     map[string]struct{}
	notified map[string]struct{}
}

// NewBusyGuard creates an empty busy guard.
func NewBusyGuard() *BusyGuard {
	return &BusyGuard{
		busy:     make(map[string]struct{}),
		notified: make(map[string]struct{}),
	}
}

// TryAcquire attempts to claim the conversation. Returns false if an agent
// turn is already in flight for it.
func (g *BusyGuard) TryAcquire(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[conversationID]; ok {
		return false
	}
	g.busy[conversationID] = struct{}{}
	return true
}

// Release frees the conversation and clears its busy-notice flag.
func (g *BusyGuard) Release(conversationID string) {
	g.mu.Lock()
	delete(g.busy, conversationID)
	delete(g.notified, conversationID)
	g.mu.Unlock()
}

// MarkNotified records that the busy notice was sent for this busy window.
// Returns false if it was already sent.
func (g *BusyGuard) MarkNotified(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.notified[conversationID]; ok {
		return false
	}
	g.notified[conversationID] = struct{}{}
	return true
}

// IsBusy reports whether an agent turn is in flight for the conversation.
func (g *BusyGuard) IsBusy(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.busy[conversationID]
	return ok
}
