package guard

import (
	"fmt"
	"testing"
)

func TestEchoDiscardsSentIDs(t *testing.T) {
	g := NewEchoGuard()

	g.MarkSent("conv", "msg-1")
	if !g.ShouldDiscard("msg-1", "other-conv") {
		t.Error("sent id must be discarded regardless of conversation")
	}
	if g.ShouldDiscard("msg-2", "conv") {
		t.Error("unknown id outside a send window should pass")
	}
}

func TestEchoMidSendDiscardsEverything(t *testing.T) {
	g := NewEchoGuard()

	g.BeginSending("conv")
	if !g.ShouldDiscard("unrelated-id", "conv") {
		t.Error("any event on a mid-send conversation must be discarded")
	}
	if g.ShouldDiscard("unrelated-id", "other") {
		t.Error("other conversations are unaffected by the send window")
	}
	g.EndSending("conv")
	if g.ShouldDiscard("unrelated-id", "conv") {
		t.Error("send window must close after EndSending")
	}
}

func TestEchoNestedSending(t *testing.T) {
	g := NewEchoGuard()

	g.BeginSending("conv")
	g.BeginSending("conv")
	g.EndSending("conv")
	if !g.ShouldDiscard("x", "conv") {
		t.Error("window must stay open until the outer EndSending")
	}
	g.EndSending("conv")
	if g.ShouldDiscard("x", "conv") {
		t.Error("window must close after the outer EndSending")
	}
}

func TestEchoEviction(t *testing.T) {
	g := NewEchoGuard()

	for i := 0; i <= maxTrackedIDs; i++ {
		g.MarkSent("conv", fmt.Sprintf("id-%d", i))
	}

	if got := g.TrackedIDs(); got != maxTrackedIDs+1-evictBatch {
		t.Errorf("TrackedIDs = %d, want %d", got, maxTrackedIDs+1-evictBatch)
	}
	if g.ShouldDiscard("id-0", "conv") {
		t.Error("oldest ids should have been evicted")
	}
	if !g.ShouldDiscard(fmt.Sprintf("id-%d", maxTrackedIDs), "conv") {
		t.Error("newest id must survive eviction")
	}
}

func TestEmptyIDNeverTracked(t *testing.T) {
	g := NewEchoGuard()
	g.MarkSent("conv", "")
	if g.ShouldDiscard("", "conv") {
		t.Error("empty ids must not match")
	}
}
