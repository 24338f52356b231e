package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndCount(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	turns := []Turn{
		{ConversationID: "+1555", Prompt: "hi", Reply: "hello!", CostUSD: 0.01, Duration: 800 * time.Millisecond},
		{ConversationID: "+1555", Prompt: "nothing", Reply: "", ErrorKind: "Timeout"},
		{ConversationID: "+1666", Prompt: "hey", Reply: "yo"},
	}
	for _, turn := range turns {
		if err := a.Record(ctx, turn); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	n, err := a.CountTurns(ctx, "+1555")
	if err != nil {
		t.Fatalf("CountTurns: %v", err)
	}
	if n != 2 {
		t.Errorf("CountTurns(+1555) = %d, want 2", n)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	for i := 0; i < 2; i++ {
		a, err := Open(path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		a.Close()
	}
}
