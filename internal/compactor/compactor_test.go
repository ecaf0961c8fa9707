package compactor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/agent-dispatch/internal/config"
	"github.com/acme/agent-dispatch/internal/repository/memory"
	"github.com/acme/agent-dispatch/pkg/logger"
)

func nopLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func seedInstance(t *testing.T, store *memory.QueueStore, positions []int64) (uuid.UUID, []uuid.UUID) {
	t.Helper()
	instanceID := uuid.New()
	agents := make([]uuid.UUID, len(positions))
	for i, position := range positions {
		agents[i] = uuid.New()
		if _, _, err := store.Insert(context.Background(), instanceID, agents[i]); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := store.RestorePosition(context.Background(), instanceID, agents[i], position); err != nil {
			t.Fatalf("set position: %v", err)
		}
	}
	return instanceID, agents
}

func TestCompactRenumbersPreservingOrder(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID, agents := seedInstance(t, store, []int64{310, 100, 205})

	c := New(store, nopLogger(), config.CompactorConfig{MaxPosition: 50})
	if err := c.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	entries, err := store.List(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}

	// Relative order was 100 < 205 < 310: agents[1], agents[2], agents[0].
	wantOrder := []uuid.UUID{agents[1], agents[2], agents[0]}
	for i, entry := range entries {
		if entry.Position != int64(i+1) {
			t.Errorf("entry %d position = %d, want %d", i, entry.Position, i+1)
		}
		if entry.AgentID != wantOrder[i] {
			t.Errorf("entry %d agent = %s, want %s", i, entry.AgentID, wantOrder[i])
		}
	}
}

func TestCompactSkipsSmallQueues(t *testing.T) {
	store := memory.NewQueueStore()
	instanceID, _ := seedInstance(t, store, []int64{3, 7, 11})

	c := New(store, nopLogger(), config.CompactorConfig{MaxPosition: 100})
	if err := c.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	entries, err := store.List(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []int64{3, 7, 11}
	for i, entry := range entries {
		if entry.Position != want[i] {
			t.Errorf("entry %d position = %d, want %d (untouched)", i, entry.Position, want[i])
		}
	}
}
