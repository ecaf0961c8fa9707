package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestRestorePositionSurvivesMidClaimCompaction(t *testing.T) {
	store := NewQueueStore()
	instanceID := uuid.New()

	agents := make([]uuid.UUID, 3)
	for i := range agents {
		agents[i] = uuid.New()
		if _, _, err := store.Insert(context.Background(), instanceID, agents[i]); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	claim, err := store.Claim(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claim.Entry.AgentID != agents[0] {
		t.Fatalf("claimed %s, want head agent %s", claim.Entry.AgentID, agents[0])
	}

	// Compaction runs between the claim and the compensating restore, so
	// the recorded previous position now belongs to another agent.
	if _, err := store.CompactPositions(context.Background(), instanceID); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if err := store.RestorePosition(context.Background(), instanceID, claim.Entry.AgentID, claim.PreviousPosition); err != nil {
		t.Fatalf("restore: %v", err)
	}

	entries, err := store.List(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	positions := make(map[int64]bool)
	for _, entry := range entries {
		if positions[entry.Position] {
			t.Fatalf("restore produced duplicate position %d", entry.Position)
		}
		positions[entry.Position] = true
	}

	// The restored agent kept their turn: they are back at the head and
	// the next claim must succeed, not abort on a position tie.
	next, err := store.Claim(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("claim after restore: %v", err)
	}
	if next.Entry.AgentID != agents[0] {
		t.Fatalf("claimed %s after restore, want %s", next.Entry.AgentID, agents[0])
	}
}

func TestRestorePositionToFreeSlotIsExact(t *testing.T) {
	store := NewQueueStore()
	instanceID := uuid.New()
	agentID := uuid.New()

	if _, _, err := store.Insert(context.Background(), instanceID, agentID); err != nil {
		t.Fatalf("insert: %v", err)
	}

	claim, err := store.Claim(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.RestorePosition(context.Background(), instanceID, agentID, claim.PreviousPosition); err != nil {
		t.Fatalf("restore: %v", err)
	}

	entries, err := store.List(context.Background(), instanceID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Position != claim.PreviousPosition {
		t.Fatalf("entries = %+v, want position %d", entries, claim.PreviousPosition)
	}
}
