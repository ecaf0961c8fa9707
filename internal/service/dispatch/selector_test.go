package dispatch

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/repository"
)

func entry(position int64, available bool) domain.QueueEntry {
	return domain.QueueEntry{
		InstanceID:  uuid.New(),
		AgentID:     uuid.New(),
		Position:    position,
		IsAvailable: available,
	}
}

func TestSelectCandidatePicksSmallestPosition(t *testing.T) {
	entries := []domain.QueueEntry{entry(7, true), entry(3, true), entry(12, true)}

	picked, err := SelectCandidate(entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if picked == nil || picked.Position != 3 {
		t.Fatalf("picked %+v, want position 3", picked)
	}
}

func TestSelectCandidateSkipsUnavailable(t *testing.T) {
	entries := []domain.QueueEntry{entry(1, false), entry(5, true)}

	picked, err := SelectCandidate(entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if picked == nil || picked.Position != 5 {
		t.Fatalf("picked %+v, want position 5", picked)
	}
}

func TestSelectCandidateNobodyEligible(t *testing.T) {
	cases := [][]domain.QueueEntry{
		nil,
		{entry(1, false), entry(2, false)},
	}
	for _, entries := range cases {
		picked, err := SelectCandidate(entries)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if picked != nil {
			t.Fatalf("picked %+v, want nil", picked)
		}
	}
}

func TestSelectCandidatePositionTie(t *testing.T) {
	entries := []domain.QueueEntry{entry(4, true), entry(4, true)}

	if _, err := SelectCandidate(entries); !errors.Is(err, repository.ErrPositionTie) {
		t.Fatalf("error = %v, want position tie", err)
	}
}
