package dispatch

import (
	"fmt"

	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/repository"
)

// SelectCandidate returns the enrolled, available entry with the smallest
// position from a queue snapshot, or nil when nobody is eligible. It is a
// pure read used for "who's next" previews; the dispatch path does its
// selection inside the store's atomic claim instead.
//
// Positions are distinct by construction, so a tie is a position
// assignment bug and is surfaced, never resolved arbitrarily.
func SelectCandidate(entries []domain.QueueEntry) (*domain.QueueEntry, error) {
	var head *domain.QueueEntry
	for i := range entries {
		entry := &entries[i]
		if !entry.Eligible() {
			continue
		}
		switch {
		case head == nil || entry.Position < head.Position:
			head = entry
		case entry.Position == head.Position:
			return nil, fmt.Errorf("%w: instance %s position %d", repository.ErrPositionTie, entry.InstanceID, entry.Position)
		}
	}
	if head == nil {
		return nil, nil
	}
	picked := *head
	return &picked, nil
}
