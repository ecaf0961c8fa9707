// Package memory holds mutex-guarded in-process implementations of the
// store contracts. The queue tests run their concurrency scenarios against
// it because the claim semantics are real, not canned.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/repository"
)

type entryKey struct {
	instanceID uuid.UUID
	agentID    uuid.UUID
}

// QueueStore implements repository.QueueStore in memory.
type QueueStore struct {
	mu      sync.Mutex
	entries map[entryKey]*domain.QueueEntry
}

// NewQueueStore constructs an empty store.
func NewQueueStore() *QueueStore {
	return &QueueStore{entries: make(map[entryKey]*domain.QueueEntry)}
}

// Insert enrolls the agent at max(position)+1; idempotent.
func (s *QueueStore) Insert(ctx context.Context, instanceID, agentID uuid.UUID) (domain.QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey{instanceID, agentID}
	if existing, ok := s.entries[key]; ok {
		return *existing, false, nil
	}

	now := time.Now().UTC()
	entry := &domain.QueueEntry{
		InstanceID:  instanceID,
		AgentID:     agentID,
		Position:    s.maxPositionLocked(instanceID) + 1,
		IsAvailable: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.entries[key] = entry
	return *entry, true, nil
}

// Delete removes the entry; missing entries are a no-op.
func (s *QueueStore) Delete(ctx context.Context, instanceID, agentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryKey{instanceID, agentID})
	return nil
}

// UpdateAvailability toggles is_available.
func (s *QueueStore) UpdateAvailability(ctx context.Context, instanceID, agentID uuid.UUID, available bool) (domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryKey{instanceID, agentID}]
	if !ok {
		return domain.QueueEntry{}, repository.ErrNotFound
	}
	entry.IsAvailable = available
	entry.UpdatedAt = time.Now().UTC()
	return *entry, nil
}

// List returns the instance's entries ordered by position.
func (s *QueueStore) List(ctx context.Context, instanceID uuid.UUID) ([]domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []domain.QueueEntry
	for key, entry := range s.entries {
		if key.instanceID == instanceID {
			entries = append(entries, *entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Position < entries[j].Position })
	return entries, nil
}

// Claim picks the smallest-position available entry and requeues it under
// one lock acquisition, so concurrent claims can never pick the same agent.
func (s *QueueStore) Claim(ctx context.Context, instanceID uuid.UUID) (*repository.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var head *domain.QueueEntry
	tie := false
	for key, entry := range s.entries {
		if key.instanceID != instanceID || !entry.IsAvailable {
			continue
		}
		switch {
		case head == nil || entry.Position < head.Position:
			head = entry
			tie = false
		case entry.Position == head.Position:
			tie = true
		}
	}

	if head == nil {
		return nil, repository.ErrNoCandidate
	}
	if tie {
		return nil, fmt.Errorf("%w: instance %s position %d", repository.ErrPositionTie, instanceID, head.Position)
	}

	previous := head.Position
	now := time.Now().UTC()
	head.Position = s.maxPositionLocked(instanceID) + 1
	head.LastServedAt = &now
	head.UpdatedAt = now

	return &repository.Claim{Entry: *head, PreviousPosition: previous}, nil
}

// RestorePosition moves the agent back to a prior position. When that
// position has since been taken, for example by a compaction running
// between claim and restore, the agent is parked ahead of the current
// head instead so positions stay distinct.
func (s *QueueStore) RestorePosition(ctx context.Context, instanceID, agentID uuid.UUID, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryKey{instanceID, agentID}]
	if !ok {
		return nil
	}

	for key, other := range s.entries {
		if key.instanceID == instanceID && key.agentID != agentID && other.Position == position {
			position = s.minPositionLocked(instanceID) - 1
			break
		}
	}

	entry.Position = position
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementCallsReceived bumps the reporting counter.
func (s *QueueStore) IncrementCallsReceived(ctx context.Context, instanceID, agentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[entryKey{instanceID, agentID}]; ok {
		entry.CallsReceived++
		entry.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// CompactPositions renumbers 1..N preserving relative order.
func (s *QueueStore) CompactPositions(ctx context.Context, instanceID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ordered []*domain.QueueEntry
	for key, entry := range s.entries {
		if key.instanceID == instanceID {
			ordered = append(ordered, entry)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	touched := 0
	for i, entry := range ordered {
		want := int64(i + 1)
		if entry.Position != want {
			entry.Position = want
			entry.UpdatedAt = time.Now().UTC()
			touched++
		}
	}
	return touched, nil
}

// Instances lists instance ids with at least one entry.
func (s *QueueStore) Instances(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for key := range s.entries {
		if !seen[key.instanceID] {
			seen[key.instanceID] = true
			ids = append(ids, key.instanceID)
		}
	}
	return ids, nil
}

// MaxPosition returns the highest position in the instance.
func (s *QueueStore) MaxPosition(ctx context.Context, instanceID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPositionLocked(instanceID), nil
}

func (s *QueueStore) minPositionLocked(instanceID uuid.UUID) int64 {
	var min int64
	seen := false
	for key, entry := range s.entries {
		if key.instanceID != instanceID {
			continue
		}
		if !seen || entry.Position < min {
			min = entry.Position
			seen = true
		}
	}
	if !seen {
		return 1
	}
	return min
}

func (s *QueueStore) maxPositionLocked(instanceID uuid.UUID) int64 {
	var max int64
	for key, entry := range s.entries {
		if key.instanceID == instanceID && entry.Position > max {
			max = entry.Position
		}
	}
	return max
}
