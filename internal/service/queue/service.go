// Package queue implements the membership manager for per-instance agent
// dispatch queues.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/repository"
	"github.com/acme/agent-dispatch/pkg/logger"
)

// Service exposes join/leave/availability operations to agents. Membership
// writes are fire-and-forget with last-write-wins semantics; only the
// dispatch path needs a critical section, and that lives in the store's
// Claim operation.
type Service struct {
	store  repository.QueueStore
	logger *logger.Logger
}

// NewService constructs the membership manager.
func NewService(store repository.QueueStore, lg *logger.Logger) *Service {
	return &Service{store: store, logger: lg}
}

// Join enrolls the agent at the back of the instance's queue. Joining an
// already-enrolled agent is a no-op and preserves their earned position.
func (s *Service) Join(ctx context.Context, instanceID, agentID uuid.UUID) (domain.QueueEntry, error) {
	entry, created, err := s.store.Insert(ctx, instanceID, agentID)
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("queue service: join: %w", err)
	}
	if created {
		s.logger.Info("agent joined queue",
			zap.String("instance_id", instanceID.String()),
			zap.String("agent_id", agentID.String()),
			zap.Int64("position", entry.Position),
		)
	}
	return entry, nil
}

// Leave removes the agent's entry. Leaving a queue the agent is not in is
// a silent no-op, and remaining positions are never renumbered — gaps are
// harmless because only relative order matters.
func (s *Service) Leave(ctx context.Context, instanceID, agentID uuid.UUID) error {
	if err := s.store.Delete(ctx, instanceID, agentID); err != nil {
		return fmt.Errorf("queue service: leave: %w", err)
	}
	return nil
}

// SetAvailability toggles the agent's availability flag. An agent who asks
// to become available without being enrolled is auto-enrolled at the back
// of the queue first; this is a deliberate branch, not a side effect.
func (s *Service) SetAvailability(ctx context.Context, instanceID, agentID uuid.UUID, available bool) (domain.QueueEntry, error) {
	entry, err := s.store.UpdateAvailability(ctx, instanceID, agentID, available)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.QueueEntry{}, fmt.Errorf("queue service: set availability: %w", err)
	}

	if !available {
		// Not enrolled and going offline: nothing to record.
		return domain.QueueEntry{}, repository.ErrNotFound
	}

	// Implicit join: enrolled at the back, then already available.
	entry, _, err = s.store.Insert(ctx, instanceID, agentID)
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("queue service: implicit join: %w", err)
	}
	s.logger.Info("agent auto-enrolled via availability toggle",
		zap.String("instance_id", instanceID.String()),
		zap.String("agent_id", agentID.String()),
		zap.Int64("position", entry.Position),
	)
	return entry, nil
}

// Members returns the instance's queue ordered by position, for the UI
// and reporting layer.
func (s *Service) Members(ctx context.Context, instanceID uuid.UUID) ([]domain.QueueEntry, error) {
	entries, err := s.store.List(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("queue service: members: %w", err)
	}
	return entries, nil
}
