package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/acme/agent-dispatch/internal/domain"
)

// AttemptStore implements repository.AttemptStore as an in-memory append
// log. Listing ignores paging state and returns everything newest first.
type AttemptStore struct {
	mu       sync.Mutex
	attempts []domain.CallAttempt
}

// NewAttemptStore constructs an empty log.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{}
}

// Append records an attempt.
func (s *AttemptStore) Append(ctx context.Context, attempt domain.CallAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

// ListByInstance returns an instance's attempts newest first.
func (s *AttemptStore) ListByInstance(ctx context.Context, instanceID uuid.UUID, limit int, pagingState []byte) ([]domain.CallAttempt, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	var out []domain.CallAttempt
	for i := len(s.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if s.attempts[i].InstanceID == instanceID {
			out = append(out, s.attempts[i])
		}
	}
	return out, nil, nil
}

// All returns every recorded attempt in append order.
func (s *AttemptStore) All() []domain.CallAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CallAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}
