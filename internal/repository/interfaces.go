package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/acme/agent-dispatch/internal/domain"
	apperrors "github.com/acme/agent-dispatch/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates the atomic claim step detected contention.
	ErrConflict = apperrors.ErrConflict
	// ErrNoCandidate indicates no enrolled, available agent exists.
	ErrNoCandidate = errors.New("no eligible queue entry")
	// ErrPositionTie indicates two entries share a position. Positions are
	// distinct by construction; a tie is a bug in position assignment and
	// is surfaced rather than silently resolved.
	ErrPositionTie = errors.New("duplicate queue position")
)

// Claim is the result of an atomic select-and-reserve. The claimed entry
// already carries its new back-of-line position; PreviousPosition allows a
// compensating restore when a failed placement should not consume a turn.
type Claim struct {
	Entry            domain.QueueEntry
	PreviousPosition int64
}

// QueueStore is the durable ordered membership list per channel instance.
// All position and availability mutation goes through it; Claim is the only
// operation that both reads and reserves, and must be atomic with respect
// to concurrent claims on the same instance.
type QueueStore interface {
	// Insert enrolls the agent at the back of the queue. When an entry
	// already exists it is returned unchanged and created is false.
	Insert(ctx context.Context, instanceID, agentID uuid.UUID) (entry domain.QueueEntry, created bool, err error)
	// Delete removes the entry; deleting a missing entry is a no-op.
	Delete(ctx context.Context, instanceID, agentID uuid.UUID) error
	// UpdateAvailability toggles is_available, returning ErrNotFound when
	// the agent is not enrolled.
	UpdateAvailability(ctx context.Context, instanceID, agentID uuid.UUID, available bool) (domain.QueueEntry, error)
	// List returns the instance's entries ordered by position.
	List(ctx context.Context, instanceID uuid.UUID) ([]domain.QueueEntry, error)
	// Claim atomically selects the smallest-position available entry and
	// moves it to the back of the line, stamping last_served_at. Returns
	// ErrNoCandidate when nobody is eligible, ErrPositionTie on a
	// duplicate position, ErrConflict on claim contention.
	Claim(ctx context.Context, instanceID uuid.UUID) (*Claim, error)
	// RestorePosition moves the agent back to a prior position; used only
	// by the no-turn-on-failure dispatch policy. Implementations must keep
	// positions distinct: when the prior position has since been taken,
	// the agent is placed ahead of the current head instead.
	RestorePosition(ctx context.Context, instanceID, agentID uuid.UUID, position int64) error
	// IncrementCallsReceived bumps the reporting counter after a
	// successful placement.
	IncrementCallsReceived(ctx context.Context, instanceID, agentID uuid.UUID) error
	// CompactPositions renumbers an instance's entries 1..N preserving
	// relative order, returning the number of rows touched.
	CompactPositions(ctx context.Context, instanceID uuid.UUID) (int, error)
	// Instances lists every instance id with at least one entry.
	Instances(ctx context.Context) ([]uuid.UUID, error)
	// MaxPosition returns the highest position in the instance, zero when
	// the queue is empty.
	MaxPosition(ctx context.Context, instanceID uuid.UUID) (int64, error)
}

// AttemptStore persists the append-only dispatch attempt log. Records are
// immutable once written.
type AttemptStore interface {
	Append(ctx context.Context, attempt domain.CallAttempt) error
	// ListByInstance pages through an instance's attempts, newest first.
	ListByInstance(ctx context.Context, instanceID uuid.UUID, limit int, pagingState []byte) ([]domain.CallAttempt, []byte, error)
}
