package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallDirection indicates which side initiated the call.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// AttemptStatus enumerates terminal states of a call attempt record.
type AttemptStatus string

const (
	AttemptStatusInitiated AttemptStatus = "initiated"
	AttemptStatusFailed    AttemptStatus = "failed"
)

// FailureClass is the stable taxonomy for dispatch and placement failures.
type FailureClass string

const (
	FailureNone                 FailureClass = ""
	FailureGatewayNotConfigured FailureClass = "gateway_not_configured"
	FailureGatewayAuth          FailureClass = "gateway_auth_error"
	FailureGatewayBadRequest    FailureClass = "gateway_bad_request"
	FailureGatewayServer        FailureClass = "gateway_server_error"
	FailureNetwork              FailureClass = "network_error"
	FailureConcurrencyConflict  FailureClass = "concurrency_conflict"
)

// Retryable reports whether the failure is transient and safe to retry
// at the caller's discretion.
func (f FailureClass) Retryable() bool {
	return f == FailureGatewayServer || f == FailureNetwork || f == FailureConcurrencyConflict
}

// DispatchOutcome summarizes a dispatch request.
type DispatchOutcome string

const (
	OutcomeDispatched       DispatchOutcome = "dispatched"
	OutcomeNoAgentAvailable DispatchOutcome = "no_agent_available"
	OutcomeFailed           DispatchOutcome = "failed"
)

// QueueEntry is one agent's enrollment in one instance's dispatch queue.
// Lower position is served sooner; positions are not required to be
// contiguous, only strictly ordered within an instance.
type QueueEntry struct {
	InstanceID    uuid.UUID
	AgentID       uuid.UUID
	Position      int64
	IsAvailable   bool
	LastServedAt  *time.Time
	CallsReceived int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Eligible reports whether the entry can be picked by the selector.
func (e QueueEntry) Eligible() bool {
	return e.IsAvailable
}

// CallAttempt is an immutable record of one outbound dispatch attempt.
type CallAttempt struct {
	ID             uuid.UUID
	InstanceID     uuid.UUID
	TargetAgentID  uuid.UUID
	ContactAddress string
	Direction      CallDirection
	Status         AttemptStatus
	IsVideo        bool
	ErrorMessage   *string
	CreatedAt      time.Time
}
