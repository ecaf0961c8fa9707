package events

import (
	"time"

	"github.com/google/uuid"
)

// InboundCallMessage asks the dispatch worker to find an agent for an
// inbound call that needs a human.
type InboundCallMessage struct {
	CallID         uuid.UUID `json:"call_id"`
	InstanceID     uuid.UUID `json:"instance_id"`
	ContactAddress string    `json:"contact_address"`
	IsVideo        bool      `json:"is_video"`
	ReceivedAt     time.Time `json:"received_at"`
}

// OutcomeMessage reports how a dispatch went, for the UI/reporting layer.
type OutcomeMessage struct {
	InstanceID     uuid.UUID `json:"instance_id"`
	AgentID        uuid.UUID `json:"agent_id,omitempty"`
	AttemptID      uuid.UUID `json:"attempt_id,omitempty"`
	ContactAddress string    `json:"contact_address"`
	Outcome        string    `json:"outcome"`
	Failure        string    `json:"failure,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
