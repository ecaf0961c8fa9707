// Package dispatch implements the claim coordinator: the one code path
// allowed to pick an agent and move them to the back of the line.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/events"
	"github.com/acme/agent-dispatch/internal/repository"
	callsvc "github.com/acme/agent-dispatch/internal/service/call"
	"github.com/acme/agent-dispatch/pkg/logger"
)

const claimRetryBackoff = 10 * time.Millisecond

// OutcomePublisher emits dispatch outcome events for the reporting layer.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, msg events.OutcomeMessage) error
}

// Slots bounds concurrent call setups per instance.
type Slots interface {
	Acquire(ctx context.Context, instanceID uuid.UUID, limit int) (bool, error)
	Release(ctx context.Context, instanceID uuid.UUID) error
}

// Options tune coordinator behaviour.
type Options struct {
	ClaimMaxRetries int
	// RequeueOnFailure is the observed default: a dispatched agent has
	// had their turn even when the gateway leg fails. When false, a
	// failed placement restores the agent's pre-claim position.
	RequeueOnFailure bool
	MaxInFlight      int
	SlotWait         time.Duration
}

// Service coordinates atomic agent claims and call placement.
type Service struct {
	store     repository.QueueStore
	executor  *callsvc.Service
	publisher OutcomePublisher
	slots     Slots
	logger    *logger.Logger
	opts      Options
}

// NewService builds the coordinator. publisher and slots may be nil.
func NewService(store repository.QueueStore, executor *callsvc.Service, publisher OutcomePublisher, slots Slots, lg *logger.Logger, opts Options) *Service {
	if opts.ClaimMaxRetries <= 0 {
		opts.ClaimMaxRetries = 3
	}
	if opts.SlotWait <= 0 {
		opts.SlotWait = 5 * time.Second
	}
	return &Service{
		store:     store,
		executor:  executor,
		publisher: publisher,
		slots:     slots,
		logger:    lg,
		opts:      opts,
	}
}

// Input describes one inbound call needing a human agent.
type Input struct {
	InstanceID     uuid.UUID
	ContactAddress string
	IsVideo        bool
	Direction      domain.CallDirection
}

// Result is the combined outcome of a dispatch: who was selected and how
// the placement went. NoAgentAvailable is a normal outcome, not an error.
type Result struct {
	InstanceID uuid.UUID
	AgentID    *uuid.UUID
	Outcome    domain.DispatchOutcome
	Failure    domain.FailureClass
	Message    string
	Attempt    *domain.CallAttempt
}

// Dispatch atomically claims the next eligible agent and offers them the
// call. The claim both selects and reserves: the chosen entry is moved to
// the back of the line inside the same store transaction, so two
// concurrent dispatches can never pick the same agent.
func (s *Service) Dispatch(ctx context.Context, in Input) (*Result, error) {
	if in.Direction == "" {
		in.Direction = domain.DirectionInbound
	}

	tracer := otel.Tracer("dispatch.coordinator")
	ctx, span := tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("instance.id", in.InstanceID.String()),
		attribute.Bool("is_video", in.IsVideo),
	))
	defer span.End()

	release, err := s.waitForSlot(ctx, in.InstanceID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if release != nil {
		defer release()
	}

	claim, err := s.claimWithRetry(ctx, in.InstanceID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNoCandidate):
			span.SetAttributes(attribute.String("dispatch.outcome", string(domain.OutcomeNoAgentAvailable)))
			return &Result{InstanceID: in.InstanceID, Outcome: domain.OutcomeNoAgentAvailable}, nil
		case errors.Is(err, repository.ErrConflict):
			span.SetAttributes(attribute.String("dispatch.outcome", string(domain.OutcomeFailed)))
			result := &Result{
				InstanceID: in.InstanceID,
				Outcome:    domain.OutcomeFailed,
				Failure:    domain.FailureConcurrencyConflict,
				Message:    "claim contention persisted past retry budget",
			}
			s.publish(ctx, in, result)
			return result, nil
		default:
			span.RecordError(err)
			return nil, fmt.Errorf("dispatch: claim: %w", err)
		}
	}

	agentID := claim.Entry.AgentID
	span.SetAttributes(attribute.String("agent.id", agentID.String()))

	placement, err := s.executor.PlaceCall(ctx, callsvc.Input{
		InstanceID:     in.InstanceID,
		AgentID:        agentID,
		ContactAddress: in.ContactAddress,
		Direction:      in.Direction,
		IsVideo:        in.IsVideo,
	})
	if err != nil {
		// The offer never reached the gateway (bad address, attempt-log
		// failure); this should not consume the agent's turn.
		if restoreErr := s.store.RestorePosition(ctx, in.InstanceID, agentID, claim.PreviousPosition); restoreErr != nil {
			s.logger.Error("dispatch: restore position after executor error",
				zap.Error(restoreErr),
				zap.String("instance_id", in.InstanceID.String()),
				zap.String("agent_id", agentID.String()),
			)
		}
		span.RecordError(err)
		return nil, err
	}

	result := &Result{
		InstanceID: in.InstanceID,
		AgentID:    &agentID,
		Attempt:    &placement.Attempt,
	}

	if placement.Initiated {
		result.Outcome = domain.OutcomeDispatched
		if err := s.store.IncrementCallsReceived(ctx, in.InstanceID, agentID); err != nil {
			s.logger.Error("dispatch: increment calls received", zap.Error(err),
				zap.String("agent_id", agentID.String()))
		}
	} else {
		result.Outcome = domain.OutcomeFailed
		result.Failure = placement.Failure
		result.Message = placement.Message
		if !s.opts.RequeueOnFailure {
			if err := s.store.RestorePosition(ctx, in.InstanceID, agentID, claim.PreviousPosition); err != nil {
				s.logger.Error("dispatch: restore position", zap.Error(err),
					zap.String("agent_id", agentID.String()))
			}
		}
	}

	span.SetAttributes(attribute.String("dispatch.outcome", string(result.Outcome)))
	s.publish(ctx, in, result)
	return result, nil
}

// PeekCandidate answers "who's next" without mutating anything. Safe to
// call any number of times; never used by the dispatch path itself.
func (s *Service) PeekCandidate(ctx context.Context, instanceID uuid.UUID) (*domain.QueueEntry, error) {
	entries, err := s.store.List(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: peek: %w", err)
	}
	return SelectCandidate(entries)
}

func (s *Service) claimWithRetry(ctx context.Context, instanceID uuid.UUID) (*repository.Claim, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.ClaimMaxRetries; attempt++ {
		claim, err := s.store.Claim(ctx, instanceID)
		if err == nil {
			return claim, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(claimRetryBackoff):
		}
	}
	return nil, lastErr
}

func (s *Service) waitForSlot(ctx context.Context, instanceID uuid.UUID) (func(), error) {
	if s.slots == nil || s.opts.MaxInFlight <= 0 {
		return nil, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.SlotWait)
	defer cancel()

	for {
		acquired, err := s.slots.Acquire(waitCtx, instanceID, s.opts.MaxInFlight)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, waitCtx.Err()
			}
			return nil, err
		}
		if acquired {
			release := func() {
				if err := s.slots.Release(context.Background(), instanceID); err != nil {
					s.logger.Warn("dispatch: release slot", zap.Error(err))
				}
			}
			return release, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, waitCtx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *Service) publish(ctx context.Context, in Input, result *Result) {
	if s.publisher == nil {
		return
	}

	msg := events.OutcomeMessage{
		InstanceID:     in.InstanceID,
		ContactAddress: in.ContactAddress,
		Outcome:        string(result.Outcome),
		Failure:        string(result.Failure),
		OccurredAt:     time.Now().UTC(),
	}
	if result.AgentID != nil {
		msg.AgentID = *result.AgentID
	}
	if result.Attempt != nil {
		msg.AttemptID = result.Attempt.ID
	}

	if err := s.publisher.PublishOutcome(ctx, msg); err != nil {
		s.logger.Error("dispatch: publish outcome", zap.Error(err),
			zap.String("instance_id", in.InstanceID.String()))
	}
}
