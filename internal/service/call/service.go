// Package call implements the call attempt executor: address
// normalization, gateway invocation, and the append-only attempt log.
package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/agent-dispatch/internal/dialplan"
	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/gateway"
	"github.com/acme/agent-dispatch/internal/repository"
	"github.com/acme/agent-dispatch/internal/service/common"
	apperrors "github.com/acme/agent-dispatch/pkg/errors"
	"github.com/acme/agent-dispatch/pkg/logger"
)

// Service places call offers against the telephony gateway. It knows
// nothing about queue state; the claim coordinator hands it an agent that
// has already been reserved.
type Service struct {
	gateway     gateway.Gateway
	attempts    repository.AttemptStore
	normalizer  dialplan.Normalizer
	logger      *logger.Logger
	ringSeconds int
	timeout     time.Duration
}

// NewService builds the executor.
func NewService(gw gateway.Gateway, attempts repository.AttemptStore, normalizer dialplan.Normalizer, lg *logger.Logger, ringSeconds int, timeout time.Duration) *Service {
	if ringSeconds <= 0 {
		ringSeconds = 30
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		gateway:     gw,
		attempts:    attempts,
		normalizer:  normalizer,
		logger:      lg,
		ringSeconds: ringSeconds,
		timeout:     timeout,
	}
}

// Input identifies one placement: which agent, reached how.
type Input struct {
	InstanceID     uuid.UUID
	AgentID        uuid.UUID
	ContactAddress string
	Direction      domain.CallDirection
	IsVideo        bool
}

// Result is the typed outcome of a placement. Gateway failures never cross
// this boundary as Go errors; they arrive classified in Failure/Message.
type Result struct {
	Attempt   domain.CallAttempt
	Initiated bool
	Failure   domain.FailureClass
	Message   string
}

// PlaceCall normalizes the address, offers the call to the gateway under a
// bounded timeout, and logs exactly one CallAttempt. The returned error is
// reserved for validation problems detected before the gateway is invoked.
func (s *Service) PlaceCall(ctx context.Context, in Input) (Result, error) {
	address, err := s.normalizer.Normalize(in.ContactAddress)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			return Result{}, err
		}
		return Result{}, apperrors.Wrap(err, "call service: normalize address")
	}

	offer := gateway.OfferRequest{
		DestinationAddress: address,
		IsVideo:            in.IsVideo,
		RingSeconds:        s.ringSeconds,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	gwResult := s.gateway.PlaceCall(callCtx, offer)
	cancel()

	attempt := domain.CallAttempt{
		ID:             uuid.New(),
		InstanceID:     in.InstanceID,
		TargetAgentID:  in.AgentID,
		ContactAddress: address,
		Direction:      in.Direction,
		IsVideo:        in.IsVideo,
		CreatedAt:      time.Now().UTC(),
	}

	result := Result{Initiated: gwResult.Initiated, Failure: gwResult.Failure, Message: gwResult.Message}
	if gwResult.Initiated {
		attempt.Status = domain.AttemptStatusInitiated
	} else {
		attempt.Status = domain.AttemptStatusFailed
		msg := string(gwResult.Failure)
		if gwResult.Message != "" {
			msg = gwResult.Message
		}
		attempt.ErrorMessage = &msg
		s.logger.Warn("call placement failed",
			zap.String("instance_id", in.InstanceID.String()),
			zap.String("agent_id", in.AgentID.String()),
			zap.String("failure", string(gwResult.Failure)),
			zap.String("message", gwResult.Message),
		)
	}

	// The attempt log is append-only and written exactly once per
	// placement; a write failure is loud but does not undo an offer the
	// gateway already received.
	if err := s.attempts.Append(ctx, attempt); err != nil {
		s.logger.Error("call service: append attempt", zap.Error(err),
			zap.String("attempt_id", attempt.ID.String()))
	}
	result.Attempt = attempt
	return result, nil
}

// History pages through an instance's attempt log for the reporting layer.
func (s *Service) History(ctx context.Context, instanceID uuid.UUID, limit int, pagingState []byte) ([]domain.CallAttempt, []byte, error) {
	return s.attempts.ListByInstance(ctx, instanceID, limit, pagingState)
}

// EncodePagingState converts the paging state to base64 for API responses.
func EncodePagingState(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return common.EncodeBase64(state)
}

// DecodePagingState decodes a base64 token to paging state bytes.
func DecodePagingState(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	return common.DecodeBase64(token)
}
