package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/agent-dispatch/internal/dialplan"
	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/gateway"
	"github.com/acme/agent-dispatch/internal/repository/memory"
	apperrors "github.com/acme/agent-dispatch/pkg/errors"
	"github.com/acme/agent-dispatch/pkg/logger"
)

type fixedGateway struct {
	result  gateway.Result
	lastReq gateway.OfferRequest
	invoked int
}

func (g *fixedGateway) PlaceCall(ctx context.Context, req gateway.OfferRequest) gateway.Result {
	g.invoked++
	g.lastReq = req
	return g.result
}

func newExecutor(gw gateway.Gateway, attempts *memory.AttemptStore) *Service {
	return NewService(gw, attempts, dialplan.Digits{}, &logger.Logger{Logger: zap.NewNop()}, 25, time.Second)
}

func TestPlaceCallSuccess(t *testing.T) {
	gw := &fixedGateway{result: gateway.Result{Initiated: true}}
	attempts := memory.NewAttemptStore()
	svc := newExecutor(gw, attempts)

	result, err := svc.PlaceCall(context.Background(), Input{
		InstanceID:     uuid.New(),
		AgentID:        uuid.New(),
		ContactAddress: "(555) 123-4567",
		Direction:      domain.DirectionInbound,
	})
	if err != nil {
		t.Fatalf("place call: %v", err)
	}

	if !result.Initiated {
		t.Fatal("expected initiated result")
	}
	if gw.lastReq.DestinationAddress != "5551234567" {
		t.Fatalf("gateway received address %q, want normalized digits", gw.lastReq.DestinationAddress)
	}
	if gw.lastReq.RingSeconds != 25 {
		t.Fatalf("ring seconds = %d, want 25", gw.lastReq.RingSeconds)
	}

	logged := attempts.All()
	if len(logged) != 1 {
		t.Fatalf("attempts logged = %d, want 1", len(logged))
	}
	if logged[0].Status != domain.AttemptStatusInitiated {
		t.Fatalf("attempt status = %s, want initiated", logged[0].Status)
	}
	if logged[0].ErrorMessage != nil {
		t.Fatalf("unexpected error message %q", *logged[0].ErrorMessage)
	}
}

func TestPlaceCallGatewayFailureIsNotAnError(t *testing.T) {
	gw := &fixedGateway{result: gateway.Result{
		Failure: domain.FailureGatewayAuth,
		Message: "bad credentials",
	}}
	attempts := memory.NewAttemptStore()
	svc := newExecutor(gw, attempts)

	result, err := svc.PlaceCall(context.Background(), Input{
		InstanceID:     uuid.New(),
		AgentID:        uuid.New(),
		ContactAddress: "5551234567",
	})
	if err != nil {
		t.Fatalf("gateway failure must not surface as error, got %v", err)
	}

	if result.Initiated {
		t.Fatal("expected failed result")
	}
	if result.Failure != domain.FailureGatewayAuth {
		t.Fatalf("failure = %s, want gateway_auth_error", result.Failure)
	}

	logged := attempts.All()
	if len(logged) != 1 {
		t.Fatalf("attempts logged = %d, want 1", len(logged))
	}
	if logged[0].Status != domain.AttemptStatusFailed {
		t.Fatalf("attempt status = %s, want failed", logged[0].Status)
	}
	if logged[0].ErrorMessage == nil || *logged[0].ErrorMessage != "bad credentials" {
		t.Fatalf("attempt error message = %v, want gateway message", logged[0].ErrorMessage)
	}
}

func TestPlaceCallRejectsUndialableAddress(t *testing.T) {
	gw := &fixedGateway{result: gateway.Result{Initiated: true}}
	attempts := memory.NewAttemptStore()
	svc := newExecutor(gw, attempts)

	_, err := svc.PlaceCall(context.Background(), Input{
		InstanceID:     uuid.New(),
		AgentID:        uuid.New(),
		ContactAddress: "not a number",
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}

	if gw.invoked != 0 {
		t.Fatal("gateway must not be invoked for an undialable address")
	}
	if len(attempts.All()) != 0 {
		t.Fatal("no attempt should be logged before the gateway is reached")
	}
}
