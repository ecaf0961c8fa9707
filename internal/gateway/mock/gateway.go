package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/gateway"
)

// Gateway simulates the telephony gateway for local development.
type Gateway struct {
	successRate float64
	rng         *rand.Rand
}

// NewGateway constructs a mock gateway.
func NewGateway() *Gateway {
	return &Gateway{
		successRate: 0.9,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PlaceCall simulates a call offer.
func (g *Gateway) PlaceCall(ctx context.Context, req gateway.OfferRequest) gateway.Result {
	delay := time.Duration(10+g.rng.Intn(40)) * time.Millisecond

	select {
	case <-ctx.Done():
		return gateway.Result{Failure: domain.FailureNetwork, Message: ctx.Err().Error()}
	case <-time.After(delay):
	}

	if g.rng.Float64() <= g.successRate {
		return gateway.Result{Initiated: true}
	}
	return gateway.Result{Failure: domain.FailureGatewayServer, Message: "simulated gateway failure"}
}
