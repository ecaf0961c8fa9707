package gateway

import (
	"context"

	"github.com/acme/agent-dispatch/internal/domain"
)

// OfferRequest is the call offer handed to the telephony gateway.
type OfferRequest struct {
	DestinationAddress string `json:"destination_address"`
	IsVideo            bool   `json:"is_video"`
	RingSeconds        int    `json:"ring_seconds"`
}

// Result captures the outcome of a gateway invocation. Failure is
// FailureNone when the offer was accepted.
type Result struct {
	Initiated bool
	Failure   domain.FailureClass
	Message   string
}

// Gateway abstracts the external call-placement endpoint. Implementations
// must classify every failure into the taxonomy and never surface raw
// transport errors.
type Gateway interface {
	PlaceCall(ctx context.Context, req OfferRequest) Result
}

// ClassifyStatus maps a gateway transport status code onto the failure
// taxonomy. Codes in the 2xx range classify as FailureNone.
func ClassifyStatus(code int) domain.FailureClass {
	switch {
	case code >= 200 && code < 300:
		return domain.FailureNone
	case code == 404:
		return domain.FailureGatewayNotConfigured
	case code == 401 || code == 403:
		return domain.FailureGatewayAuth
	case code >= 400 && code < 500:
		return domain.FailureGatewayBadRequest
	default:
		return domain.FailureGatewayServer
	}
}
