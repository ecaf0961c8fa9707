// Package httpgw implements the telephony gateway over its HTTP call-offer
// endpoint.
package httpgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/acme/agent-dispatch/internal/config"
	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/gateway"
)

// Client invokes the gateway's call-offer endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient constructs a gateway client from config. The HTTP client
// carries no timeout of its own; callers bound each invocation through
// the request context.
func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{},
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PlaceCall posts the call offer and classifies the response. A missing
// response (dial error, timeout) classifies as a network failure, distinct
// from any HTTP error status.
func (c *Client) PlaceCall(ctx context.Context, req gateway.OfferRequest) gateway.Result {
	payload, err := json.Marshal(req)
	if err != nil {
		return gateway.Result{Failure: domain.FailureGatewayBadRequest, Message: fmt.Sprintf("encode offer: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/calls", bytes.NewReader(payload))
	if err != nil {
		return gateway.Result{Failure: domain.FailureGatewayBadRequest, Message: fmt.Sprintf("build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gateway.Result{Failure: domain.FailureNetwork, Message: fmt.Sprintf("gateway unreachable: %v", err)}
	}
	defer resp.Body.Close()

	class := gateway.ClassifyStatus(resp.StatusCode)
	if class == domain.FailureNone {
		return gateway.Result{Initiated: true}
	}

	return gateway.Result{Failure: class, Message: readErrorMessage(resp)}
}

func readErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return fmt.Sprintf("gateway returned status %d", resp.StatusCode)
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return fmt.Sprintf("gateway returned status %d: %s", resp.StatusCode, string(body))
}
