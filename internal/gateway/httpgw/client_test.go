package httpgw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acme/agent-dispatch/internal/config"
	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/gateway"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(config.GatewayConfig{BaseURL: srv.URL, APIKey: "test-key"})
}

func TestPlaceCallSuccess(t *testing.T) {
	var gotAuth string
	var gotOffer gateway.OfferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotOffer); err != nil {
			t.Errorf("decode offer: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := newTestClient(srv)
	result := client.PlaceCall(context.Background(), gateway.OfferRequest{
		DestinationAddress: "5551234567",
		RingSeconds:        30,
	})

	if !result.Initiated {
		t.Fatalf("result = %+v, want initiated", result)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotOffer.DestinationAddress != "5551234567" || gotOffer.RingSeconds != 30 {
		t.Fatalf("offer = %+v", gotOffer)
	}
}

func TestPlaceCallClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   domain.FailureClass
	}{
		{http.StatusNotFound, domain.FailureGatewayNotConfigured},
		{http.StatusUnauthorized, domain.FailureGatewayAuth},
		{http.StatusForbidden, domain.FailureGatewayAuth},
		{http.StatusUnprocessableEntity, domain.FailureGatewayBadRequest},
		{http.StatusInternalServerError, domain.FailureGatewayServer},
		{http.StatusBadGateway, domain.FailureGatewayServer},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		result := newTestClient(srv).PlaceCall(context.Background(), gateway.OfferRequest{DestinationAddress: "5551234567"})
		srv.Close()

		if result.Initiated {
			t.Errorf("status %d: unexpected initiated result", tc.status)
		}
		if result.Failure != tc.want {
			t.Errorf("status %d: failure = %s, want %s", tc.status, result.Failure, tc.want)
		}
	}
}

func TestPlaceCallUsesGatewayErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "destination not dialable"})
	}))
	defer srv.Close()

	result := newTestClient(srv).PlaceCall(context.Background(), gateway.OfferRequest{DestinationAddress: "5551234567"})

	if result.Failure != domain.FailureGatewayBadRequest {
		t.Fatalf("failure = %s, want gateway_bad_request", result.Failure)
	}
	if result.Message != "destination not dialable" {
		t.Fatalf("message = %q", result.Message)
	}
}

func TestPlaceCallNetworkErrorIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	result := newTestClient(srv).PlaceCall(context.Background(), gateway.OfferRequest{DestinationAddress: "5551234567"})

	if result.Initiated {
		t.Fatal("unexpected initiated result")
	}
	if result.Failure != domain.FailureNetwork {
		t.Fatalf("failure = %s, want network_error", result.Failure)
	}
}
