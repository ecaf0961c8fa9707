package gateway

import (
	"testing"

	"github.com/acme/agent-dispatch/internal/domain"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code int
		want domain.FailureClass
	}{
		{200, domain.FailureNone},
		{201, domain.FailureNone},
		{404, domain.FailureGatewayNotConfigured},
		{401, domain.FailureGatewayAuth},
		{403, domain.FailureGatewayAuth},
		{400, domain.FailureGatewayBadRequest},
		{422, domain.FailureGatewayBadRequest},
		{500, domain.FailureGatewayServer},
		{503, domain.FailureGatewayServer},
	}

	for _, tc := range cases {
		if got := ClassifyStatus(tc.code); got != tc.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}
