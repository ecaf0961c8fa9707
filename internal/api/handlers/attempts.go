package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/agent-dispatch/internal/domain"
	callsvc "github.com/acme/agent-dispatch/internal/service/call"
)

const (
	defaultAttemptsPageSize = 50
	maxAttemptsPageSize     = 500
)

type attemptResponse struct {
	ID             string    `json:"id"`
	InstanceID     string    `json:"instance_id"`
	TargetAgentID  string    `json:"target_agent_id"`
	ContactAddress string    `json:"contact_address"`
	Direction      string    `json:"direction"`
	Status         string    `json:"status"`
	IsVideo        bool      `json:"is_video"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toAttemptResponse(attempt domain.CallAttempt) attemptResponse {
	return attemptResponse{
		ID:             attempt.ID.String(),
		InstanceID:     attempt.InstanceID.String(),
		TargetAgentID:  attempt.TargetAgentID.String(),
		ContactAddress: attempt.ContactAddress,
		Direction:      string(attempt.Direction),
		Status:         string(attempt.Status),
		IsVideo:        attempt.IsVideo,
		ErrorMessage:   attempt.ErrorMessage,
		CreatedAt:      attempt.CreatedAt,
	}
}

func (h *HandlerSet) listAttempts(ctx *fiber.Ctx) error {
	instanceID, err := parseInstanceID(ctx)
	if err != nil {
		return err
	}

	limit := ctx.QueryInt("limit", defaultAttemptsPageSize)
	if limit <= 0 || limit > maxAttemptsPageSize {
		limit = defaultAttemptsPageSize
	}

	pagingState, err := callsvc.DecodePagingState(ctx.Query("page_token"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid page token")
	}

	attempts, nextState, err := h.calls.History(ctx.Context(), instanceID, limit, pagingState)
	if err != nil {
		return translateError(err)
	}

	resp := make([]attemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		resp = append(resp, toAttemptResponse(attempt))
	}

	return ctx.JSON(fiber.Map{
		"attempts":        resp,
		"next_page_token": callsvc.EncodePagingState(nextState),
	})
}
