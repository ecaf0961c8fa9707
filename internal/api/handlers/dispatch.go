package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/agent-dispatch/internal/domain"
	dispatchsvc "github.com/acme/agent-dispatch/internal/service/dispatch"
)

type dispatchRequest struct {
	ContactAddress string `json:"contact_address"`
	IsVideo        bool   `json:"is_video"`
	Direction      string `json:"direction"`
}

type dispatchResponse struct {
	InstanceID string  `json:"instance_id"`
	AgentID    *string `json:"agent_id,omitempty"`
	Outcome    string  `json:"outcome"`
	Failure    string  `json:"failure,omitempty"`
	Message    string  `json:"message,omitempty"`
	AttemptID  *string `json:"attempt_id,omitempty"`
}

func toDispatchResponse(result *dispatchsvc.Result) dispatchResponse {
	resp := dispatchResponse{
		InstanceID: result.InstanceID.String(),
		Outcome:    string(result.Outcome),
		Failure:    string(result.Failure),
		Message:    result.Message,
	}
	if result.AgentID != nil {
		id := result.AgentID.String()
		resp.AgentID = &id
	}
	if result.Attempt != nil {
		id := result.Attempt.ID.String()
		resp.AttemptID = &id
	}
	return resp
}

func (h *HandlerSet) triggerDispatch(ctx *fiber.Ctx) error {
	instanceID, err := parseInstanceID(ctx)
	if err != nil {
		return err
	}

	var req dispatchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if req.ContactAddress == "" {
		return fiber.NewError(http.StatusBadRequest, "contact_address is required")
	}

	direction := domain.CallDirection(req.Direction)
	switch direction {
	case "", domain.DirectionInbound, domain.DirectionOutbound:
	default:
		return fiber.NewError(http.StatusBadRequest, "invalid direction")
	}

	result, err := h.dispatch.Dispatch(ctx.Context(), dispatchsvc.Input{
		InstanceID:     instanceID,
		ContactAddress: req.ContactAddress,
		IsVideo:        req.IsVideo,
		Direction:      direction,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toDispatchResponse(result))
}
