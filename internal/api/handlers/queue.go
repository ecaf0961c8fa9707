package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/agent-dispatch/internal/domain"
)

type membershipRequest struct {
	AgentID string `json:"agent_id"`
}

type availabilityRequest struct {
	AgentID   string `json:"agent_id"`
	Available *bool  `json:"available"`
}

type queueEntryResponse struct {
	InstanceID    string     `json:"instance_id"`
	AgentID       string     `json:"agent_id"`
	Position      int64      `json:"position"`
	IsAvailable   bool       `json:"is_available"`
	LastServedAt  *time.Time `json:"last_served_at,omitempty"`
	CallsReceived int64      `json:"calls_received"`
	JoinedAt      time.Time  `json:"joined_at"`
}

func toQueueEntryResponse(entry domain.QueueEntry) queueEntryResponse {
	return queueEntryResponse{
		InstanceID:    entry.InstanceID.String(),
		AgentID:       entry.AgentID.String(),
		Position:      entry.Position,
		IsAvailable:   entry.IsAvailable,
		LastServedAt:  entry.LastServedAt,
		CallsReceived: entry.CallsReceived,
		JoinedAt:      entry.CreatedAt,
	}
}

func parseInstanceID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("instance_id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid instance id")
	}
	return id, nil
}

func (h *HandlerSet) listMembers(ctx *fiber.Ctx) error {
	instanceID, err := parseInstanceID(ctx)
	if err != nil {
		return err
	}

	entries, err := h.queue.Members(ctx.Context(), instanceID)
	if err != nil {
		return translateError(err)
	}

	resp := make([]queueEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, toQueueEntryResponse(entry))
	}
	return ctx.JSON(fiber.Map{"members": resp})
}

func (h *HandlerSet) nextCandidate(ctx *fiber.Ctx) error {
	instanceID, err := parseInstanceID(ctx)
	if err != nil {
		return err
	}

	candidate, err := h.dispatch.PeekCandidate(ctx.Context(), instanceID)
	if err != nil {
		return translateError(err)
	}
	if candidate == nil {
		return ctx.JSON(fiber.Map{"candidate": nil})
	}
	return ctx.JSON(fiber.Map{"candidate": toQueueEntryResponse(*candidate)})
}

func (h *HandlerSet) joinQueue(ctx *fiber.Ctx) error {
	instanceID, err := parseInstanceID(ctx)
	if err != nil {
		return err
	}

	var req membershipRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid agent id")
	}

	entry, err := h.queue.Join(ctx.Context(), instanceID, agentID)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toQueueEntryResponse(entry))
}

func (h *HandlerSet) leaveQueue(ctx *fiber.Ctx) error {
	instanceID, err := parseInstanceID(ctx)
	if err != nil {
		return err
	}

	var req membershipRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid agent id")
	}

	if err := h.queue.Leave(ctx.Context(), instanceID, agentID); err != nil {
		return translateError(err)
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func (h *HandlerSet) setAvailability(ctx *fiber.Ctx) error {
	instanceID, err := parseInstanceID(ctx)
	if err != nil {
		return err
	}

	var req availabilityRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid agent id")
	}
	if req.Available == nil {
		return fiber.NewError(http.StatusBadRequest, "available is required")
	}

	entry, err := h.queue.SetAvailability(ctx.Context(), instanceID, agentID, *req.Available)
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toQueueEntryResponse(entry))
}
