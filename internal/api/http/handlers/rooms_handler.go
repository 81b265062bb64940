package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/service"
)

// RoomsHandler exposes the internal operator rooms.
type RoomsHandler struct {
	rooms *service.RoomService
}

// NewRoomsHandler constructs handler.
func NewRoomsHandler(rooms *service.RoomService) *RoomsHandler {
	return &RoomsHandler{rooms: rooms}
}

// List GET /api/rooms.
func (h *RoomsHandler) List(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	rooms, err := h.rooms.List(c.UserContext(), principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRoomResponses(rooms)})
}

// General GET /api/rooms/general.
func (h *RoomsHandler) General(c *fiber.Ctx) error {
	if _, err := requirePrincipal(c); err != nil {
		return err
	}
	room, err := h.rooms.EnsureGeneral(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRoomResponse(room)})
}

// Create POST /api/rooms.
func (h *RoomsHandler) Create(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateRoomRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	room, err := h.rooms.Create(c.UserContext(), principal, req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewRoomResponse(room)})
}

// UpdateParticipants PUT /api/rooms/:id/participants.
func (h *RoomsHandler) UpdateParticipants(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateParticipantsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	room, err := h.rooms.UpdateParticipants(c.UserContext(), principal, c.Params("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRoomResponse(room)})
}

// MarkRead POST /api/rooms/:id/read.
func (h *RoomsHandler) MarkRead(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	ledger, err := h.rooms.MarkRead(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	snapshot := ledger.Snapshot()
	return c.JSON(fiber.Map{"data": dto.InternalUnreadPayload{
		RoomID:            c.Params("id"),
		UnreadCount:       snapshot.Total,
		UnreadCountByUser: snapshot.ByUser,
	}})
}

// Messages GET /api/rooms/:id/messages.
func (h *RoomsHandler) Messages(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	msgs, err := h.rooms.Messages(c.UserContext(), principal, c.Params("id"), parseIntQuery(c, "limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRoomMessageResponses(msgs)})
}
