package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/service"
)

const defaultPageSize = 50

// ConversationsHandler exposes conversation endpoints for end users and
// operators.
type ConversationsHandler struct {
	conversations *service.ConversationService
	messages      *service.MessageService
	chat          *service.ChatService
	historyLimit  int
}

// NewConversationsHandler constructs handler.
func NewConversationsHandler(conversations *service.ConversationService, messages *service.MessageService, chat *service.ChatService, historyLimit int) *ConversationsHandler {
	if historyLimit <= 0 {
		historyLimit = defaultPageSize
	}
	return &ConversationsHandler{
		conversations: conversations,
		messages:      messages,
		chat:          chat,
		historyLimit:  historyLimit,
	}
}

// List GET /api/conversations.
func (h *ConversationsHandler) List(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	filter := service.ConversationListFilter{
		NeedsHumanOnly: parseBoolQuery(c, "needs_human", false),
		AssignedToMe:   parseBoolQuery(c, "assigned_to_me", false),
	}
	for _, status := range parseListQuery(c, "status") {
		filter.Statuses = append(filter.Statuses, domain.ConversationStatus(status))
	}
	page := parseIntQuery(c, "page", 1)
	pageSize := parseIntQuery(c, "page_size", defaultPageSize)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize

	list, err := h.conversations.List(c.UserContext(), principal, filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": list})
}

// Get GET /api/conversations/:id.
func (h *ConversationsHandler) Get(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.GetForPrincipal(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.conversations.View(c.UserContext(), conv)})
}

// Messages GET /api/conversations/:id/messages.
func (h *ConversationsHandler) Messages(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	conv, err := h.conversations.GetForPrincipal(c.UserContext(), principal, c.Params("id"))
	if err != nil {
		return err
	}
	limit := parseIntQuery(c, "limit", h.historyLimit)
	if limit > h.historyLimit {
		limit = h.historyLimit
	}
	msgs, err := h.messages.History(c.UserContext(), conv.ID, limit, principal.Role.IsOperator())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMessageResponses(msgs)})
}

// MarkRead POST /api/conversations/:id/read.
func (h *ConversationsHandler) MarkRead(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.chat.MarkConversationRead(c.UserContext(), principal, c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"status": "read"}})
}

// UpdateStatus PATCH /api/conversations/:id/status.
func (h *ConversationsHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateConversationStatusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	conv, err := h.conversations.UpdateStatus(c.UserContext(), principal, c.Params("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.conversations.View(c.UserContext(), conv)})
}

// Assign POST /api/conversations/:id/assign.
func (h *ConversationsHandler) Assign(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AssignConversationRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	conv, err := h.conversations.Assign(c.UserContext(), principal, c.Params("id"), req.OperatorID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.conversations.View(c.UserContext(), conv)})
}

// ExecuteAction POST /api/conversations/:id/actions.
func (h *ConversationsHandler) ExecuteAction(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ConversationActionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	result, err := h.conversations.ExecuteAction(c.UserContext(), principal, c.Params("id"), service.ActionRequest{
		Action:   req.Action,
		Priority: req.Priority,
		Reason:   req.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ActionResultResponse{
		Action:       result.Action,
		Message:      result.Message,
		Conversation: h.conversations.View(c.UserContext(), result.Conversation),
	}})
}

// EditNote PATCH /api/notes/:id.
func (h *ConversationsHandler) EditNote(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.EditNoteRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	note, err := h.messages.EditNote(c.UserContext(), principal, c.Params("id"), req.Content)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewMessageResponse(note)})
}
