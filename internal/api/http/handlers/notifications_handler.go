package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/service"
)

// NotificationsHandler serves the caller's own notifications.
type NotificationsHandler struct {
	notifications *service.NotificationService
}

// NewNotificationsHandler constructs handler.
func NewNotificationsHandler(notifications *service.NotificationService) *NotificationsHandler {
	return &NotificationsHandler{notifications: notifications}
}

// List GET /api/notifications.
func (h *NotificationsHandler) List(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	list, err := h.notifications.ListAll(c.UserContext(), principal.ExternalID, parseIntQuery(c, "limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewNotificationResponses(list)})
}

// Unread GET /api/notifications/unread.
func (h *NotificationsHandler) Unread(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	list, err := h.notifications.ListUnread(c.UserContext(), principal.ExternalID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.UnreadNotificationsPayload{
		Notifications: dto.NewNotificationResponses(list),
		Count:         len(list),
	}})
}

// UnreadCount GET /api/notifications/unread/count.
func (h *NotificationsHandler) UnreadCount(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	count, err := h.notifications.CountUnread(c.UserContext(), principal.ExternalID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NotificationCountPayload{Count: count}})
}

// MarkRead PATCH /api/notifications/:id/read.
func (h *NotificationsHandler) MarkRead(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.notifications.MarkRead(c.UserContext(), principal.ExternalID, c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NotificationAckPayload{NotificationID: c.Params("id"), Affected: 1}})
}

// MarkManyRead PATCH /api/notifications/read.
func (h *NotificationsHandler) MarkManyRead(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.MarkManyReadRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	affected, err := h.notifications.MarkManyRead(c.UserContext(), principal.ExternalID, req.NotificationIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NotificationAckPayload{NotificationIDs: req.NotificationIDs, Affected: affected}})
}

// MarkConversationRead PATCH /api/notifications/conversations/:conversationId/read.
func (h *NotificationsHandler) MarkConversationRead(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	conversationID := c.Params("conversationId")
	affected, err := h.notifications.MarkConversationRead(c.UserContext(), principal.ExternalID, conversationID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NotificationAckPayload{ConversationID: conversationID, Affected: affected}})
}

// Delete DELETE /api/notifications/:id.
func (h *NotificationsHandler) Delete(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	if err := h.notifications.Delete(c.UserContext(), principal.ExternalID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteRead DELETE /api/notifications/read.
func (h *NotificationsHandler) DeleteRead(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	affected, err := h.notifications.DeleteRead(c.UserContext(), principal.ExternalID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NotificationAckPayload{Affected: affected}})
}
