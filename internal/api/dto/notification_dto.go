package dto

import (
	"time"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// NotificationIDRequest addresses one notification.
type NotificationIDRequest struct {
	NotificationID string `json:"notificationId"`
}

// MarkManyReadRequest payload.
type MarkManyReadRequest struct {
	NotificationIDs []string `json:"notificationIds"`
}

// ConversationReadRequest addresses every notification of a conversation.
type ConversationReadRequest struct {
	ConversationID string `json:"conversationId"`
}

// NotificationResponse is the notification view.
type NotificationResponse struct {
	ID             string                  `json:"id"`
	ConversationID string                  `json:"conversationId"`
	TicketID       *string                 `json:"ticketId"`
	TicketSubject  string                  `json:"ticketSubject,omitempty"`
	SenderID       string                  `json:"senderId"`
	SenderName     string                  `json:"senderName"`
	SenderRole     domain.Role             `json:"senderRole"`
	Preview        string                  `json:"messagePreview"`
	Type           domain.NotificationType `json:"type"`
	IsRead         bool                    `json:"isRead"`
	ReadAt         *time.Time              `json:"readAt"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// TicketNewMessagePayload is the live alert pushed to a non-viewing recipient.
type TicketNewMessagePayload struct {
	TicketID       *string                 `json:"ticketId"`
	ConversationID string                  `json:"conversationId"`
	SenderName     string                  `json:"senderName"`
	SenderRole     domain.Role             `json:"senderRole"`
	MessagePreview string                  `json:"messagePreview"`
	Type           domain.NotificationType `json:"type"`
	Timestamp      time.Time               `json:"timestamp"`
}

// UnreadNotificationsPayload answers notification:get_unread.
type UnreadNotificationsPayload struct {
	Notifications []NotificationResponse `json:"notifications"`
	Count         int                    `json:"count"`
}

// NotificationCountPayload carries an unread badge count.
type NotificationCountPayload struct {
	Count int `json:"count"`
}

// NotificationAckPayload confirms a read or delete.
type NotificationAckPayload struct {
	NotificationID  string   `json:"notificationId,omitempty"`
	NotificationIDs []string `json:"notificationIds,omitempty"`
	ConversationID  string   `json:"conversationId,omitempty"`
	Affected        int64    `json:"affected"`
}

// NewNotificationResponse maps a notification.
func NewNotificationResponse(n *domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:             n.ID,
		ConversationID: n.ConversationID,
		TicketID:       n.TicketID,
		TicketSubject:  n.TicketSubject,
		SenderID:       n.SenderID,
		SenderName:     n.SenderName,
		SenderRole:     n.SenderRole,
		Preview:        n.Preview,
		Type:           n.Type,
		IsRead:         n.IsRead,
		ReadAt:         n.ReadAt,
		CreatedAt:      n.CreatedAt,
	}
}

// NewNotificationResponses maps a list.
func NewNotificationResponses(list []domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(list))
	for i := range list {
		out = append(out, NewNotificationResponse(&list[i]))
	}
	return out
}
