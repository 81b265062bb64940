package events

import (
	"time"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventMessageCreated            EventType = "message_created"
	EventConversationCreated       EventType = "conversation_created"
	EventConversationStatusChanged EventType = "conversation_status_changed"
	EventConversationAssigned      EventType = "conversation_assigned"
	EventTicketCreated             EventType = "ticket_created"
	EventTicketStatusChanged       EventType = "ticket_status_changed"
	EventTicketPriorityChanged     EventType = "ticket_priority_changed"
	EventUserWarned                EventType = "user_warned"
	EventUserBanned                EventType = "user_banned"
	EventNotificationCreated       EventType = "notification_created"
)

// Actor identifies who caused an event.
type Actor struct {
	PrincipalID string      `json:"principal_id"`
	Role        domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID          string      `json:"id"`
	Type        EventType   `json:"type"`
	AggregateID string      `json:"aggregate_id"`
	Actor       Actor       `json:"actor"`
	Timestamp   time.Time   `json:"timestamp"`
	Payload     interface{} `json:"payload"`
}

// MessageCreatedPayload payload.
type MessageCreatedPayload struct {
	MessageID   string             `json:"message_id"`
	MessageType domain.MessageType `json:"message_type"`
	IsFromAI    bool               `json:"is_from_ai"`
	IsInternal  bool               `json:"is_internal"`
	BodyPreview string             `json:"body_preview"`
}

// ConversationStatusChangedPayload payload.
type ConversationStatusChangedPayload struct {
	OldStatus domain.ConversationStatus `json:"old_status"`
	NewStatus domain.ConversationStatus `json:"new_status"`
	Reason    string                    `json:"reason,omitempty"`
}

// ConversationAssignedPayload payload.
type ConversationAssignedPayload struct {
	OperatorID string  `json:"operator_id"`
	TicketID   *string `json:"ticket_id,omitempty"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	TicketID       string                `json:"ticket_id"`
	ConversationID string                `json:"conversation_id"`
	Priority       domain.TicketPriority `json:"priority"`
	Subject        string                `json:"subject"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}

// UserWarnedPayload payload.
type UserWarnedPayload struct {
	Warnings int    `json:"warnings"`
	Reason   string `json:"reason"`
}

// UserBannedPayload payload.
type UserBannedPayload struct {
	Reason      string    `json:"reason"`
	BannedUntil time.Time `json:"banned_until"`
}

// NotificationCreatedPayload payload.
type NotificationCreatedPayload struct {
	NotificationID string                  `json:"notification_id"`
	RecipientID    string                  `json:"recipient_id"`
	Type           domain.NotificationType `json:"type"`
}
