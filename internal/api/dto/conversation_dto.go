package dto

import (
	"time"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// UpdateConversationStatusRequest payload.
type UpdateConversationStatusRequest struct {
	Status domain.ConversationStatus `json:"status"`
}

// AssignConversationRequest payload. Empty operator id assigns the caller.
type AssignConversationRequest struct {
	OperatorID string `json:"operatorId"`
}

// ConversationActionRequest payload.
type ConversationActionRequest struct {
	Action   domain.ActionType     `json:"action"`
	Priority domain.TicketPriority `json:"priority"`
	Reason   string                `json:"reason"`
}

// ConversationResponse is the conversation view shared by REST and realtime.
type ConversationResponse struct {
	ID                  string                      `json:"id"`
	OwnerID             string                      `json:"ownerId"`
	TicketID            *string                     `json:"ticketId"`
	AssignedOperatorID  *string                     `json:"assignedOperatorId"`
	Status              domain.ConversationStatus   `json:"status"`
	LastMessageAt       time.Time                   `json:"lastMessageAt"`
	NeedsHumanAttention bool                        `json:"needsHumanAttention"`
	SpamCount           int                         `json:"spamCount"`
	UnreadCount         int                         `json:"unreadCount"`
	Metadata            domain.ConversationMetadata `json:"metadata"`
	Ticket              *TicketResponse             `json:"ticket,omitempty"`
	CreatedAt           time.Time                   `json:"createdAt"`
	UpdatedAt           time.Time                   `json:"updatedAt"`
}

// ActionResultResponse reports what an action did.
type ActionResultResponse struct {
	Action       domain.ActionType     `json:"action"`
	Message      string                `json:"message"`
	Conversation *ConversationResponse `json:"conversation,omitempty"`
}

// NewConversationResponse maps a conversation with its optional ticket.
func NewConversationResponse(c *domain.Conversation, ticket *domain.Ticket) *ConversationResponse {
	if c == nil {
		return nil
	}
	return &ConversationResponse{
		ID:                  c.ID,
		OwnerID:             c.OwnerID,
		TicketID:            c.TicketID,
		AssignedOperatorID:  c.AssignedOperatorID,
		Status:              c.Status,
		LastMessageAt:       c.LastMessageAt,
		NeedsHumanAttention: c.NeedsHumanAttention,
		SpamCount:           c.SpamCount,
		UnreadCount:         c.UnreadCount,
		Metadata:            c.Metadata,
		Ticket:              NewTicketResponse(ticket),
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

// ConversationMessagePayload updates the operator conversation list.
type ConversationMessagePayload struct {
	ConversationID string                  `json:"conversationId"`
	LastMessage    string                  `json:"lastMessage"`
	LastMessageAt  time.Time               `json:"lastMessageAt"`
	IsFromAI       bool                    `json:"isFromAI"`
	IsFromSupport  bool                    `json:"isFromSupport"`
	SenderName     string                  `json:"senderName"`
	MessageType    domain.MessageType      `json:"messageType"`
	Metadata       *domain.MessageMetadata `json:"metadata"`
}

// ConnectedPayload is sent once a connection is bound to a conversation.
type ConnectedPayload struct {
	UserID         string                    `json:"userId"`
	Username       string                    `json:"username"`
	Role           domain.Role               `json:"role"`
	ConversationID string                    `json:"conversationId,omitempty"`
	Status         domain.ConversationStatus `json:"status,omitempty"`
	History        []MessageResponse         `json:"history"`
	UserBanned     bool                      `json:"userBanned"`
	BanExpiresAt   *time.Time                `json:"banExpiresAt,omitempty"`
}

// UnreadUpdatePayload carries a ticket's full unread ledger.
type UnreadUpdatePayload struct {
	ConversationID     string         `json:"conversationId"`
	TicketID           string         `json:"ticketId"`
	UnreadCountSupport int            `json:"unreadCountSupport"`
	UnreadCountAdmin   int            `json:"unreadCountAdmin"`
	UnreadCountByUser  map[string]int `json:"unreadCountByUser"`
}

// UnreadCountPayload carries the counter of a ticketless conversation.
type UnreadCountPayload struct {
	ConversationID string `json:"conversationId"`
	UnreadCount    int    `json:"unreadCount"`
}

// AINoResponsePayload explains why no automated reply was produced.
type AINoResponsePayload struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
}

// ConversationJoinRequest switches a connection to a conversation.
type ConversationJoinRequest struct {
	ConversationID string `json:"conversationId"`
}

// TicketViewingRequest reports which ticket a connection has open.
type TicketViewingRequest struct {
	ConversationID string `json:"conversationId"`
	TicketID       string `json:"ticketId"`
}
