package dto

import (
	"time"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// UpdateTicketRequest payload. Nil fields are left untouched.
type UpdateTicketRequest struct {
	Status   *domain.TicketStatus   `json:"status"`
	Priority *domain.TicketPriority `json:"priority"`
	Comment  string                 `json:"comment"`
}

// TicketResponse is the ticket view embedded in conversation payloads.
type TicketResponse struct {
	ID                 string                `json:"id"`
	ConversationID     string                `json:"conversationId"`
	OwnerID            string                `json:"ownerId"`
	Subject            string                `json:"subject"`
	Status             domain.TicketStatus   `json:"status"`
	Priority           domain.TicketPriority `json:"priority"`
	AssignedOperatorID *string               `json:"assignedOperatorId"`
	UnreadCountSupport int                   `json:"unreadCountSupport"`
	UnreadCountAdmin   int                   `json:"unreadCountAdmin"`
	UnreadCountByUser  map[string]int        `json:"unreadCountByUser"`
	CreatedAt          time.Time             `json:"createdAt"`
	UpdatedAt          time.Time             `json:"updatedAt"`
	ClosedAt           *time.Time            `json:"closedAt"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID         string                  `json:"id"`
	ChangedBy  string                  `json:"changedBy"`
	ChangeType domain.TicketChangeType `json:"changeType"`
	OldValue   map[string]any          `json:"oldValue"`
	NewValue   map[string]any          `json:"newValue"`
	CreatedAt  time.Time               `json:"createdAt"`
}

// NewTicketResponse maps a ticket.
func NewTicketResponse(t *domain.Ticket) *TicketResponse {
	if t == nil {
		return nil
	}
	ledger := t.Unread.Snapshot()
	return &TicketResponse{
		ID:                 t.ID,
		ConversationID:     t.ConversationID,
		OwnerID:            t.OwnerID,
		Subject:            t.Subject,
		Status:             t.Status,
		Priority:           t.Priority,
		AssignedOperatorID: t.AssignedOperatorID,
		UnreadCountSupport: ledger.Support,
		UnreadCountAdmin:   ledger.Admin,
		UnreadCountByUser:  ledger.ByUser,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
		ClosedAt:           t.ClosedAt,
	}
}

// NewTicketHistoryResponses maps audit entries.
func NewTicketHistoryResponses(entries []domain.TicketHistory) []TicketHistoryResponse {
	out := make([]TicketHistoryResponse, 0, len(entries))
	for _, h := range entries {
		out = append(out, TicketHistoryResponse{
			ID:         h.ID,
			ChangedBy:  h.ChangedBy,
			ChangeType: h.ChangeType,
			OldValue:   h.OldValue,
			NewValue:   h.NewValue,
			CreatedAt:  h.CreatedAt,
		})
	}
	return out
}
