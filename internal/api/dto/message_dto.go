package dto

import (
	"time"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// SendMessageRequest is the inbound chat message shape for every message event.
type SendMessageRequest struct {
	ConversationID string                  `json:"conversationId"`
	Content        string                  `json:"content"`
	ImageURL       string                  `json:"imageUrl"`
	MessageType    domain.MessageType      `json:"messageType"`
	Metadata       *domain.MessageMetadata `json:"metadata"`
}

// EditNoteRequest payload.
type EditNoteRequest struct {
	Content string `json:"content"`
}

// SenderResponse describes who wrote a message.
type SenderResponse struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
}

// MessageResponse is the message view shared by REST and realtime.
type MessageResponse struct {
	ID             string                  `json:"id"`
	ConversationID string                  `json:"conversationId"`
	Sender         SenderResponse          `json:"sender"`
	Content        string                  `json:"content"`
	MessageType    domain.MessageType      `json:"messageType"`
	IsFromAI       bool                    `json:"isFromAI"`
	IsInternal     bool                    `json:"isInternal"`
	IsEdited       bool                    `json:"isEdited"`
	Metadata       *domain.MessageMetadata `json:"metadata"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// NewMessageResponse maps a message.
func NewMessageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         SenderResponse{ID: m.SenderID, Name: m.SenderName, Role: m.SenderRole},
		Content:        m.Content,
		MessageType:    m.Type,
		IsFromAI:       m.IsFromAI,
		IsInternal:     m.IsInternal,
		IsEdited:       m.IsEdited,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}
}

// NewMessageResponses maps a message list.
func NewMessageResponses(msgs []domain.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewMessageResponse(&msgs[i]))
	}
	return out
}
