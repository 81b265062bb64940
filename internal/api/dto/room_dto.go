package dto

import (
	"time"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// CreateRoomRequest payload.
type CreateRoomRequest struct {
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
}

// UpdateParticipantsRequest payload.
type UpdateParticipantsRequest struct {
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
}

// RoomMessageRequest is the inbound internal room message.
type RoomMessageRequest struct {
	RoomID      string                  `json:"roomId"`
	Content     string                  `json:"content"`
	MessageType domain.MessageType      `json:"messageType"`
	Metadata    *domain.MessageMetadata `json:"metadata"`
}

// RoomResponse is the room view.
type RoomResponse struct {
	ID                string         `json:"id"`
	Title             string         `json:"title"`
	Participants      []string       `json:"participants"`
	IsGeneral         bool           `json:"isGeneral"`
	CreatedBy         string         `json:"createdBy"`
	LastMessageAt     time.Time      `json:"lastMessageAt"`
	UnreadCount       int            `json:"unreadCount"`
	UnreadCountByUser map[string]int `json:"unreadCountByUser"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// RoomMessageResponse is a room message view.
type RoomMessageResponse struct {
	ID        string                  `json:"id"`
	RoomID    string                  `json:"roomId"`
	Sender    SenderResponse          `json:"sender"`
	Content   string                  `json:"content"`
	Type      domain.MessageType      `json:"messageType"`
	Metadata  *domain.MessageMetadata `json:"metadata"`
	CreatedAt time.Time               `json:"createdAt"`
}

// InternalUnreadPayload carries a room's full unread ledger.
type InternalUnreadPayload struct {
	RoomID            string         `json:"roomId"`
	UnreadCount       int            `json:"unreadCount"`
	UnreadCountByUser map[string]int `json:"unreadCountByUser"`
}

// NewRoomResponse maps a room.
func NewRoomResponse(r *domain.Room) RoomResponse {
	ledger := r.Unread.Snapshot()
	return RoomResponse{
		ID:                r.ID,
		Title:             r.Title,
		Participants:      r.Participants,
		IsGeneral:         r.IsGeneral,
		CreatedBy:         r.CreatedBy,
		LastMessageAt:     r.LastMessageAt,
		UnreadCount:       ledger.Total,
		UnreadCountByUser: ledger.ByUser,
		CreatedAt:         r.CreatedAt,
	}
}

// NewRoomResponses maps a room list.
func NewRoomResponses(rooms []domain.Room) []RoomResponse {
	out := make([]RoomResponse, 0, len(rooms))
	for i := range rooms {
		out = append(out, NewRoomResponse(&rooms[i]))
	}
	return out
}

// NewRoomMessageResponse maps a room message.
func NewRoomMessageResponse(m *domain.RoomMessage) RoomMessageResponse {
	return RoomMessageResponse{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Sender:    SenderResponse{ID: m.SenderID, Name: m.SenderName, Role: m.SenderRole},
		Content:   m.Content,
		Type:      m.Type,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
	}
}

// NewRoomMessageResponses maps a list.
func NewRoomMessageResponses(msgs []domain.RoomMessage) []RoomMessageResponse {
	out := make([]RoomMessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewRoomMessageResponse(&msgs[i]))
	}
	return out
}

// RoomJoinedPayload answers an internal room join with recent messages.
type RoomJoinedPayload struct {
	Room     RoomResponse          `json:"room"`
	Messages []RoomMessageResponse `json:"messages"`
}

// RoomJoinRequest is the inbound room join.
type RoomJoinRequest struct {
	RoomID string `json:"roomId"`
}
