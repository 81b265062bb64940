package service

import (
	"context"

	"github.com/spec-kit/livechat-service/internal/ai"
	"github.com/spec-kit/livechat-service/internal/domain"
)

// Broadcaster fans events out to rooms and principals.
type Broadcaster interface {
	ToRoom(room, event string, payload any)
	ToRoomExcept(room, exceptConnID, event string, payload any)
	ToPrincipal(principalID, event string, payload any)
}

// Presence answers liveness questions about principals.
type Presence interface {
	IsOnline(principalID string) bool
	IsViewing(principalID, conversationID string) bool
}

// Session is one live connection as seen by the chat flows.
type Session interface {
	ID() string
	Principal() domain.Principal
	ConversationID() string
	BindConversation(id string)
	JoinRoom(room string)
	LeaveRoom(room string)
	SetViewing(conversationID, ticketID string)
	ClearViewing(conversationID string)
	Emit(event string, payload any)
}

// Completer produces an automated reply for a conversation transcript.
type Completer interface {
	Complete(ctx context.Context, messages []ai.Message) (string, error)
}
