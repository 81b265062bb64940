package dto

import (
	"time"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// UserStatusPayload announces presence changes.
type UserStatusPayload struct {
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
	IsOnline bool        `json:"isOnline"`
	LastSeen *time.Time  `json:"lastSeen,omitempty"`
}

// TypingPayload relays a typing indicator.
type TypingPayload struct {
	ConversationID string      `json:"conversationId"`
	UserID         string      `json:"userId"`
	Username       string      `json:"username"`
	Role           domain.Role `json:"role"`
	IsTyping       bool        `json:"isTyping"`
}

// ErrorPayload is the realtime error frame.
type ErrorPayload struct {
	Message     string     `json:"message"`
	Details     string     `json:"details,omitempty"`
	Warnings    int        `json:"warnings,omitempty"`
	BannedUntil *time.Time `json:"bannedUntil,omitempty"`
}
