package domain

import "time"

// NotificationType enumerates alert kinds.
type NotificationType string

const (
	NotificationNewMessage        NotificationType = "new_message"
	NotificationInactivityWarning NotificationType = "inactivity_warning"
)

// Notification is a persisted "you have a new message" alert.
type Notification struct {
	ID             string
	RecipientID    string
	ConversationID string
	TicketID       *string
	TicketSubject  string
	SenderID       string
	SenderName     string
	SenderRole     Role
	Preview        string
	Type           NotificationType
	IsRead         bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}
