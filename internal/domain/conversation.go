package domain

import "time"

// ConversationStatus enumerates lifecycle states of a conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
)

var conversationTransitions = map[ConversationStatus][]ConversationStatus{
	ConversationActive:   {ConversationActive, ConversationClosed, ConversationArchived},
	ConversationClosed:   {ConversationActive, ConversationArchived},
	ConversationArchived: {},
}

// CanTransitionConversation reports whether from -> to is a legal move.
func CanTransitionConversation(from, to ConversationStatus) bool {
	for _, next := range conversationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether the status is known.
func (s ConversationStatus) Valid() bool {
	_, ok := conversationTransitions[s]
	return ok
}

// ConversationMetadata holds the typed per-conversation bookkeeping.
type ConversationMetadata struct {
	InactivityWarningSentAt *time.Time `json:"inactivityWarningSentAt,omitempty"`
}

// Conversation is one end user's chat session.
type Conversation struct {
	ID                  string
	OwnerID             string
	TicketID            *string
	AssignedOperatorID  *string
	Status              ConversationStatus
	LastMessageAt       time.Time
	NeedsHumanAttention bool
	SpamCount           int
	UnreadCount         int
	Metadata            ConversationMetadata
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasTicket reports whether a ticket is attached.
func (c *Conversation) HasTicket() bool {
	return c.TicketID != nil && *c.TicketID != ""
}

// IsAssigned reports whether an operator owns the conversation.
func (c *Conversation) IsAssigned() bool {
	return c.AssignedOperatorID != nil && *c.AssignedOperatorID != ""
}

// AISuppressed reports whether automated replies must stay silent.
func (c *Conversation) AISuppressed() bool {
	return c.NeedsHumanAttention && c.HasTicket()
}
