package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen           TicketStatus = "open"
	TicketStatusInProgress     TicketStatus = "in_progress"
	TicketStatusWaitingDevTeam TicketStatus = "waiting_dev_team"
	TicketStatusResolved       TicketStatus = "resolved"
	TicketStatusReopened       TicketStatus = "reopened"
	TicketStatusArchived       TicketStatus = "archived"
	TicketStatusClosed         TicketStatus = "closed"
)

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:           {TicketStatusInProgress, TicketStatusWaitingDevTeam, TicketStatusResolved, TicketStatusClosed, TicketStatusArchived},
	TicketStatusInProgress:     {TicketStatusWaitingDevTeam, TicketStatusResolved, TicketStatusClosed},
	TicketStatusWaitingDevTeam: {TicketStatusInProgress, TicketStatusResolved},
	TicketStatusResolved:       {TicketStatusReopened, TicketStatusClosed, TicketStatusArchived},
	TicketStatusReopened:       {TicketStatusInProgress, TicketStatusWaitingDevTeam, TicketStatusResolved, TicketStatusClosed},
	TicketStatusClosed:         {TicketStatusReopened, TicketStatusArchived},
	TicketStatusArchived:       {},
}

// CanTransitionTicket reports whether from -> to is allowed.
func CanTransitionTicket(from, to TicketStatus) bool {
	for _, next := range ticketTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether the status is known.
func (s TicketStatus) Valid() bool {
	_, ok := ticketTransitions[s]
	return ok
}

// Valid reports whether the priority is known.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// Ticket is the support case attached to a conversation.
type Ticket struct {
	ID                 string
	ConversationID     string
	OwnerID            string
	Subject            string
	Status             TicketStatus
	Priority           TicketPriority
	AssignedOperatorID *string
	Unread             UnreadLedger
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ClosedAt           *time.Time
}
