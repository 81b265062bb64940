package domain

import "time"

// Room is an operator-only internal discussion channel.
type Room struct {
	ID            string
	Title         string
	Participants  []string
	IsGeneral     bool
	CreatedBy     string
	LastMessageAt time.Time
	Unread        UnreadLedger
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasParticipant reports membership.
func (r *Room) HasParticipant(principalID string) bool {
	for _, p := range r.Participants {
		if p == principalID {
			return true
		}
	}
	return false
}
