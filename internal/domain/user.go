package domain

import "time"

// User is the local record kept for every principal that has connected.
type User struct {
	ExternalID          string
	DisplayName         string
	Role                Role
	IsOnline            bool
	LastSeen            *time.Time
	ImageUploadWarnings int
	LastImageWarningAt  *time.Time
	IsBanned            bool
	BannedAt            *time.Time
	BannedUntil         *time.Time
	BanReason           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// BanActive reports whether the user is banned at the given instant.
// A ban without an end date never expires.
func (u *User) BanActive(now time.Time) bool {
	if !u.IsBanned {
		return false
	}
	return u.BannedUntil == nil || now.Before(*u.BannedUntil)
}

// BanExpired reports a ban flag whose end date has passed.
func (u *User) BanExpired(now time.Time) bool {
	return u.IsBanned && u.BannedUntil != nil && !now.Before(*u.BannedUntil)
}

// Principal returns the principal view of the user.
func (u *User) Principal() Principal {
	return Principal{ExternalID: u.ExternalID, Role: u.Role, DisplayName: u.DisplayName}
}
