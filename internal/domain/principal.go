package domain

// Role identifies what an authenticated principal is allowed to do.
type Role string

const (
	RoleUser    Role = "user"
	RoleSupport Role = "support"
	RoleAdmin   Role = "admin"
)

// Reserved sender ids for messages not authored by a principal.
const (
	AssistantSenderID = "assistant"
	SystemSenderID    = "system"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSupport, RoleAdmin:
		return true
	}
	return false
}

// IsOperator reports whether the role belongs to support staff.
func (r Role) IsOperator() bool {
	return r == RoleSupport || r == RoleAdmin
}

// Principal is an authenticated actor identified by a stable external id.
type Principal struct {
	ExternalID  string
	Role        Role
	DisplayName string
}
