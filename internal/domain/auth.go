package domain

import "strings"

// Role enumerates actor roles read from the profile record.
type Role string

const (
	RoleCustomer     Role = "CUSTOMER"
	RoleSupportAgent Role = "SUPPORT_AGENT"
	RoleAdmin        Role = "ADMIN"
	// RoleUnknown marks an actor whose role could not be resolved.
	RoleUnknown Role = "UNKNOWN"
)

// ParseRole normalizes a stored role value. Unrecognised values map to RoleUnknown.
func ParseRole(raw string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleCustomer:
		return RoleCustomer
	case RoleSupportAgent:
		return RoleSupportAgent
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// IsStaff reports whether the role triages tickets.
func (r Role) IsStaff() bool {
	return r == RoleSupportAgent || r == RoleAdmin
}

// Actor is an authenticated user with a resolved role.
type Actor struct {
	ID    string
	Email string
	Role  Role
}
