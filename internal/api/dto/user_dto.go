package dto

import (
	"time"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

// CredentialsRequest payload for register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ActorResponse describes the resolved caller.
type ActorResponse struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Actor     ActorResponse `json:"actor"`
}

// SetRoleRequest payload for PUT /admin/profiles/:userId.
type SetRoleRequest struct {
	Role string `json:"role"`
}

// ProfileResponse is the wire form of a profile.
type ProfileResponse struct {
	UserID    string      `json:"user_id"`
	Role      domain.Role `json:"role"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ActorFrom maps an actor.
func ActorFrom(actor domain.Actor) ActorResponse {
	return ActorResponse{ID: actor.ID, Email: actor.Email, Role: actor.Role}
}
