// Package identity maps authenticated sessions to actors.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

// Session is what the identity provider vouches for: a stable user id and an email.
type Session struct {
	UserID string
	Email  string
}

// Resolver reads the role for a session from the profile collection.
type Resolver struct {
	profiles repository.ProfileRepository
	logger   *zap.Logger
}

// NewResolver constructs a resolver.
func NewResolver(profiles repository.ProfileRepository, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{profiles: profiles, logger: logger}
}

// Resolve returns the actor for session. When the profile or its role is
// absent the returned actor carries RoleUnknown alongside PROFILE_MISSING.
func (r *Resolver) Resolve(ctx context.Context, session *Session) (domain.Actor, error) {
	if session == nil || strings.TrimSpace(session.UserID) == "" {
		return domain.Actor{}, apperrors.NewUnauthorized("unauthenticated")
	}
	actor := domain.Actor{
		ID:    session.UserID,
		Email: strings.TrimSpace(session.Email),
		Role:  domain.RoleUnknown,
	}

	profile, err := r.profiles.GetByUserID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return actor, apperrors.NewProfileMissing(session.UserID)
		}
		return actor, apperrors.NewStoreUnavailable(err)
	}
	if profile.Role == "" {
		return actor, apperrors.NewProfileMissing(session.UserID)
	}
	actor.Role = profile.Role
	return actor, nil
}

// ActorFor resolves session and falls back to the least-privileged role when
// no profile exists. Other failures are returned unchanged.
func (r *Resolver) ActorFor(ctx context.Context, session *Session) (domain.Actor, error) {
	actor, err := r.Resolve(ctx, session)
	if errors.Is(err, apperrors.ErrProfileMissing) {
		r.logger.Warn("profile missing, defaulting to customer", zap.String("user_id", actor.ID))
		actor.Role = domain.RoleCustomer
		return actor, nil
	}
	return actor, err
}
