package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/policy"
	"github.com/helpdesk-labs/ticket-sync/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

// ProfileService lets admins assign roles.
type ProfileService struct {
	profiles repository.ProfileRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewProfileService constructs the service.
func NewProfileService(profiles repository.ProfileRepository, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{profiles: profiles, logger: logger, now: time.Now}
}

// SetRole records role for userID. Takes effect on the user's next request.
func (s *ProfileService) SetRole(ctx context.Context, actor domain.Actor, userID string, role domain.Role) (*domain.Profile, error) {
	if !policy.CanManageProfiles(actor) {
		return nil, apperrors.NewPolicyDenied("only admins can change roles")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewValidationError("user id is required", map[string]any{"user_id": "required"})
	}
	if role == domain.RoleUnknown || domain.ParseRole(string(role)) != role {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": role})
	}

	profile := &domain.Profile{UserID: userID, Role: role, UpdatedAt: s.now().UTC()}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return nil, apperrors.StoreError(err, "profile", map[string]any{"user_id": userID})
	}
	s.logger.Info("role changed",
		zap.String("user_id", userID),
		zap.String("role", string(role)),
		zap.String("changed_by", actor.ID))
	return profile, nil
}

// Get returns the stored profile for userID.
func (s *ProfileService) Get(ctx context.Context, actor domain.Actor, userID string) (*domain.Profile, error) {
	if !policy.CanManageProfiles(actor) && actor.ID != userID {
		return nil, apperrors.NewPolicyDenied("not permitted to read profile")
	}
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.StoreError(err, "profile", map[string]any{"user_id": userID})
	}
	return profile, nil
}
