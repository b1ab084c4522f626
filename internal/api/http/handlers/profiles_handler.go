package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-labs/ticket-sync/internal/api/dto"
	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/service"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

// ProfilesHandler exposes admin role management.
type ProfilesHandler struct {
	profiles *service.ProfileService
}

// NewProfilesHandler constructs handler.
func NewProfilesHandler(profiles *service.ProfileService) *ProfilesHandler {
	return &ProfilesHandler{profiles: profiles}
}

// SetRole handles PUT /admin/profiles/:userId.
func (h *ProfilesHandler) SetRole(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	var req dto.SetRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	profile, err := h.profiles.SetRole(c.UserContext(), actor, c.Params("userId"), domain.ParseRole(req.Role))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ProfileResponse{
		UserID:    profile.UserID,
		Role:      profile.Role,
		UpdatedAt: profile.UpdatedAt,
	}})
}

// GetProfile handles GET /admin/profiles/:userId.
func (h *ProfilesHandler) GetProfile(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	profile, err := h.profiles.Get(c.UserContext(), actor, c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ProfileResponse{
		UserID:    profile.UserID,
		Role:      profile.Role,
		UpdatedAt: profile.UpdatedAt,
	}})
}
