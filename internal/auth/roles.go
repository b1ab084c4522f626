package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

// RequireRole ensures the resolved actor holds one of the allowed roles.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		actor, ok := ActorFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("unauthenticated")
		}
		if _, exists := allowedSet[actor.Role]; !exists {
			return apperrors.NewPolicyDenied("insufficient role")
		}
		return c.Next()
	}
}
