package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/identity"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

const actorKey = "auth_actor"

// AuthMiddleware validates bearer tokens and resolves the caller's actor.
type AuthMiddleware struct {
	tokens   *TokenManager
	resolver *identity.Resolver
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, resolver *identity.Resolver) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, resolver: resolver}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, err := BearerToken(c.Get("Authorization"))
	if err != nil {
		return err
	}

	session, err := m.tokens.SessionFromToken(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	actor, err := m.resolver.ActorFor(c.UserContext(), session)
	if err != nil {
		return err
	}

	SetActor(c, actor)
	return c.Next()
}

// SetActor stores actor on the request for downstream handlers.
func SetActor(c *fiber.Ctx, actor domain.Actor) {
	c.Locals(actorKey, actor)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.NewUnauthorized("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// ActorFromContext retrieves the authenticated actor.
func ActorFromContext(c *fiber.Ctx) (domain.Actor, bool) {
	actor, ok := c.Locals(actorKey).(domain.Actor)
	return actor, ok
}
