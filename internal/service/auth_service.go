package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/ticket-sync/internal/auth"
	"github.com/helpdesk-labs/ticket-sync/internal/config"
	"github.com/helpdesk-labs/ticket-sync/internal/domain"
	"github.com/helpdesk-labs/ticket-sync/internal/identity"
	"github.com/helpdesk-labs/ticket-sync/internal/observability"
	"github.com/helpdesk-labs/ticket-sync/internal/repository"
	apperrors "github.com/helpdesk-labs/ticket-sync/pkg/util"
)

const minPasswordLength = 8

// AuthResult is returned by successful registration and login.
type AuthResult struct {
	Actor     domain.Actor
	Token     string
	ExpiresAt time.Time
}

// AuthService coordinates registration and login flows.
type AuthService struct {
	credentials    repository.CredentialRepository
	profiles       repository.ProfileRepository
	resolver       *identity.Resolver
	tokenMgr       *auth.TokenManager
	bcryptCost     int
	bootstrapAdmin string
	logger         *zap.Logger
	metrics        *observability.Metrics
	now            func() time.Time
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	CredentialRepo repository.CredentialRepository
	ProfileRepo    repository.ProfileRepository
	Resolver       *identity.Resolver
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = identity.NewResolver(deps.ProfileRepo, logger)
	}
	return &AuthService{
		credentials:    deps.CredentialRepo,
		profiles:       deps.ProfileRepo,
		resolver:       resolver,
		tokenMgr:       auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost:     cfg.Auth.BcryptCost,
		bootstrapAdmin: strings.ToLower(strings.TrimSpace(cfg.Auth.BootstrapAdminEmail)),
		logger:         logger,
		metrics:        deps.Metrics,
		now:            time.Now,
	}
}

// Register creates an account and its profile. New accounts are customers,
// except the configured bootstrap address which becomes an admin.
func (s *AuthService) Register(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	cred := &domain.Credential{Email: email, PasswordHash: hash}
	if err := s.credentials.Create(ctx, cred); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewValidationError("email already registered", map[string]any{"email": "taken"})
		}
		return nil, apperrors.StoreError(err, "credential", nil)
	}

	role := domain.RoleCustomer
	if s.bootstrapAdmin != "" && email == s.bootstrapAdmin {
		role = domain.RoleAdmin
	}
	profile := &domain.Profile{UserID: cred.ID, Role: role, UpdatedAt: s.now().UTC()}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		// The account exists; the resolver falls back to customer until the profile lands.
		s.logger.Error("failed to create profile", zap.String("user_id", cred.ID), zap.Error(err))
		s.metrics.ProfileWriteFailed()
	}

	return s.issue(ctx, identity.Session{UserID: cred.ID, Email: cred.Email})
}

// Login authenticates an account by email and password.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	cred, err := s.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.StoreError(err, "credential", nil)
	}
	if err := auth.ComparePassword(cred.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	return s.issue(ctx, identity.Session{UserID: cred.ID, Email: cred.Email})
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) issue(ctx context.Context, session identity.Session) (*AuthResult, error) {
	actor, err := s.resolver.ActorFor(ctx, &session)
	if err != nil {
		return nil, err
	}
	token, exp, err := s.tokenMgr.GenerateToken(session)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &AuthResult{Actor: actor, Token: token, ExpiresAt: exp}, nil
}

func validateCredentials(email, password string) error {
	details := map[string]any{}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		details["email"] = "invalid"
	}
	if len(password) < minPasswordLength {
		details["password"] = "too short"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid registration", details)
	}
	return nil
}
