package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

// ProfileRepository reads and writes role records keyed by user id.
type ProfileRepository interface {
	GetByUserID(ctx context.Context, userID string) (*domain.Profile, error)
	Upsert(ctx context.Context, profile *domain.Profile) error
}

type profileRepository struct {
	db dbtx
}

// NewProfileRepository returns a Postgres-backed implementation.
func NewProfileRepository(pool *pgxpool.Pool) ProfileRepository {
	return &profileRepository{db: pool}
}

// GetByUserID normalizes the stored role with domain.ParseRole. An empty
// column stays empty so callers can treat it as a missing profile.
func (r *profileRepository) GetByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	const query = `SELECT user_id, role, updated_at FROM profiles WHERE user_id=$1`
	var (
		profile domain.Profile
		role    string
	)
	if err := r.db.QueryRow(ctx, query, userID).Scan(&profile.UserID, &role, &profile.UpdatedAt); err != nil {
		return nil, err
	}
	profile.Role = domain.ParseRole(role)
	if role == "" {
		profile.Role = ""
	}
	return &profile, nil
}

func (r *profileRepository) Upsert(ctx context.Context, profile *domain.Profile) error {
	const query = `
        INSERT INTO profiles (user_id, role) VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET role=EXCLUDED.role, updated_at=NOW()
        RETURNING updated_at`
	return r.db.QueryRow(ctx, query, profile.UserID, profile.Role).Scan(&profile.UpdatedAt)
}
