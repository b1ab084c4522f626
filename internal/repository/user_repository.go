package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helpdesk-labs/ticket-sync/internal/domain"
)

// ErrDuplicate is returned when a unique key already exists.
var ErrDuplicate = errors.New("duplicate record")

const uniqueViolation = "23505"

// CredentialRepository defines persistence access for directory credentials.
type CredentialRepository interface {
	Create(ctx context.Context, cred *domain.Credential) error
	GetByID(ctx context.Context, id string) (*domain.Credential, error)
	GetByEmail(ctx context.Context, email string) (*domain.Credential, error)
}

type credentialRepository struct {
	db dbtx
}

// NewCredentialRepository returns a Postgres-backed implementation.
func NewCredentialRepository(pool *pgxpool.Pool) CredentialRepository {
	return &credentialRepository{db: pool}
}

func (r *credentialRepository) Create(ctx context.Context, cred *domain.Credential) error {
	const query = `
        INSERT INTO users (email, password_hash)
        VALUES ($1, $2)
        RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query, cred.Email, cred.PasswordHash).Scan(&cred.ID, &cred.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

func (r *credentialRepository) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	if !validID(id) {
		return nil, pgx.ErrNoRows
	}
	return r.fetch(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE id=$1`, id)
}

func (r *credentialRepository) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	return r.fetch(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE email=$1`, email)
}

func (r *credentialRepository) fetch(ctx context.Context, query string, arg any) (*domain.Credential, error) {
	var cred domain.Credential
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&cred.ID,
		&cred.Email,
		&cred.PasswordHash,
		&cred.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &cred, nil
}
