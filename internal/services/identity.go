package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/AnshRaj112/techphono-security/pkg/utils"
)

// Identity is an authenticated account as reported by the identity
// provider.
type Identity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityProvider verifies credentials. The engine only ever calls it
// through AuthGuard, which applies lockout and rate limiting first.
type IdentityProvider interface {
	// SignIn returns ErrInvalidCredentials for unknown accounts and wrong
	// passwords alike.
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignOut(ctx context.Context, userID string) error
	Lookup(ctx context.Context, userID string) (*Identity, error)
	Register(ctx context.Context, email, password string) (*Identity, error)
}

// PostgresIdentityProvider stores accounts in app_users with argon2id
// password hashes.
type PostgresIdentityProvider struct {
	db   *sql.DB
	opts options
}

func NewPostgresIdentityProvider(db *sql.DB, opts ...Option) *PostgresIdentityProvider {
	return &PostgresIdentityProvider{db: db, opts: buildOptions(opts)}
}

func (p *PostgresIdentityProvider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	var (
		ident    Identity
		hash     string
		isActive bool
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at, is_active FROM app_users WHERE LOWER(email) = LOWER($1)`,
		email,
	).Scan(&ident.ID, &ident.Email, &hash, &ident.CreatedAt, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		utils.DummyVerify(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityProvider, err)
	}

	ok, err := utils.VerifyPassword(password, hash)
	if err != nil {
		p.opts.logger.Error("stored password hash unreadable", "user_id", ident.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok || !isActive {
		return nil, ErrInvalidCredentials
	}

	if _, err := p.db.ExecContext(ctx, `UPDATE app_users SET last_sign_in_at = NOW() WHERE id = $1`, ident.ID); err != nil {
		p.opts.logger.Warn("failed to record sign-in time", "user_id", ident.ID, "error", err)
	}
	return &ident, nil
}

// SignOut has nothing to revoke: sessions live on the device.
func (p *PostgresIdentityProvider) SignOut(context.Context, string) error {
	return nil
}

func (p *PostgresIdentityProvider) Lookup(ctx context.Context, userID string) (*Identity, error) {
	var ident Identity
	err := p.db.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM app_users WHERE id = $1 AND is_active = TRUE`,
		userID,
	).Scan(&ident.ID, &ident.Email, &ident.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityProvider, err)
	}
	return &ident, nil
}

func (p *PostgresIdentityProvider) Register(ctx context.Context, email, password string) (*Identity, error) {
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	ident := Identity{ID: uuid.NewString(), Email: email}
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO app_users (id, email, password_hash) VALUES ($1, $2, $3) RETURNING created_at`,
		ident.ID, ident.Email, hash,
	).Scan(&ident.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("%w: %v", ErrIdentityProvider, err)
	}
	return &ident, nil
}
