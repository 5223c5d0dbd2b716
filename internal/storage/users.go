package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	TOTPSecret   string
	Roles        []string
	CreatedAt    time.Time
}

// CreateUser inserts the user; replays on the same email are no-ops. A
// colliding id surfaces as ErrAlreadyExists.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, totp_secret, roles)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING`,
		u.ID, u.Email, u.PasswordHash, u.TOTPSecret, u.Roles)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserTOTPSecret returns the user's enrolled TOTP secret, or empty when the
// user has not enrolled two-factor.
func (s *Store) UserTOTPSecret(ctx context.Context, userID uuid.UUID) (string, error) {
	var secret string
	err := s.pool.QueryRow(ctx,
		`SELECT totp_secret FROM users WHERE id = $1`, userID).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("user totp secret: %w", err)
	}
	return secret, nil
}
