package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sneaker-store/internal/models"
)

// UpsertUser returns the user with this email, creating it on first login. The role is
// refreshed on every login so admin membership follows configuration.
func (s *Store) UpsertUser(ctx context.Context, email, role string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `
		INSERT INTO users (email, name, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET role = EXCLUDED.role
		RETURNING id, email, name, phone, role, created_at`,
		strings.ToLower(email), nameFromEmail(email), role)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user,
		"SELECT id, email, name, phone, role, created_at FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
