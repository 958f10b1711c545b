package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/WeddingAI/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `
SELECT id, COALESCE(email, ''), COALESCE(name, ''), ai_credits, created_at, updated_at
FROM users WHERE id = ?`
	var u models.User
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &u.AICredits, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// Create inserts the user with a zero balance. It reports false when a
// concurrent request created the same user first.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (bool, error) {
	const query = `
INSERT IGNORE INTO users (id, email, name, ai_credits)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), 0)`
	res, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.Name)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("user rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID, email, name string) error {
	const query = `
UPDATE users SET email = COALESCE(NULLIF(?, ''), email), name = COALESCE(NULLIF(?, ''), name), updated_at = NOW(6)
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, email, name, userID); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}
