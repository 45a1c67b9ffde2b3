package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"engage/internal/domain"
	"engage/internal/server/store"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ store.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *store.User) error {
	query := `
		INSERT INTO users (id, username, hashed_password, created_at)
		VALUES ($1, $2, $3, NOW())
	`
	if _, err := r.db.ExecContext(ctx, query, u.ID, u.Username, u.HashedPassword); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*store.User, error) {
	return r.getBy(ctx, `WHERE id = $1`, id)
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*store.User, error) {
	return r.getBy(ctx, `WHERE username = $1`, username)
}

func (r *UserRepo) getBy(ctx context.Context, where string, arg any) (*store.User, error) {
	query := `SELECT id, username, hashed_password, created_at FROM users ` + where
	u := &store.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.HashedPassword, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
