package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"tutor-realtime/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, username, first_name, last_name, avatar, role, status, last_active, is_blocked`

// UserRepository abstracts the user rows this service reads and the
// presence columns it owns.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	SetPresence(ctx context.Context, id, status string, at time.Time) error
	Touch(ctx context.Context, ids []string, at time.Time) error
	FindStale(ctx context.Context, before time.Time) ([]models.User, error)
	ListOnline(ctx context.Context) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// FindByID fetches a user.
func (r *UserRepo) FindByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// SetPresence writes status and last_active. Writing the same status twice
// is harmless.
func (r *UserRepo) SetPresence(ctx context.Context, id, status string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET status=$1, last_active=$2 WHERE id=$3`, status, at, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Touch refreshes last_active for online users in ids.
func (r *UserRepo) Touch(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_active=$1 WHERE id = ANY($2) AND status='online'`, at, pq.Array(ids))
	return err
}

// FindStale returns online users whose last_active is older than before.
func (r *UserRepo) FindStale(ctx context.Context, before time.Time) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users
        WHERE status='online' AND (last_active IS NULL OR last_active < $1)`, before)
	return users, err
}

// ListOnline returns every user currently marked online.
func (r *UserRepo) ListOnline(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users WHERE status='online' ORDER BY username`)
	return users, err
}
