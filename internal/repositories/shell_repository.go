package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"tutor-realtime/internal/models"
)

var ErrShellNotFound = errors.New("shell not found")

const shellColumns = `id, kind, owner_id, parent_id, peer_id, tag, status, is_deleted, created_at, updated_at`

// ShellUpdate lists the shell columns an update may change. Nil fields are
// left alone; UpdatedAt is always written.
type ShellUpdate struct {
	Status    *string
	Tag       *string
	IsDeleted *bool
	UpdatedAt time.Time
}

// ShellRepository abstracts durable shell persistence.
type ShellRepository interface {
	FindByID(ctx context.Context, id string) (models.Shell, error)
	Find(ctx context.Context, filter models.ShellFilter) ([]models.Shell, error)
	Insert(ctx context.Context, shell models.Shell) error
	UpdateOne(ctx context.Context, id string, update ShellUpdate) error
	UpdateMany(ctx context.Context, filter models.ShellFilter, update ShellUpdate) (int64, error)
	DeleteOne(ctx context.Context, id string) error
	Aggregate(ctx context.Context, filter models.ShellFilter, groupBy string) (map[string]int64, error)
}

// ShellRepo is a sqlx implementation of ShellRepository.
type ShellRepo struct {
	db *sqlx.DB
}

// NewShellRepo constructs a ShellRepo.
func NewShellRepo(db *sqlx.DB) *ShellRepo {
	return &ShellRepo{db: db}
}

// FindByID fetches a shell by id, deleted or not.
func (r *ShellRepo) FindByID(ctx context.Context, id string) (models.Shell, error) {
	var shell models.Shell
	err := r.db.GetContext(ctx, &shell, `SELECT `+shellColumns+` FROM shells WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Shell{}, ErrShellNotFound
	}
	return shell, err
}

// Find returns shells matching filter, newest first.
func (r *ShellRepo) Find(ctx context.Context, filter models.ShellFilter) ([]models.Shell, error) {
	where, args := buildShellWhere(filter, 1)
	query := `SELECT ` + shellColumns + ` FROM shells` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	var shells []models.Shell
	if err := r.db.SelectContext(ctx, &shells, query, args...); err != nil {
		return nil, err
	}
	return shells, nil
}

// Insert stores a new shell. The id is supplied by the caller.
func (r *ShellRepo) Insert(ctx context.Context, shell models.Shell) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO shells (`+shellColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		shell.ID, shell.Kind, shell.OwnerID, shell.ParentID, shell.PeerID, shell.Tag,
		shell.Status, shell.IsDeleted, shell.CreatedAt, shell.UpdatedAt)
	return err
}

// UpdateOne applies update to a single shell.
func (r *ShellRepo) UpdateOne(ctx context.Context, id string, update ShellUpdate) error {
	set, args := buildShellSet(update)
	args = append(args, id)
	res, err := r.db.ExecContext(ctx, `UPDATE shells SET `+set+fmt.Sprintf(` WHERE id=$%d`, len(args)), args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrShellNotFound
	}
	return nil
}

// UpdateMany applies update to every shell matching filter.
func (r *ShellRepo) UpdateMany(ctx context.Context, filter models.ShellFilter, update ShellUpdate) (int64, error) {
	set, args := buildShellSet(update)
	where, whereArgs := buildShellWhere(filter, len(args)+1)
	res, err := r.db.ExecContext(ctx, `UPDATE shells SET `+set+where, append(args, whereArgs...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOne removes a shell permanently.
func (r *ShellRepo) DeleteOne(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM shells WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrShellNotFound
	}
	return nil
}

// Aggregate counts matching shells grouped by one of tag, status, kind or
// owner_id.
func (r *ShellRepo) Aggregate(ctx context.Context, filter models.ShellFilter, groupBy string) (map[string]int64, error) {
	switch groupBy {
	case "tag", "status", "kind", "owner_id":
	default:
		return nil, fmt.Errorf("unsupported group by %q", groupBy)
	}
	where, args := buildShellWhere(filter, 1)
	rows, err := r.db.QueryxContext(ctx, `SELECT `+groupBy+` AS k, COUNT(*) AS n FROM shells`+where+` GROUP BY `+groupBy, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string]int64{}
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		result[key] = n
	}
	return result, rows.Err()
}

func buildShellWhere(filter models.ShellFilter, next int) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, fmt.Sprintf(cond, next))
		args = append(args, arg)
		next++
	}
	if filter.Kind != "" {
		add("kind=$%d", filter.Kind)
	}
	if filter.OwnerID != "" {
		add("owner_id=$%d", filter.OwnerID)
	}
	if filter.ParentID != "" {
		add("parent_id=$%d", filter.ParentID)
	}
	if filter.Participant != "" {
		conds = append(conds, fmt.Sprintf("(owner_id=$%d OR peer_id=$%d)", next, next))
		args = append(args, filter.Participant)
		next++
	}
	if filter.Tag != "" {
		add("tag=$%d", filter.Tag)
	}
	if filter.Status != "" {
		add("status=$%d", filter.Status)
	}
	if len(filter.IDs) > 0 {
		add("id=ANY($%d)", pq.Array(filter.IDs))
	}
	if !filter.IncludeDeleted {
		conds = append(conds, "is_deleted=FALSE")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func buildShellSet(update ShellUpdate) (string, []any) {
	at := update.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	sets := []string{"updated_at=$1"}
	args := []any{at}
	if update.Status != nil {
		args = append(args, *update.Status)
		sets = append(sets, fmt.Sprintf("status=$%d", len(args)))
	}
	if update.Tag != nil {
		args = append(args, *update.Tag)
		sets = append(sets, fmt.Sprintf("tag=$%d", len(args)))
	}
	if update.IsDeleted != nil {
		args = append(args, *update.IsDeleted)
		sets = append(sets, fmt.Sprintf("is_deleted=$%d", len(args)))
	}
	return strings.Join(sets, ", "), args
}
