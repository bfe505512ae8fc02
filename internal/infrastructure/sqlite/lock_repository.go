package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

type lockRepository struct {
	db *DB
}

func NewLockRepository(db *DB) repository.LockRepository {
	return &lockRepository{db: db}
}

// Acquire takes the named lock for owner. An expired holder is replaced in the
// same statement, so two contenders can never both succeed.
func (r *lockRepository) Acquire(ctx context.Context, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO task_lock (name, owner, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE task_lock.expires_at <= excluded.acquired_at
	`, name, owner, FormatTime(now), FormatTime(now.Add(ttl)))
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *lockRepository) Release(ctx context.Context, name, owner string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM task_lock WHERE name = ? AND owner = ?", name, owner); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}
