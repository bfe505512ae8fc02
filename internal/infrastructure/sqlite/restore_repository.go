package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

const restoreColumns = `id, backup_id, user_id, status, target_path, include_paths, files_restored,
	bytes_restored, output, error_message, started_at, completed_at, process_id, created_at`

type restoreRow struct {
	ID            string         `db:"id"`
	BackupID      string         `db:"backup_id"`
	UserID        int64          `db:"user_id"`
	Status        string         `db:"status"`
	TargetPath    string         `db:"target_path"`
	IncludePaths  string         `db:"include_paths"`
	FilesRestored sql.NullInt64  `db:"files_restored"`
	BytesRestored sql.NullInt64  `db:"bytes_restored"`
	Output        sql.NullString `db:"output"`
	ErrorMessage  sql.NullString `db:"error_message"`
	StartedAt     sql.NullString `db:"started_at"`
	CompletedAt   sql.NullString `db:"completed_at"`
	ProcessID     sql.NullInt64  `db:"process_id"`
	CreatedAt     string         `db:"created_at"`
}

func newRestoreRow(r *domain.RestoreOperation) (restoreRow, error) {
	includes, err := toJSON(orEmptySlice(r.IncludePaths))
	if err != nil {
		return restoreRow{}, err
	}
	return restoreRow{
		ID:            r.ID,
		BackupID:      r.BackupID,
		UserID:        r.UserID,
		Status:        string(r.Status),
		TargetPath:    r.TargetPath,
		IncludePaths:  includes,
		FilesRestored: NullInt64(r.FilesRestored),
		BytesRestored: NullInt64(r.BytesRestored),
		Output:        NullString(r.Output),
		ErrorMessage:  NullString(r.ErrorMessage),
		StartedAt:     NullTime(r.StartedAt),
		CompletedAt:   NullTime(r.CompletedAt),
		ProcessID:     NullInt64(r.ProcessID),
		CreatedAt:     FormatTime(r.CreatedAt),
	}, nil
}

func (r restoreRow) toDomain() (*domain.RestoreOperation, error) {
	op := &domain.RestoreOperation{
		ID:            r.ID,
		BackupID:      r.BackupID,
		UserID:        r.UserID,
		Status:        domain.RestoreStatus(r.Status),
		TargetPath:    r.TargetPath,
		FilesRestored: int64Ptr(r.FilesRestored),
		BytesRestored: int64Ptr(r.BytesRestored),
		Output:        stringPtr(r.Output),
		ErrorMessage:  stringPtr(r.ErrorMessage),
		ProcessID:     int64Ptr(r.ProcessID),
	}
	if err := fromJSON(r.IncludePaths, &op.IncludePaths); err != nil {
		return nil, err
	}
	var err error
	if op.StartedAt, err = parseNullTime(r.StartedAt); err != nil {
		return nil, err
	}
	if op.CompletedAt, err = parseNullTime(r.CompletedAt); err != nil {
		return nil, err
	}
	if op.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	return op, nil
}

type restoreRepository struct {
	db *DB
}

func NewRestoreRepository(db *DB) repository.RestoreRepository {
	return &restoreRepository{db: db}
}

func (r *restoreRepository) Create(ctx context.Context, restore *domain.RestoreOperation) error {
	row, err := newRestoreRow(restore)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO restore_operation (`+restoreColumns+`)
		VALUES (:id, :backup_id, :user_id, :status, :target_path, :include_paths, :files_restored,
			:bytes_restored, :output, :error_message, :started_at, :completed_at, :process_id, :created_at)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to create restore: %w", err)
	}
	return nil
}

func (r *restoreRepository) FindByID(ctx context.Context, id string) (*domain.RestoreOperation, error) {
	var row restoreRow
	err := r.db.GetContext(ctx, &row, "SELECT "+restoreColumns+" FROM restore_operation WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("restore %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get restore: %w", err)
	}
	return row.toDomain()
}

func (r *restoreRepository) UpdateIfStatus(ctx context.Context, restore *domain.RestoreOperation, expected ...domain.RestoreStatus) (bool, error) {
	row, err := newRestoreRow(restore)
	if err != nil {
		return false, err
	}
	query, args, err := sqlx.In(`
		UPDATE restore_operation
		SET status = ?, files_restored = ?, bytes_restored = ?, output = ?, error_message = ?,
			started_at = ?, completed_at = ?, process_id = ?
		WHERE id = ? AND status IN (?)
	`, row.Status, row.FilesRestored, row.BytesRestored, row.Output, row.ErrorMessage,
		row.StartedAt, row.CompletedAt, row.ProcessID, row.ID, statusArgs(expected))
	if err != nil {
		return false, fmt.Errorf("failed to build restore update: %w", err)
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to update restore: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *restoreRepository) List(ctx context.Context, filter repository.RestoreFilter) ([]*domain.RestoreOperation, error) {
	query, args := "SELECT "+restoreColumns+" FROM restore_operation WHERE 1=1", []any{}
	if filter.BackupID != nil {
		query += " AND backup_id = ?"
		args = append(args, *filter.BackupID)
	}
	query, args = applyListFilter(query, args, filter.ListFilter, "created_at DESC")
	return r.findMany(ctx, query, args...)
}

func (r *restoreRepository) Count(ctx context.Context, filter repository.RestoreFilter) (int, error) {
	query, args := "SELECT COUNT(*) FROM restore_operation WHERE 1=1", []any{}
	if filter.BackupID != nil {
		query += " AND backup_id = ?"
		args = append(args, *filter.BackupID)
	}
	query, args = ApplyFilters(query, args, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count restores: %w", err)
	}
	return count, nil
}

func (r *restoreRepository) FindRunningStartedBefore(ctx context.Context, before time.Time) ([]*domain.RestoreOperation, error) {
	return r.findMany(ctx,
		"SELECT "+restoreColumns+" FROM restore_operation WHERE status = ? AND started_at < ? ORDER BY started_at ASC",
		string(domain.RestoreStatusRunning), FormatTime(before),
	)
}

func (r *restoreRepository) findMany(ctx context.Context, query string, args ...any) ([]*domain.RestoreOperation, error) {
	var rows []restoreRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list restores: %w", err)
	}
	restores := make([]*domain.RestoreOperation, 0, len(rows))
	for _, row := range rows {
		op, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		restores = append(restores, op)
	}
	return restores, nil
}
