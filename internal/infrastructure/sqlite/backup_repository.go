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

const backupColumns = `id, backup_config_id, user_id, type, status, size_bytes, snapshot_id, started_at,
	completed_at, error_message, metadata, remote_id, remote_path, synced_remotes, process_id,
	created_at, updated_at, deleted_at`

type backupRow struct {
	ID             string         `db:"id"`
	BackupConfigID sql.NullString `db:"backup_config_id"`
	UserID         int64          `db:"user_id"`
	Type           string         `db:"type"`
	Status         string         `db:"status"`
	SizeBytes      sql.NullInt64  `db:"size_bytes"`
	SnapshotID     sql.NullString `db:"snapshot_id"`
	StartedAt      sql.NullString `db:"started_at"`
	CompletedAt    sql.NullString `db:"completed_at"`
	ErrorMessage   sql.NullString `db:"error_message"`
	Metadata       string         `db:"metadata"`
	RemoteID       sql.NullString `db:"remote_id"`
	RemotePath     sql.NullString `db:"remote_path"`
	SyncedRemotes  string         `db:"synced_remotes"`
	ProcessID      sql.NullInt64  `db:"process_id"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
	DeletedAt      sql.NullString `db:"deleted_at"`
}

func newBackupRow(b *domain.Backup) (backupRow, error) {
	metadata, err := toJSON(orEmptyMap(b.Metadata))
	if err != nil {
		return backupRow{}, err
	}
	synced, err := toJSON(orEmptySlice(b.SyncedRemotes))
	if err != nil {
		return backupRow{}, err
	}
	return backupRow{
		ID:             b.ID,
		BackupConfigID: NullString(b.BackupConfigID),
		UserID:         b.UserID,
		Type:           string(b.Type),
		Status:         string(b.Status),
		SizeBytes:      NullInt64(b.SizeBytes),
		SnapshotID:     NullString(b.SnapshotID),
		StartedAt:      NullTime(b.StartedAt),
		CompletedAt:    NullTime(b.CompletedAt),
		ErrorMessage:   NullString(b.ErrorMessage),
		Metadata:       metadata,
		RemoteID:       NullString(b.RemoteID),
		RemotePath:     NullString(b.RemotePath),
		SyncedRemotes:  synced,
		ProcessID:      NullInt64(b.ProcessID),
		CreatedAt:      FormatTime(b.CreatedAt),
		UpdatedAt:      FormatTime(b.UpdatedAt),
		DeletedAt:      NullTime(b.DeletedAt),
	}, nil
}

func (r backupRow) toDomain() (*domain.Backup, error) {
	b := &domain.Backup{
		ID:             r.ID,
		BackupConfigID: stringPtr(r.BackupConfigID),
		UserID:         r.UserID,
		Type:           domain.BackupType(r.Type),
		Status:         domain.BackupStatus(r.Status),
		SizeBytes:      int64Ptr(r.SizeBytes),
		SnapshotID:     stringPtr(r.SnapshotID),
		ErrorMessage:   stringPtr(r.ErrorMessage),
		RemoteID:       stringPtr(r.RemoteID),
		RemotePath:     stringPtr(r.RemotePath),
		ProcessID:      int64Ptr(r.ProcessID),
	}
	var err error
	if b.StartedAt, err = parseNullTime(r.StartedAt); err != nil {
		return nil, err
	}
	if b.CompletedAt, err = parseNullTime(r.CompletedAt); err != nil {
		return nil, err
	}
	if b.DeletedAt, err = parseNullTime(r.DeletedAt); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Metadata, &b.Metadata); err != nil {
		return nil, err
	}
	if err := fromJSON(r.SyncedRemotes, &b.SyncedRemotes); err != nil {
		return nil, err
	}
	if b.SyncedRemotes == nil {
		b.SyncedRemotes = []string{}
	}
	return b, nil
}

type backupRepository struct {
	db *DB
}

func NewBackupRepository(db *DB) repository.BackupRepository {
	return &backupRepository{db: db}
}

func (r *backupRepository) CreateIfIdle(ctx context.Context, backup *domain.Backup) error {
	row, err := newBackupRow(backup)
	if err != nil {
		return err
	}

	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO backup (`+backupColumns+`)
		VALUES (:id, :backup_config_id, :user_id, :type, :status, :size_bytes, :snapshot_id, :started_at,
			:completed_at, :error_message, :metadata, :remote_id, :remote_path, :synced_remotes, :process_id,
			:created_at, :updated_at, :deleted_at)
	`, row)
	if isUniqueViolation(err) && backup.BackupConfigID != nil {
		return fmt.Errorf("config %s: %w", *backup.BackupConfigID, domain.ErrBackupInProgress)
	}
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	return nil
}

func (r *backupRepository) FindByID(ctx context.Context, id string) (*domain.Backup, error) {
	var row backupRow
	err := r.db.GetContext(ctx, &row, "SELECT "+backupColumns+" FROM backup WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backup %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}
	return row.toDomain()
}

func (r *backupRepository) UpdateIfStatus(ctx context.Context, backup *domain.Backup, expected ...domain.BackupStatus) (bool, error) {
	if len(expected) == 0 {
		return false, fmt.Errorf("update backup %s: no expected status given", backup.ID)
	}
	row, err := newBackupRow(backup)
	if err != nil {
		return false, err
	}

	query, args, err := sqlx.In(`
		UPDATE backup
		SET status = ?, size_bytes = ?, snapshot_id = ?, started_at = ?, completed_at = ?,
			error_message = ?, metadata = ?, remote_id = ?, remote_path = ?, synced_remotes = ?,
			process_id = ?, updated_at = ?
		WHERE id = ? AND status IN (?)
	`, row.Status, row.SizeBytes, row.SnapshotID, row.StartedAt, row.CompletedAt,
		row.ErrorMessage, row.Metadata, row.RemoteID, row.RemotePath, row.SyncedRemotes,
		row.ProcessID, row.UpdatedAt, row.ID, statusArgs(expected))
	if err != nil {
		return false, fmt.Errorf("failed to build backup update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if isUniqueViolation(err) {
		return false, fmt.Errorf("backup %s: %w", backup.ID, domain.ErrBackupInProgress)
	}
	if err != nil {
		return false, fmt.Errorf("failed to update backup: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *backupRepository) List(ctx context.Context, filter repository.BackupFilter) ([]*domain.Backup, error) {
	query, args := r.filterQuery("SELECT "+backupColumns+" FROM backup WHERE 1=1", filter)
	query, args = applyListFilter(query, args, filter.ListFilter, "created_at DESC")
	return r.findMany(ctx, query, args...)
}

func (r *backupRepository) Count(ctx context.Context, filter repository.BackupFilter) (int, error) {
	query, args := r.filterQuery("SELECT COUNT(*) FROM backup WHERE 1=1", filter)
	query, args = ApplyFilters(query, args, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count backups: %w", err)
	}
	return count, nil
}

func (r *backupRepository) FindActiveByConfig(ctx context.Context, configID string) ([]*domain.Backup, error) {
	return r.findMany(ctx,
		"SELECT "+backupColumns+" FROM backup WHERE backup_config_id = ? AND status IN (?, ?) ORDER BY created_at ASC",
		configID, string(domain.BackupStatusPending), string(domain.BackupStatusRunning),
	)
}

func (r *backupRepository) FindRunningStartedBefore(ctx context.Context, before time.Time) ([]*domain.Backup, error) {
	return r.findMany(ctx,
		"SELECT "+backupColumns+" FROM backup WHERE status = ? AND started_at < ? ORDER BY started_at ASC",
		string(domain.BackupStatusRunning), FormatTime(before),
	)
}

func (r *backupRepository) FindPendingCreatedBefore(ctx context.Context, before time.Time) ([]*domain.Backup, error) {
	return r.findMany(ctx,
		"SELECT "+backupColumns+" FROM backup WHERE status = ? AND created_at < ? ORDER BY created_at ASC",
		string(domain.BackupStatusPending), FormatTime(before),
	)
}

func (r *backupRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, id, "UPDATE backup SET deleted_at = ?, updated_at = ? WHERE id = ?",
		FormatTime(at), FormatTime(at), id)
}

func (r *backupRepository) Untrash(ctx context.Context, id string) error {
	return r.exec(ctx, id, "UPDATE backup SET deleted_at = NULL, updated_at = ? WHERE id = ?",
		FormatTime(time.Now()), id)
}

func (r *backupRepository) filterQuery(query string, filter repository.BackupFilter) (string, []any) {
	var args []any
	if filter.ConfigID != nil {
		query += " AND backup_config_id = ?"
		args = append(args, *filter.ConfigID)
	}
	if filter.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filter.UserID)
	}
	switch {
	case filter.OnlyTrashed:
		query += " AND deleted_at IS NOT NULL"
	case !filter.IncludeTrashed:
		query += " AND deleted_at IS NULL"
	}
	return query, args
}

func (r *backupRepository) exec(ctx context.Context, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update backup %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("backup %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r *backupRepository) findMany(ctx context.Context, query string, args ...any) ([]*domain.Backup, error) {
	var rows []backupRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	backups := make([]*domain.Backup, 0, len(rows))
	for _, row := range rows {
		b, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		backups = append(backups, b)
	}
	return backups, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
