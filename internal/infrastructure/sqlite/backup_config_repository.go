package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

const backupConfigColumns = `id, user_id, name, backup_type, backup_items, destination_type, destination_config,
	remote_id, secondary_remote_ids, schedule, frequency, time_of_day, day_of_week, keep_last, keep_daily,
	keep_weekly, keep_monthly, keep_yearly, include_paths, exclude_patterns, is_active, last_run_at,
	next_run_at, created_at, updated_at, deleted_at`

type backupConfigRow struct {
	ID                 string         `db:"id"`
	UserID             int64          `db:"user_id"`
	Name               string         `db:"name"`
	BackupType         string         `db:"backup_type"`
	BackupItems        string         `db:"backup_items"`
	DestinationType    string         `db:"destination_type"`
	DestinationConfig  string         `db:"destination_config"`
	RemoteID           sql.NullString `db:"remote_id"`
	SecondaryRemoteIDs string         `db:"secondary_remote_ids"`
	Schedule           string         `db:"schedule"`
	Frequency          string         `db:"frequency"`
	TimeOfDay          sql.NullString `db:"time_of_day"`
	DayOfWeek          sql.NullInt64  `db:"day_of_week"`
	domain.RetentionPolicy
	IncludePaths    string         `db:"include_paths"`
	ExcludePatterns string         `db:"exclude_patterns"`
	IsActive        bool           `db:"is_active"`
	LastRunAt       sql.NullString `db:"last_run_at"`
	NextRunAt       sql.NullString `db:"next_run_at"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
	DeletedAt       sql.NullString `db:"deleted_at"`
}

func newBackupConfigRow(c *domain.BackupConfig) (backupConfigRow, error) {
	row := backupConfigRow{
		ID:              c.ID,
		UserID:          c.UserID,
		Name:            c.Name,
		BackupType:      string(c.BackupType),
		DestinationType: string(c.DestinationType),
		RemoteID:        NullString(c.RemoteID),
		Schedule:        c.Schedule,
		Frequency:       string(c.Frequency),
		TimeOfDay:       NullString(c.TimeOfDay),
		DayOfWeek:       NullInt(c.DayOfWeek),
		RetentionPolicy: c.Retention,
		IsActive:        c.IsActive,
		LastRunAt:       NullTime(c.LastRunAt),
		NextRunAt:       NullTime(c.NextRunAt),
		CreatedAt:       FormatTime(c.CreatedAt),
		UpdatedAt:       FormatTime(c.UpdatedAt),
		DeletedAt:       NullTime(c.DeletedAt),
	}

	destConfig := c.DestinationConfig
	if destConfig == nil {
		destConfig = map[string]string{}
	}
	columns := []struct {
		dst *string
		src any
	}{
		{&row.BackupItems, orEmptySlice(c.BackupItems)},
		{&row.DestinationConfig, destConfig},
		{&row.SecondaryRemoteIDs, orEmptySlice(c.SecondaryRemoteIDs)},
		{&row.IncludePaths, orEmptySlice(c.IncludePaths)},
		{&row.ExcludePatterns, orEmptySlice(c.ExcludePatterns)},
	}
	for _, col := range columns {
		encoded, err := toJSON(col.src)
		if err != nil {
			return backupConfigRow{}, err
		}
		*col.dst = encoded
	}
	return row, nil
}

func (r backupConfigRow) toDomain() (*domain.BackupConfig, error) {
	c := &domain.BackupConfig{
		ID:              r.ID,
		UserID:          r.UserID,
		Name:            r.Name,
		BackupType:      domain.BackupType(r.BackupType),
		DestinationType: domain.DestinationType(r.DestinationType),
		RemoteID:        stringPtr(r.RemoteID),
		Schedule:        r.Schedule,
		Frequency:       domain.ScheduleFrequency(r.Frequency),
		TimeOfDay:       stringPtr(r.TimeOfDay),
		DayOfWeek:       intPtr(r.DayOfWeek),
		Retention:       r.RetentionPolicy,
		IsActive:        r.IsActive,
	}

	decode := []struct {
		src string
		dst any
	}{
		{r.BackupItems, &c.BackupItems},
		{r.DestinationConfig, &c.DestinationConfig},
		{r.SecondaryRemoteIDs, &c.SecondaryRemoteIDs},
		{r.IncludePaths, &c.IncludePaths},
		{r.ExcludePatterns, &c.ExcludePatterns},
	}
	for _, col := range decode {
		if err := fromJSON(col.src, col.dst); err != nil {
			return nil, err
		}
	}

	var err error
	if c.LastRunAt, err = parseNullTime(r.LastRunAt); err != nil {
		return nil, err
	}
	if c.NextRunAt, err = parseNullTime(r.NextRunAt); err != nil {
		return nil, err
	}
	if c.DeletedAt, err = parseNullTime(r.DeletedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

type backupConfigRepository struct {
	db *DB
}

func NewBackupConfigRepository(db *DB) repository.BackupConfigRepository {
	return &backupConfigRepository{db: db}
}

func (r *backupConfigRepository) Create(ctx context.Context, config *domain.BackupConfig) error {
	row, err := newBackupConfigRow(config)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO backup_config (`+backupConfigColumns+`)
		VALUES (:id, :user_id, :name, :backup_type, :backup_items, :destination_type, :destination_config,
			:remote_id, :secondary_remote_ids, :schedule, :frequency, :time_of_day, :day_of_week, :keep_last,
			:keep_daily, :keep_weekly, :keep_monthly, :keep_yearly, :include_paths, :exclude_patterns,
			:is_active, :last_run_at, :next_run_at, :created_at, :updated_at, :deleted_at)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to create backup config: %w", err)
	}
	return nil
}

func (r *backupConfigRepository) FindByID(ctx context.Context, id string) (*domain.BackupConfig, error) {
	var row backupConfigRow
	err := r.db.GetContext(ctx, &row, "SELECT "+backupConfigColumns+" FROM backup_config WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backup config %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup config: %w", err)
	}
	return row.toDomain()
}

func (r *backupConfigRepository) Update(ctx context.Context, config *domain.BackupConfig) error {
	row, err := newBackupConfigRow(config)
	if err != nil {
		return err
	}
	result, err := r.db.NamedExecContext(ctx, `
		UPDATE backup_config
		SET name = :name, backup_type = :backup_type, backup_items = :backup_items,
			destination_type = :destination_type, destination_config = :destination_config,
			remote_id = :remote_id, secondary_remote_ids = :secondary_remote_ids, schedule = :schedule,
			frequency = :frequency, time_of_day = :time_of_day, day_of_week = :day_of_week,
			keep_last = :keep_last, keep_daily = :keep_daily, keep_weekly = :keep_weekly,
			keep_monthly = :keep_monthly, keep_yearly = :keep_yearly, include_paths = :include_paths,
			exclude_patterns = :exclude_patterns, is_active = :is_active, last_run_at = :last_run_at,
			next_run_at = :next_run_at, updated_at = :updated_at, deleted_at = :deleted_at
		WHERE id = :id
	`, row)
	if err != nil {
		return fmt.Errorf("failed to update backup config: %w", err)
	}
	return expectRow(result, "backup config", config.ID)
}

func (r *backupConfigRepository) List(ctx context.Context, filter repository.BackupConfigFilter) ([]*domain.BackupConfig, error) {
	query, args := r.filterQuery("SELECT "+backupConfigColumns+" FROM backup_config WHERE 1=1", filter)
	query, args = applyListFilter(query, args, filter.ListFilter, "created_at ASC")
	return r.findMany(ctx, query, args...)
}

func (r *backupConfigRepository) Count(ctx context.Context, filter repository.BackupConfigFilter) (int, error) {
	query, args := r.filterQuery("SELECT COUNT(*) FROM backup_config WHERE 1=1", filter)
	query, args = ApplyFilters(query, args, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count backup configs: %w", err)
	}
	return count, nil
}

func (r *backupConfigRepository) FindDue(ctx context.Context, now time.Time) ([]*domain.BackupConfig, error) {
	return r.findMany(ctx, `
		SELECT `+backupConfigColumns+` FROM backup_config
		WHERE is_active = 1 AND deleted_at IS NULL AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
	`, FormatTime(now))
}

func (r *backupConfigRepository) FindActive(ctx context.Context) ([]*domain.BackupConfig, error) {
	return r.findMany(ctx, `
		SELECT `+backupConfigColumns+` FROM backup_config
		WHERE is_active = 1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`)
}

func (r *backupConfigRepository) UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE backup_config SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?",
		NullTime(lastRunAt), NullTime(nextRunAt), FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run times: %w", err)
	}
	return expectRow(result, "backup config", id)
}

func (r *backupConfigRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE backup_config SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL",
		FormatTime(at), FormatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete backup config: %w", err)
	}
	return expectRow(result, "backup config", id)
}

func (r *backupConfigRepository) Untrash(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE backup_config SET deleted_at = NULL, updated_at = ? WHERE id = ?",
		FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to restore backup config: %w", err)
	}
	return expectRow(result, "backup config", id)
}

func (r *backupConfigRepository) filterQuery(query string, filter repository.BackupConfigFilter) (string, []any) {
	var args []any
	if filter.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filter.UserID)
	}
	if !filter.IncludeTrashed {
		query += " AND deleted_at IS NULL"
	}
	return query, args
}

func (r *backupConfigRepository) findMany(ctx context.Context, query string, args ...any) ([]*domain.BackupConfig, error) {
	var rows []backupConfigRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list backup configs: %w", err)
	}
	configs := make([]*domain.BackupConfig, 0, len(rows))
	for _, row := range rows {
		c, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, nil
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return nil
}
