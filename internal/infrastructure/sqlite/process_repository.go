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

const processColumns = `id, command_id, command, pid, status, progress, output, error, return_code,
	start_time, end_time, updated_at, type, args`

type processRow struct {
	ID         int64          `db:"id"`
	CommandID  string         `db:"command_id"`
	Command    string         `db:"command"`
	PID        sql.NullInt64  `db:"pid"`
	Status     string         `db:"status"`
	Progress   int            `db:"progress"`
	Output     sql.NullString `db:"output"`
	Error      sql.NullString `db:"error"`
	ReturnCode sql.NullInt64  `db:"return_code"`
	StartTime  string         `db:"start_time"`
	EndTime    sql.NullString `db:"end_time"`
	UpdatedAt  string         `db:"updated_at"`
	Type       string         `db:"type"`
	Args       string         `db:"args"`
}

func newProcessRow(p *domain.Process) (processRow, error) {
	args, err := toJSON(p.Args)
	if err != nil {
		return processRow{}, err
	}
	return processRow{
		ID:         p.ID,
		CommandID:  p.CommandID,
		Command:    p.Command,
		PID:        NullInt(p.PID),
		Status:     string(p.Status),
		Progress:   p.Progress,
		Output:     NullString(p.Output),
		Error:      NullString(p.Error),
		ReturnCode: NullInt(p.ReturnCode),
		StartTime:  FormatTime(p.StartTime),
		EndTime:    NullTime(p.EndTime),
		UpdatedAt:  FormatTime(p.UpdatedAt),
		Type:       string(p.Type),
		Args:       args,
	}, nil
}

func (r processRow) toDomain() (*domain.Process, error) {
	p := &domain.Process{
		ID:         r.ID,
		CommandID:  r.CommandID,
		Command:    r.Command,
		PID:        intPtr(r.PID),
		Status:     domain.ProcessStatus(r.Status),
		Progress:   r.Progress,
		Output:     stringPtr(r.Output),
		Error:      stringPtr(r.Error),
		ReturnCode: intPtr(r.ReturnCode),
		Type:       domain.ProcessType(r.Type),
	}
	var err error
	if p.StartTime, err = parseTime(r.StartTime); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	if p.EndTime, err = parseNullTime(r.EndTime); err != nil {
		return nil, err
	}
	if err := fromJSON(r.Args, &p.Args); err != nil {
		return nil, err
	}
	return p, nil
}

type processRepository struct {
	db *DB
}

func NewProcessRepository(db *DB) repository.ProcessRepository {
	return &processRepository{db: db}
}

func (r *processRepository) Create(ctx context.Context, process *domain.Process) error {
	row, err := newProcessRow(process)
	if err != nil {
		return err
	}

	result, err := r.db.NamedExecContext(ctx, `
		INSERT INTO process (command_id, command, pid, status, progress, output, error, return_code,
			start_time, end_time, updated_at, type, args)
		VALUES (:command_id, :command, :pid, :status, :progress, :output, :error, :return_code,
			:start_time, :end_time, :updated_at, :type, :args)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to create process: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	process.ID = id

	return nil
}

func (r *processRepository) FindByID(ctx context.Context, id int64) (*domain.Process, error) {
	return r.findOne(ctx, "SELECT "+processColumns+" FROM process WHERE id = ?", id)
}

func (r *processRepository) FindByCommandID(ctx context.Context, commandID string) (*domain.Process, error) {
	return r.findOne(ctx, "SELECT "+processColumns+" FROM process WHERE command_id = ?", commandID)
}

func (r *processRepository) Update(ctx context.Context, process *domain.Process) error {
	row, err := newProcessRow(process)
	if err != nil {
		return err
	}

	result, err := r.db.NamedExecContext(ctx, `
		UPDATE process
		SET pid = :pid, status = :status, progress = :progress, output = :output, error = :error,
			return_code = :return_code, end_time = :end_time, updated_at = :updated_at, args = :args
		WHERE id = :id
	`, row)
	if err != nil {
		return fmt.Errorf("failed to update process: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("process %d: %w", process.ID, domain.ErrNotFound)
	}

	return nil
}

func (r *processRepository) UpdateIfActive(ctx context.Context, process *domain.Process) (bool, error) {
	row, err := newProcessRow(process)
	if err != nil {
		return false, err
	}

	result, err := r.db.NamedExecContext(ctx, `
		UPDATE process
		SET pid = :pid, status = :status, progress = :progress, output = :output, error = :error,
			return_code = :return_code, end_time = :end_time, updated_at = :updated_at, args = :args
		WHERE id = :id AND status IN ('pending', 'running')
	`, row)
	if err != nil {
		return false, fmt.Errorf("failed to update process: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *processRepository) List(ctx context.Context, filter repository.ProcessFilter) ([]*domain.Process, error) {
	query, args := applyListFilter(
		"SELECT "+processColumns+" FROM process WHERE 1=1", nil,
		filter.ListFilter, "start_time DESC",
	)
	return r.findMany(ctx, query, args...)
}

func (r *processRepository) Count(ctx context.Context, filter repository.ProcessFilter) (int, error) {
	query, args := ApplyFilters("SELECT COUNT(*) FROM process WHERE 1=1", nil, filter.Filters)

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count processes: %w", err)
	}
	return count, nil
}

func (r *processRepository) FindStale(ctx context.Context, status domain.ProcessStatus, before time.Time) ([]*domain.Process, error) {
	return r.findMany(ctx,
		"SELECT "+processColumns+" FROM process WHERE status = ? AND start_time < ? ORDER BY start_time ASC",
		string(status), FormatTime(before),
	)
}

func (r *processRepository) FailIfStatus(ctx context.Context, id int64, status domain.ProcessStatus, message string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE process
		SET status = ?, error = ?, end_time = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.ProcessStatusFailed), message, FormatTime(at), FormatTime(at), id, string(status))
	if err != nil {
		return false, fmt.Errorf("failed to fail process %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *processRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Process, error) {
	var row processRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("process: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get process: %w", err)
	}
	return row.toDomain()
}

func (r *processRepository) findMany(ctx context.Context, query string, args ...any) ([]*domain.Process, error) {
	var rows []processRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	processes := make([]*domain.Process, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		processes = append(processes, p)
	}
	return processes, nil
}
