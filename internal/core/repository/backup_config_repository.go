package repository

import (
	"context"
	"time"

	"github.com/vsisnet/vsispanel-sub003/internal/api/util"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

type BackupConfigFilter struct {
	util.ListFilter
	UserID         *int64
	IncludeTrashed bool
}

type BackupConfigRepository interface {
	Create(ctx context.Context, config *domain.BackupConfig) error
	FindByID(ctx context.Context, id string) (*domain.BackupConfig, error)
	Update(ctx context.Context, config *domain.BackupConfig) error
	List(ctx context.Context, filter BackupConfigFilter) ([]*domain.BackupConfig, error)
	Count(ctx context.Context, filter BackupConfigFilter) (int, error)

	// FindDue returns active, non-trashed configs with next_run_at <= now.
	FindDue(ctx context.Context, now time.Time) ([]*domain.BackupConfig, error)
	// FindActive returns every active, non-trashed config regardless of schedule.
	FindActive(ctx context.Context) ([]*domain.BackupConfig, error)

	UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	Untrash(ctx context.Context, id string) error
}
