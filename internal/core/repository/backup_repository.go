package repository

import (
	"context"
	"time"

	"github.com/vsisnet/vsispanel-sub003/internal/api/util"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

type BackupFilter struct {
	util.ListFilter
	ConfigID       *string
	UserID         *int64
	IncludeTrashed bool
	OnlyTrashed    bool
}

type BackupRepository interface {
	// CreateIfIdle inserts a pending backup unless its config already has a
	// pending or running one, in which case domain.ErrBackupInProgress is
	// returned. The check and the insert are a single atomic statement.
	CreateIfIdle(ctx context.Context, backup *domain.Backup) error

	FindByID(ctx context.Context, id string) (*domain.Backup, error)

	// UpdateIfStatus persists every mutable field of backup, but only when the
	// stored status is one of expected. It reports whether a row was written.
	UpdateIfStatus(ctx context.Context, backup *domain.Backup, expected ...domain.BackupStatus) (bool, error)

	List(ctx context.Context, filter BackupFilter) ([]*domain.Backup, error)
	Count(ctx context.Context, filter BackupFilter) (int, error)

	FindActiveByConfig(ctx context.Context, configID string) ([]*domain.Backup, error)
	FindRunningStartedBefore(ctx context.Context, before time.Time) ([]*domain.Backup, error)
	FindPendingCreatedBefore(ctx context.Context, before time.Time) ([]*domain.Backup, error)

	SoftDelete(ctx context.Context, id string, at time.Time) error
	Untrash(ctx context.Context, id string) error
}
