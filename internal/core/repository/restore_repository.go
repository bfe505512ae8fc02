package repository

import (
	"context"
	"time"

	"github.com/vsisnet/vsispanel-sub003/internal/api/util"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

type RestoreFilter struct {
	util.ListFilter
	BackupID *string
}

type RestoreRepository interface {
	Create(ctx context.Context, restore *domain.RestoreOperation) error
	FindByID(ctx context.Context, id string) (*domain.RestoreOperation, error)
	UpdateIfStatus(ctx context.Context, restore *domain.RestoreOperation, expected ...domain.RestoreStatus) (bool, error)
	List(ctx context.Context, filter RestoreFilter) ([]*domain.RestoreOperation, error)
	Count(ctx context.Context, filter RestoreFilter) (int, error)

	FindRunningStartedBefore(ctx context.Context, before time.Time) ([]*domain.RestoreOperation, error)
}
