package repository

import (
	"context"
	"time"

	"github.com/vsisnet/vsispanel-sub003/internal/api/util"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

// ProcessFilter embeds ListFilter for generic query/order/pagination
type ProcessFilter struct {
	util.ListFilter
}

type ProcessRepository interface {
	Create(ctx context.Context, process *domain.Process) error
	FindByID(ctx context.Context, id int64) (*domain.Process, error)
	FindByCommandID(ctx context.Context, commandID string) (*domain.Process, error)
	Update(ctx context.Context, process *domain.Process) error
	// UpdateIfActive writes process only while the stored entry is pending
	// or running, reporting whether a row was changed.
	UpdateIfActive(ctx context.Context, process *domain.Process) (bool, error)
	List(ctx context.Context, filter ProcessFilter) ([]*domain.Process, error)
	Count(ctx context.Context, filter ProcessFilter) (int, error)

	// FindStale returns entries in status whose start_time is before the cutoff.
	FindStale(ctx context.Context, status domain.ProcessStatus, before time.Time) ([]*domain.Process, error)

	// FailIfStatus force-fails an entry that is still in status, reporting
	// whether a row was changed.
	FailIfStatus(ctx context.Context, id int64, status domain.ProcessStatus, message string, at time.Time) (bool, error)
}
