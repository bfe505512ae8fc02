package repository

import (
	"context"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

type RemoteRepository interface {
	Create(ctx context.Context, remote *domain.Remote) error
	FindByID(ctx context.Context, id string) (*domain.Remote, error)
	ListByUser(ctx context.Context, userID int64) ([]*domain.Remote, error)
	Delete(ctx context.Context, id string) error
}
