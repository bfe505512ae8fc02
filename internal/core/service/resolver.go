package service

import (
	"context"
	"fmt"

	"github.com/vsisnet/vsispanel-sub003/internal/core/destination"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/engine"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

// Target is a resolved destination plus the password that opens its
// repository.
type Target struct {
	Destination destination.Destination
	Password    string
	RemoteID    *string
}

func (t Target) Repository() engine.Repository {
	return engine.Repository{
		Address:  t.Destination.RepositoryAddress(),
		Env:      t.Destination.CredentialEnvironment(),
		Password: t.Password,
	}
}

// DestinationResolver turns a config's remote link or inline destination into
// a Destination.
type DestinationResolver struct {
	remoteRepo      repository.RemoteRepository
	opts            destination.Options
	defaultPassword string
}

func NewDestinationResolver(remoteRepo repository.RemoteRepository, opts destination.Options, defaultPassword string) *DestinationResolver {
	return &DestinationResolver{remoteRepo: remoteRepo, opts: opts, defaultPassword: defaultPassword}
}

// ForConfig resolves the primary destination. A linked remote takes
// precedence over the inline destination fields.
func (r *DestinationResolver) ForConfig(ctx context.Context, cfg *domain.BackupConfig) (Target, error) {
	password := cfg.RepositoryPassword(r.defaultPassword)
	if cfg.RemoteID != nil && *cfg.RemoteID != "" {
		return r.ForRemote(ctx, *cfg.RemoteID, password)
	}

	dest, err := destination.New(cfg.DestinationType, cfg.DestinationConfig, r.opts)
	if err != nil {
		return Target{}, err
	}
	return Target{Destination: dest, Password: password}, nil
}

// ForRemote resolves a stored remote. The remote's own repository password
// wins over fallbackPassword.
func (r *DestinationResolver) ForRemote(ctx context.Context, remoteID, fallbackPassword string) (Target, error) {
	remote, err := r.remoteRepo.FindByID(ctx, remoteID)
	if err != nil {
		return Target{}, fmt.Errorf("failed to load remote %s: %w", remoteID, err)
	}
	dest, err := destination.New(remote.Type, remote.Config, r.opts)
	if err != nil {
		return Target{}, err
	}
	password := remote.Config[domain.RepositoryPasswordKey]
	if password == "" {
		password = fallbackPassword
	}
	if password == "" {
		password = r.defaultPassword
	}
	id := remote.ID
	return Target{Destination: dest, Password: password, RemoteID: &id}, nil
}
