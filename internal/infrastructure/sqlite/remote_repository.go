package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

type remoteRow struct {
	ID        string `db:"id"`
	UserID    int64  `db:"user_id"`
	Name      string `db:"name"`
	Type      string `db:"type"`
	Config    string `db:"config"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r remoteRow) toDomain() (*domain.Remote, error) {
	remote := &domain.Remote{
		ID:     r.ID,
		UserID: r.UserID,
		Name:   r.Name,
		Type:   domain.DestinationType(r.Type),
	}
	if err := fromJSON(r.Config, &remote.Config); err != nil {
		return nil, err
	}
	var err error
	if remote.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return nil, err
	}
	if remote.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	return remote, nil
}

type remoteRepository struct {
	db *DB
}

func NewRemoteRepository(db *DB) repository.RemoteRepository {
	return &remoteRepository{db: db}
}

func (r *remoteRepository) Create(ctx context.Context, remote *domain.Remote) error {
	config := remote.Config
	if config == nil {
		config = map[string]string{}
	}
	encoded, err := toJSON(config)
	if err != nil {
		return err
	}
	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO remote (id, user_id, name, type, config, created_at, updated_at)
		VALUES (:id, :user_id, :name, :type, :config, :created_at, :updated_at)
	`, remoteRow{
		ID:        remote.ID,
		UserID:    remote.UserID,
		Name:      remote.Name,
		Type:      string(remote.Type),
		Config:    encoded,
		CreatedAt: FormatTime(remote.CreatedAt),
		UpdatedAt: FormatTime(remote.UpdatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to create remote: %w", err)
	}
	return nil
}

func (r *remoteRepository) FindByID(ctx context.Context, id string) (*domain.Remote, error) {
	var row remoteRow
	err := r.db.GetContext(ctx, &row, "SELECT * FROM remote WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("remote %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remote: %w", err)
	}
	return row.toDomain()
}

func (r *remoteRepository) ListByUser(ctx context.Context, userID int64) ([]*domain.Remote, error) {
	var rows []remoteRow
	if err := r.db.SelectContext(ctx, &rows, "SELECT * FROM remote WHERE user_id = ? ORDER BY name ASC", userID); err != nil {
		return nil, fmt.Errorf("failed to list remotes: %w", err)
	}
	remotes := make([]*domain.Remote, 0, len(rows))
	for _, row := range rows {
		remote, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		remotes = append(remotes, remote)
	}
	return remotes, nil
}

func (r *remoteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM remote WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete remote: %w", err)
	}
	return expectRow(result, "remote", id)
}
