package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vsisnet/vsispanel-sub003/internal/core/destination"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

// ConfigService manages backup configurations and the remotes they link to.
// Every write recomputes the next run and validates the destination before
// anything is stored.
type ConfigService struct {
	configRepo repository.BackupConfigRepository
	remoteRepo repository.RemoteRepository
	backupRepo repository.BackupRepository
	resolver   *DestinationResolver
	logger     zerolog.Logger
	now        func() time.Time
}

func NewConfigService(
	configRepo repository.BackupConfigRepository,
	remoteRepo repository.RemoteRepository,
	backupRepo repository.BackupRepository,
	resolver *DestinationResolver,
	logger zerolog.Logger,
) *ConfigService {
	return &ConfigService{
		configRepo: configRepo,
		remoteRepo: remoteRepo,
		backupRepo: backupRepo,
		resolver:   resolver,
		logger:     logger.With().Str("component", "config").Logger(),
		now:        time.Now,
	}
}

// CreateConfig validates cfg, computes its first run and stores it.
func (s *ConfigService) CreateConfig(ctx context.Context, cfg *domain.BackupConfig) error {
	now := s.now()
	if err := s.validate(ctx, cfg, now); err != nil {
		return err
	}
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	if err := s.configRepo.Create(ctx, cfg); err != nil {
		return fmt.Errorf("failed to create backup configuration: %w", err)
	}
	s.logger.Info().
		Str("config_id", cfg.ID).
		Str("schedule", cfg.Schedule).
		Interface("destination", s.redacted(ctx, cfg)).
		Msg("backup configuration created")
	return nil
}

// UpdateConfig validates cfg and stores it. The next run is recomputed from
// now, so a schedule change takes effect at the next matching time.
func (s *ConfigService) UpdateConfig(ctx context.Context, cfg *domain.BackupConfig) error {
	existing, err := s.loadOwned(ctx, cfg.ID, cfg.UserID)
	if err != nil {
		return err
	}
	if existing.Trashed() {
		return NewServiceError(http.StatusUnprocessableEntity, "backup configuration is deleted")
	}

	now := s.now()
	if err := s.validate(ctx, cfg, now); err != nil {
		return err
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.LastRunAt = existing.LastRunAt
	cfg.UpdatedAt = now
	if err := s.configRepo.Update(ctx, cfg); err != nil {
		return fmt.Errorf("failed to update backup configuration: %w", err)
	}
	s.logger.Info().Str("config_id", cfg.ID).Str("schedule", cfg.Schedule).Msg("backup configuration updated")
	return nil
}

// SetActive pauses or resumes a configuration. Resuming recomputes the next
// run so missed activations are not replayed.
func (s *ConfigService) SetActive(ctx context.Context, id string, userID int64, active bool) (*domain.BackupConfig, error) {
	cfg, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if cfg.Trashed() {
		return nil, NewServiceError(http.StatusUnprocessableEntity, "backup configuration is deleted")
	}
	now := s.now()
	cfg.IsActive = active
	cfg.UpdatedAt = now
	if active {
		if err := cfg.RecomputeNextRun(now); err != nil {
			return nil, invalid(err)
		}
	}
	if err := s.configRepo.Update(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to update backup configuration: %w", err)
	}
	return cfg, nil
}

// DeleteConfig moves a configuration to the trash. It is refused while one of
// its backups is pending or running.
func (s *ConfigService) DeleteConfig(ctx context.Context, id string, userID int64) error {
	cfg, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	if cfg.Trashed() {
		return nil
	}
	active, err := s.backupRepo.FindActiveByConfig(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check active backups: %w", err)
	}
	if len(active) > 0 {
		return conflict(domain.ErrBackupInProgress)
	}
	if err := s.configRepo.SoftDelete(ctx, id, s.now()); err != nil {
		return fmt.Errorf("failed to delete backup configuration: %w", err)
	}
	return nil
}

// UntrashConfig brings a trashed configuration back with a fresh next run.
func (s *ConfigService) UntrashConfig(ctx context.Context, id string, userID int64) (*domain.BackupConfig, error) {
	cfg, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !cfg.Trashed() {
		return cfg, nil
	}
	if err := s.configRepo.Untrash(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to restore backup configuration: %w", err)
	}
	cfg.DeletedAt = nil
	if err := cfg.RecomputeNextRun(s.now()); err != nil {
		s.logger.Warn().Err(err).Str("config_id", id).Msg("restored configuration has an invalid schedule")
	}
	if err := s.configRepo.UpdateRunTimes(ctx, id, cfg.LastRunAt, cfg.NextRunAt); err != nil {
		return nil, fmt.Errorf("failed to update run times: %w", err)
	}
	return cfg, nil
}

func (s *ConfigService) GetConfig(ctx context.Context, id string, userID int64) (*domain.BackupConfig, error) {
	return s.loadOwned(ctx, id, userID)
}

func (s *ConfigService) ListConfigs(ctx context.Context, filter repository.BackupConfigFilter) ([]*domain.BackupConfig, error) {
	return s.configRepo.List(ctx, filter)
}

func (s *ConfigService) CountConfigs(ctx context.Context, filter repository.BackupConfigFilter) (int, error) {
	return s.configRepo.Count(ctx, filter)
}

// AddRemote validates and stores a reusable destination.
func (s *ConfigService) AddRemote(ctx context.Context, remote *domain.Remote) error {
	if strings.TrimSpace(remote.Name) == "" {
		return NewServiceError(http.StatusUnprocessableEntity, "remote name is required")
	}
	dest, err := destination.New(remote.Type, remote.Config, destination.Options{})
	if err != nil {
		return invalid(err)
	}
	if err := dest.Validate(); err != nil {
		return invalid(err)
	}
	if err := s.remoteRepo.Create(ctx, remote); err != nil {
		return fmt.Errorf("failed to create remote: %w", err)
	}
	s.logger.Info().Str("remote_id", remote.ID).Interface("destination", dest.Redacted()).Msg("remote created")
	return nil
}

func (s *ConfigService) ListRemotes(ctx context.Context, userID int64) ([]*domain.Remote, error) {
	return s.remoteRepo.ListByUser(ctx, userID)
}

func (s *ConfigService) DeleteRemote(ctx context.Context, id string, userID int64) error {
	remote, err := s.remoteRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &ServiceError{Code: http.StatusNotFound, Message: "remote not found", Err: err}
		}
		return err
	}
	if remote.UserID != userID {
		return &ServiceError{Code: http.StatusNotFound, Message: "remote not found", Err: domain.ErrNotFound}
	}
	return s.remoteRepo.Delete(ctx, id)
}

func (s *ConfigService) loadOwned(ctx context.Context, id string, userID int64) (*domain.BackupConfig, error) {
	cfg, err := s.configRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &ServiceError{Code: http.StatusNotFound, Message: "backup configuration not found", Err: err}
		}
		return nil, err
	}
	if cfg.UserID != userID {
		return nil, &ServiceError{Code: http.StatusNotFound, Message: "backup configuration not found", Err: domain.ErrNotFound}
	}
	return cfg, nil
}

// validate rejects a configuration that could never run and fills in the
// resolved schedule expression and next run.
func (s *ConfigService) validate(ctx context.Context, cfg *domain.BackupConfig, now time.Time) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return NewServiceError(http.StatusUnprocessableEntity, "name is required")
	}
	if !cfg.BackupType.Valid() {
		return NewServiceError(http.StatusUnprocessableEntity, fmt.Sprintf("unknown backup type %q", cfg.BackupType))
	}

	switch cfg.Frequency {
	case domain.FrequencyDaily, domain.FrequencyMonthly:
		if cfg.TimeOfDay == nil || *cfg.TimeOfDay == "" {
			return NewServiceError(http.StatusUnprocessableEntity, fmt.Sprintf("%s schedules require time_of_day", cfg.Frequency))
		}
	case domain.FrequencyWeekly:
		if cfg.TimeOfDay == nil || *cfg.TimeOfDay == "" || cfg.DayOfWeek == nil {
			return NewServiceError(http.StatusUnprocessableEntity, "weekly schedules require day_of_week and time_of_day")
		}
	case domain.FrequencyCustom, "":
		if strings.TrimSpace(cfg.Schedule) == "" {
			return NewServiceError(http.StatusUnprocessableEntity, "custom schedules require a cron expression")
		}
	}
	if err := cfg.RecomputeNextRun(now); err != nil {
		return invalid(err)
	}

	if cfg.RemoteID != nil && *cfg.RemoteID != "" {
		if err := s.checkRemote(ctx, *cfg.RemoteID, cfg.UserID); err != nil {
			return err
		}
	}
	for _, id := range cfg.SecondaryRemoteIDs {
		if err := s.checkRemote(ctx, id, cfg.UserID); err != nil {
			return err
		}
	}

	target, err := s.resolver.ForConfig(ctx, cfg)
	if err != nil {
		return invalid(err)
	}
	if err := target.Destination.Validate(); err != nil {
		return invalid(err)
	}
	return nil
}

func (s *ConfigService) checkRemote(ctx context.Context, id string, userID int64) error {
	remote, err := s.remoteRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return NewServiceError(http.StatusUnprocessableEntity, fmt.Sprintf("remote %s does not exist", id))
		}
		return err
	}
	if remote.UserID != userID {
		return NewServiceError(http.StatusUnprocessableEntity, fmt.Sprintf("remote %s does not exist", id))
	}
	return nil
}

func (s *ConfigService) redacted(ctx context.Context, cfg *domain.BackupConfig) map[string]any {
	target, err := s.resolver.ForConfig(ctx, cfg)
	if err != nil {
		return nil
	}
	return target.Destination.Redacted()
}
