package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
	"github.com/vsisnet/vsispanel-sub003/internal/metrics"
)

const schedulerLockName = "scheduler:pass"

type PassResult struct {
	Candidates int
	Created    int
	Skipped    int
	Failed     int
	BackupIDs  []string
}

// SchedulerService turns due configurations into pending backups. It is
// invoked by an external trigger and never schedules itself.
type SchedulerService struct {
	configRepo repository.BackupConfigRepository
	lockRepo   repository.LockRepository
	backups    *BackupService
	lockTTL    time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewSchedulerService(
	configRepo repository.BackupConfigRepository,
	lockRepo repository.LockRepository,
	backups *BackupService,
	lockTTL time.Duration,
	logger zerolog.Logger,
) *SchedulerService {
	return &SchedulerService{
		configRepo: configRepo,
		lockRepo:   lockRepo,
		backups:    backups,
		lockTTL:    lockTTL,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		now:        time.Now,
	}
}

// RunPass creates a pending backup for every due configuration, or for every
// active one when force is set. A pass that overlaps a running one returns
// ErrPassInProgress without doing anything.
func (s *SchedulerService) RunPass(ctx context.Context, force bool) (*PassResult, error) {
	owner := uuid.New().String()
	acquired, err := s.lockRepo.Acquire(ctx, schedulerLockName, owner, s.lockTTL, s.now())
	if err != nil {
		return nil, err
	}
	if !acquired {
		s.logger.Info().Msg("scheduler pass skipped, previous pass still running")
		return nil, ErrPassInProgress
	}
	defer func() {
		if err := s.lockRepo.Release(context.WithoutCancel(ctx), schedulerLockName, owner); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release scheduler lock")
		}
	}()
	metrics.SchedulerPass()

	ledger := s.backups.processServ
	proc, err := ledger.CreateProcess(ctx, "scheduler pass", domain.ProcessTypeSchedulerPass, map[string]any{"force": force})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to create ledger entry for pass")
		proc = nil
	}
	ledger.Start(ctx, proc)

	now := s.now()
	var candidates []*domain.BackupConfig
	if force {
		candidates, err = s.configRepo.FindActive(ctx)
	} else {
		candidates, err = s.configRepo.FindDue(ctx, now)
	}
	if err != nil {
		ledger.Fail(ctx, proc, err.Error())
		return nil, fmt.Errorf("failed to find candidate configs: %w", err)
	}

	trigger := domain.TriggerScheduler
	if force {
		trigger = domain.TriggerForced
	}

	result := &PassResult{Candidates: len(candidates)}
	for _, cfg := range candidates {
		if ctx.Err() != nil {
			break
		}
		outcome, backupID := s.runCandidate(ctx, cfg, trigger, now)
		metrics.SchedulerCandidate(outcome)
		switch outcome {
		case "created":
			result.Created++
			result.BackupIDs = append(result.BackupIDs, backupID)
		case "skipped":
			result.Skipped++
		default:
			result.Failed++
		}
	}

	s.logger.Info().
		Bool("force", force).
		Int("candidates", result.Candidates).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("scheduler pass finished")
	ledger.Succeed(ctx, proc, fmt.Sprintf("candidates=%d created=%d skipped=%d failed=%d",
		result.Candidates, result.Created, result.Skipped, result.Failed))
	return result, nil
}

// runCandidate handles one config in isolation. Errors and panics are logged
// and reported as "failed" so the pass moves on to the next config.
func (s *SchedulerService) runCandidate(ctx context.Context, cfg *domain.BackupConfig, trigger string, now time.Time) (outcome, backupID string) {
	logger := s.logger.With().Str("config_id", cfg.ID).Str("config_name", cfg.Name).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("scheduler candidate panicked")
			outcome, backupID = "failed", ""
			s.advance(ctx, cfg, now, logger)
		}
	}()

	b, err := s.backups.enqueueNew(ctx, cfg, trigger)
	switch {
	case errors.Is(err, domain.ErrBackupInProgress):
		logger.Info().Msg("backup already pending or running, skipping")
		outcome = "skipped"
	case err != nil:
		logger.Error().Err(err).Msg("failed to create backup")
		outcome = "failed"
	default:
		logger.Info().Str("backup_id", b.ID).Str("trigger", trigger).Msg("backup queued")
		outcome, backupID = "created", b.ID
	}

	s.advance(ctx, cfg, now, logger)
	return outcome, backupID
}

// advance records the claim and moves next_run_at past now, also after a skip
// or a failure, so a config never stays due.
func (s *SchedulerService) advance(ctx context.Context, cfg *domain.BackupConfig, now time.Time, logger zerolog.Logger) {
	if err := cfg.MarkRun(now); err != nil {
		logger.Warn().Err(err).Str("schedule", cfg.Schedule).Msg("invalid schedule, config will not run again until fixed")
	}
	if err := s.configRepo.UpdateRunTimes(ctx, cfg.ID, cfg.LastRunAt, cfg.NextRunAt); err != nil {
		logger.Error().Err(err).Msg("failed to update run times")
	}
}
