package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
	"github.com/vsisnet/vsispanel-sub003/internal/metrics"
)

const reaperLockName = "reaper:sweep"

type ReapResult struct {
	RunningBackups   int
	PendingBackups   int
	RunningProcesses int
	PendingProcesses int
	RunningRestores  int
}

func (r ReapResult) Total() int {
	return r.RunningBackups + r.PendingBackups + r.RunningProcesses + r.PendingProcesses + r.RunningRestores
}

// ReaperService force-fails work that has stopped making progress. It never
// retries and never marks anything completed.
type ReaperService struct {
	backupRepo  repository.BackupRepository
	restoreRepo repository.RestoreRepository
	processRepo repository.ProcessRepository
	lockRepo    repository.LockRepository
	threshold   time.Duration
	lockTTL     time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func NewReaperService(
	backupRepo repository.BackupRepository,
	restoreRepo repository.RestoreRepository,
	processRepo repository.ProcessRepository,
	lockRepo repository.LockRepository,
	threshold, lockTTL time.Duration,
	logger zerolog.Logger,
) *ReaperService {
	return &ReaperService{
		backupRepo:  backupRepo,
		restoreRepo: restoreRepo,
		processRepo: processRepo,
		lockRepo:    lockRepo,
		threshold:   threshold,
		lockTTL:     lockTTL,
		logger:      logger.With().Str("component", "reaper").Logger(),
		now:         time.Now,
	}
}

func (s *ReaperService) Reap(ctx context.Context) (*ReapResult, error) {
	owner := uuid.New().String()
	acquired, err := s.lockRepo.Acquire(ctx, reaperLockName, owner, s.lockTTL, s.now())
	if err != nil {
		return nil, err
	}
	if !acquired {
		s.logger.Info().Msg("reaper sweep skipped, previous sweep still running")
		return nil, ErrSweepInProgress
	}
	defer func() {
		if err := s.lockRepo.Release(context.WithoutCancel(ctx), reaperLockName, owner); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release reaper lock")
		}
	}()

	sweep := domain.NewProcess("reaper sweep", domain.ProcessTypeReap, map[string]any{"threshold": s.threshold.String()})
	sweep.Start()
	sweep.StartTime = s.now()
	if err := s.processRepo.Create(ctx, sweep); err != nil {
		s.logger.Warn().Err(err).Msg("failed to create ledger entry for sweep")
		sweep = nil
	}

	now := s.now()
	runningCutoff := now.Add(-s.threshold)
	pendingCutoff := now.Add(-2 * s.threshold)
	result := &ReapResult{}

	if result.RunningBackups, err = s.reapBackups(ctx, now, runningCutoff, domain.BackupStatusRunning,
		fmt.Sprintf("stuck: running longer than %s", s.threshold)); err != nil {
		return nil, err
	}
	if result.PendingBackups, err = s.reapBackups(ctx, now, pendingCutoff, domain.BackupStatusPending,
		fmt.Sprintf("stuck: pending longer than %s without being picked up", 2*s.threshold)); err != nil {
		return nil, err
	}
	if result.RunningProcesses, err = s.reapProcesses(ctx, now, runningCutoff, domain.ProcessStatusRunning,
		fmt.Sprintf("stuck: running longer than %s", s.threshold)); err != nil {
		return nil, err
	}
	if result.PendingProcesses, err = s.reapProcesses(ctx, now, pendingCutoff, domain.ProcessStatusPending,
		fmt.Sprintf("stuck: pending longer than %s", 2*s.threshold)); err != nil {
		return nil, err
	}
	if result.RunningRestores, err = s.reapRestores(ctx, now, runningCutoff); err != nil {
		return nil, err
	}

	metrics.Reaped("backup_running", result.RunningBackups)
	metrics.Reaped("backup_pending", result.PendingBackups)
	metrics.Reaped("process_running", result.RunningProcesses)
	metrics.Reaped("process_pending", result.PendingProcesses)
	metrics.Reaped("restore_running", result.RunningRestores)

	if sweep != nil {
		sweep.Complete(0, fmt.Sprintf("reaped=%d", result.Total()), "")
		if _, err := s.processRepo.UpdateIfActive(ctx, sweep); err != nil {
			s.logger.Warn().Err(err).Msg("failed to update ledger entry for sweep")
		}
	}

	if result.Total() > 0 {
		s.logger.Warn().
			Int("running_backups", result.RunningBackups).
			Int("pending_backups", result.PendingBackups).
			Int("running_processes", result.RunningProcesses).
			Int("pending_processes", result.PendingProcesses).
			Int("running_restores", result.RunningRestores).
			Msg("reaped stuck jobs")
	}
	return result, nil
}

func (s *ReaperService) reapBackups(ctx context.Context, now, cutoff time.Time, status domain.BackupStatus, reason string) (int, error) {
	var (
		stuck []*domain.Backup
		err   error
	)
	if status == domain.BackupStatusRunning {
		stuck, err = s.backupRepo.FindRunningStartedBefore(ctx, cutoff)
	} else {
		stuck, err = s.backupRepo.FindPendingCreatedBefore(ctx, cutoff)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck backups: %w", err)
	}

	reaped := 0
	for _, b := range stuck {
		if err := b.Fail(now, reason); err != nil {
			continue
		}
		ok, err := s.backupRepo.UpdateIfStatus(ctx, b, status)
		if err != nil {
			s.logger.Error().Err(err).Str("backup_id", b.ID).Msg("failed to reap backup")
			continue
		}
		if !ok {
			continue
		}
		reaped++
		metrics.BackupFinished(string(domain.BackupStatusFailed), b.Trigger())
		s.logger.Warn().Str("backup_id", b.ID).Str("reason", reason).Msg("backup force-failed")
		if b.ProcessID != nil {
			if _, err := s.processRepo.FailIfStatus(ctx, *b.ProcessID, domain.ProcessStatusRunning, reason, now); err != nil {
				s.logger.Warn().Err(err).Int64("process_id", *b.ProcessID).Msg("failed to fail linked ledger entry")
			}
			if _, err := s.processRepo.FailIfStatus(ctx, *b.ProcessID, domain.ProcessStatusPending, reason, now); err != nil {
				s.logger.Warn().Err(err).Int64("process_id", *b.ProcessID).Msg("failed to fail linked ledger entry")
			}
		}
	}
	return reaped, nil
}

func (s *ReaperService) reapProcesses(ctx context.Context, now, cutoff time.Time, status domain.ProcessStatus, reason string) (int, error) {
	stuck, err := s.processRepo.FindStale(ctx, status, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck ledger entries: %w", err)
	}
	reaped := 0
	for _, p := range stuck {
		ok, err := s.processRepo.FailIfStatus(ctx, p.ID, status, reason, now)
		if err != nil {
			s.logger.Error().Err(err).Int64("process_id", p.ID).Msg("failed to reap ledger entry")
			continue
		}
		if ok {
			reaped++
		}
	}
	return reaped, nil
}

func (s *ReaperService) reapRestores(ctx context.Context, now, cutoff time.Time) (int, error) {
	stuck, err := s.restoreRepo.FindRunningStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stuck restores: %w", err)
	}
	reason := fmt.Sprintf("stuck: running longer than %s", s.threshold)
	reaped := 0
	for _, r := range stuck {
		r.Fail(now, reason, "")
		ok, err := s.restoreRepo.UpdateIfStatus(ctx, r, domain.RestoreStatusRunning)
		if err != nil {
			s.logger.Error().Err(err).Str("restore_id", r.ID).Msg("failed to reap restore")
			continue
		}
		if !ok {
			continue
		}
		reaped++
		metrics.RestoreFinished(string(domain.RestoreStatusFailed))
		s.logger.Warn().Str("restore_id", r.ID).Str("reason", reason).Msg("restore force-failed")
		if r.ProcessID != nil {
			if _, err := s.processRepo.FailIfStatus(ctx, *r.ProcessID, domain.ProcessStatusRunning, reason, now); err != nil {
				s.logger.Warn().Err(err).Int64("process_id", *r.ProcessID).Msg("failed to fail linked ledger entry")
			}
		}
	}
	return reaped, nil
}
