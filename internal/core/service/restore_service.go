package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vsisnet/vsispanel-sub003/internal/adapter/system"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/engine"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
	"github.com/vsisnet/vsispanel-sub003/internal/metrics"
)

type RestoreOptions struct {
	Timeout time.Duration
	// AllowedRoots are restore targets accepted even under system directories.
	AllowedRoots []string
	// CancelPoll is how often a running restore re-reads its status so a reap
	// from another process stops the engine.
	CancelPoll time.Duration
}

// RestoreService restores a completed backup's snapshot into a target
// directory. It only reads from the repository.
type RestoreService struct {
	restoreRepo repository.RestoreRepository
	backupRepo  repository.BackupRepository
	configRepo  repository.BackupConfigRepository
	processServ *ProcessService
	resolver    *DestinationResolver
	engine      engine.Engine
	queue       Queue
	opts        RestoreOptions
	logger      zerolog.Logger
	now         func() time.Time
}

func NewRestoreService(
	restoreRepo repository.RestoreRepository,
	backupRepo repository.BackupRepository,
	configRepo repository.BackupConfigRepository,
	processServ *ProcessService,
	resolver *DestinationResolver,
	eng engine.Engine,
	queue Queue,
	opts RestoreOptions,
	logger zerolog.Logger,
) *RestoreService {
	if opts.CancelPoll <= 0 {
		opts.CancelPoll = 5 * time.Second
	}
	return &RestoreService{
		restoreRepo: restoreRepo,
		backupRepo:  backupRepo,
		configRepo:  configRepo,
		processServ: processServ,
		resolver:    resolver,
		engine:      eng,
		queue:       queue,
		opts:        opts,
		logger:      logger.With().Str("component", "restore").Logger(),
		now:         time.Now,
	}
}

// Create validates the request and queues a restore operation.
func (s *RestoreService) Create(ctx context.Context, backupID string, userID int64, target string, includes []string) (*domain.RestoreOperation, error) {
	b, err := s.backupRepo.FindByID(ctx, backupID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &ServiceError{Code: http.StatusNotFound, Message: "backup not found", Err: err}
		}
		return nil, err
	}
	if b.UserID != userID {
		return nil, &ServiceError{Code: http.StatusNotFound, Message: "backup not found", Err: domain.ErrNotFound}
	}
	if b.Status != domain.BackupStatusCompleted || b.SnapshotID == nil {
		return nil, NewServiceError(http.StatusUnprocessableEntity, fmt.Sprintf("backup %s is %s and has no snapshot to restore", b.ID, b.Status))
	}
	if err := system.CheckRestoreTarget(target, s.opts.AllowedRoots); err != nil {
		return nil, invalid(err)
	}

	op := domain.NewRestoreOperation(b.ID, userID, target, includes, s.now())
	if err := s.restoreRepo.Create(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to create restore operation: %w", err)
	}

	proc, err := s.processServ.CreateProcess(ctx, "restore "+b.ID, domain.ProcessTypeRestore, map[string]any{
		"restore_id": op.ID,
		"backup_id":  b.ID,
		"target":     target,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("restore_id", op.ID).Msg("failed to create ledger entry")
	} else {
		op.ProcessID = &proc.ID
		if _, err := s.restoreRepo.UpdateIfStatus(ctx, op, domain.RestoreStatusPending); err != nil {
			s.logger.Warn().Err(err).Str("restore_id", op.ID).Msg("failed to link ledger entry")
		}
	}

	if err := s.queue.Enqueue(Job{Kind: JobRestore, ID: op.ID}); err != nil {
		op.Fail(s.now(), err.Error(), "")
		if _, uerr := s.restoreRepo.UpdateIfStatus(ctx, op, domain.RestoreStatusPending); uerr != nil {
			s.logger.Warn().Err(uerr).Str("restore_id", op.ID).Msg("failed to record rejected restore")
		}
		s.processServ.Fail(ctx, proc, err.Error())
		return op, &ServiceError{Code: http.StatusServiceUnavailable, Message: err.Error(), Err: err}
	}
	return op, nil
}

// Execute runs a pending restore operation to a terminal state.
func (s *RestoreService) Execute(ctx context.Context, id string) error {
	op, err := s.restoreRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load restore operation: %w", err)
	}
	logger := s.logger.With().Str("restore_id", op.ID).Str("backup_id", op.BackupID).Logger()

	if err := op.Start(s.now()); err != nil {
		logger.Info().Str("status", string(op.Status)).Msg("restore is no longer pending, skipping")
		return nil
	}
	ok, err := s.restoreRepo.UpdateIfStatus(ctx, op, domain.RestoreStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark restore running: %w", err)
	}
	if !ok {
		return nil
	}

	var proc *domain.Process
	if op.ProcessID != nil {
		if proc, err = s.processServ.GetProcess(ctx, *op.ProcessID); err != nil {
			logger.Warn().Err(err).Msg("failed to load ledger entry")
			proc = nil
		}
	}
	s.processServ.Start(ctx, proc)

	b, err := s.backupRepo.FindByID(ctx, op.BackupID)
	if err != nil {
		return s.fail(ctx, op, proc, fmt.Sprintf("failed to load backup: %v", err), "")
	}
	if b.SnapshotID == nil {
		return s.fail(ctx, op, proc, "backup has no snapshot", "")
	}
	source, err := s.sourceFor(ctx, b)
	if err != nil {
		return s.fail(ctx, op, proc, err.Error(), "")
	}
	if err := source.Destination.Validate(); err != nil {
		return s.fail(ctx, op, proc, err.Error(), "")
	}
	if err := system.EnsureDirectory(op.TargetPath, 0o750); err != nil {
		return s.fail(ctx, op, proc, err.Error(), "")
	}
	s.processServ.Progress(ctx, proc, 10)

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	go s.watchRestore(runCtx, stop, op.ID)

	logger.Info().Str("target", op.TargetPath).Str("snapshot_id", *b.SnapshotID).Msg("starting restore")
	start := time.Now()
	result, err := s.engine.Restore(runCtx, engine.RestoreRequest{
		Repository: source.Repository(),
		SnapshotID: *b.SnapshotID,
		Target:     op.TargetPath,
		Includes:   op.IncludePaths,
		Timeout:    s.opts.Timeout,
		OnStart:    func(pid int) { s.processServ.SetPID(ctx, proc, pid) },
	})
	metrics.ObserveEngine("restore", start, err)
	if err != nil && stoppedExternally(runCtx) {
		logger.Info().Msg("restore settled elsewhere, engine stopped")
		return nil
	}
	if err != nil {
		var exitErr *engine.ExitError
		output := ""
		if errors.As(err, &exitErr) {
			output = exitErr.Tail
		}
		return s.fail(context.WithoutCancel(ctx), op, proc, err.Error(), output)
	}

	op.Complete(s.now(), result.FilesRestored, result.BytesRestored, result.Output)
	ok, err = s.restoreRepo.UpdateIfStatus(ctx, op, domain.RestoreStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark restore completed: %w", err)
	}
	if !ok {
		logger.Info().Msg("restore was settled elsewhere while the engine was finishing")
		return nil
	}
	metrics.RestoreFinished(string(op.Status))
	logger.Info().Int64("files", result.FilesRestored).Int64("bytes", result.BytesRestored).Msg("restore completed")
	s.processServ.Succeed(ctx, proc, result.Output)
	return nil
}

// sourceFor resolves where the backup was written. The config's current
// destination is used when the backup did not record a remote.
func (s *RestoreService) sourceFor(ctx context.Context, b *domain.Backup) (Target, error) {
	if b.BackupConfigID == nil {
		return Target{}, errors.New("backup is not linked to a configuration")
	}
	cfg, err := s.configRepo.FindByID(ctx, *b.BackupConfigID)
	if err != nil {
		return Target{}, fmt.Errorf("failed to load backup configuration: %w", err)
	}
	if b.RemoteID != nil {
		return s.resolver.ForRemote(ctx, *b.RemoteID, cfg.RepositoryPassword(""))
	}
	return s.resolver.ForConfig(ctx, cfg)
}

func (s *RestoreService) fail(ctx context.Context, op *domain.RestoreOperation, proc *domain.Process, message, output string) error {
	op.Fail(s.now(), message, output)
	ok, err := s.restoreRepo.UpdateIfStatus(ctx, op, domain.RestoreStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark restore failed: %w", err)
	}
	if !ok {
		return nil
	}
	metrics.RestoreFinished(string(op.Status))
	s.logger.Error().Str("restore_id", op.ID).Str("error", message).Msg("restore failed")
	s.processServ.Fail(ctx, proc, message)
	return nil
}

// watchRestore stops the engine once the operation is no longer running.
func (s *RestoreService) watchRestore(ctx context.Context, stop context.CancelCauseFunc, id string) {
	watchRun(ctx, stop, s.opts.CancelPoll, func(ctx context.Context) error {
		op, err := s.restoreRepo.FindByID(ctx, id)
		if err != nil || op.Status == domain.RestoreStatusRunning {
			return nil
		}
		return errSettled
	})
}

func (s *RestoreService) GetRestore(ctx context.Context, id string) (*domain.RestoreOperation, error) {
	return s.restoreRepo.FindByID(ctx, id)
}

func (s *RestoreService) ListRestores(ctx context.Context, filter repository.RestoreFilter) ([]*domain.RestoreOperation, error) {
	return s.restoreRepo.List(ctx, filter)
}

func (s *RestoreService) CountRestores(ctx context.Context, filter repository.RestoreFilter) (int, error) {
	return s.restoreRepo.Count(ctx, filter)
}
