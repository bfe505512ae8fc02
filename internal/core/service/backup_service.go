package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/engine"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
	"github.com/vsisnet/vsispanel-sub003/internal/metrics"
)

// ErrBackupCancelled is the cancellation cause for a user-requested cancel.
var ErrBackupCancelled = errors.New("backup cancelled by user")

// Queue accepts work for asynchronous execution. The Dispatcher implements it.
type Queue interface {
	Enqueue(job Job) error
	Cancel(id string, cause error) bool
}

type BackupOptions struct {
	Timeout     time.Duration
	CopyTimeout time.Duration
	// InitTimeout bounds the short repository commands: init and snapshot
	// listing. RetentionTimeout bounds forget with prune. Zero disables either.
	InitTimeout      time.Duration
	RetentionTimeout time.Duration
	// BasePaths lists the filesystem roots captured for each backup type. A
	// full backup captures the union of all of them.
	BasePaths map[domain.BackupType][]string
	// CancelPoll is how often a running backup re-reads its own status so a
	// cancel issued from another process stops the engine.
	CancelPoll time.Duration
}

type BackupService struct {
	backupRepo  repository.BackupRepository
	configRepo  repository.BackupConfigRepository
	processServ *ProcessService
	resolver    *DestinationResolver
	engine      engine.Engine
	queue       Queue
	opts        BackupOptions
	logger      zerolog.Logger
	now         func() time.Time
}

func NewBackupService(
	backupRepo repository.BackupRepository,
	configRepo repository.BackupConfigRepository,
	processServ *ProcessService,
	resolver *DestinationResolver,
	eng engine.Engine,
	queue Queue,
	opts BackupOptions,
	logger zerolog.Logger,
) *BackupService {
	if opts.CancelPoll <= 0 {
		opts.CancelPoll = 5 * time.Second
	}
	return &BackupService{
		backupRepo:  backupRepo,
		configRepo:  configRepo,
		processServ: processServ,
		resolver:    resolver,
		engine:      eng,
		queue:       queue,
		opts:        opts,
		logger:      logger.With().Str("component", "backup").Logger(),
		now:         time.Now,
	}
}

// CreateManual queues a backup requested directly by the owner of a config.
// Destination problems are rejected synchronously.
func (s *BackupService) CreateManual(ctx context.Context, configID string, userID int64) (*domain.Backup, error) {
	cfg, err := s.configRepo.FindByID(ctx, configID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &ServiceError{Code: http.StatusNotFound, Message: "backup configuration not found", Err: err}
		}
		return nil, err
	}
	if cfg.UserID != userID {
		return nil, &ServiceError{Code: http.StatusNotFound, Message: "backup configuration not found", Err: domain.ErrNotFound}
	}
	if cfg.Trashed() {
		return nil, NewServiceError(http.StatusUnprocessableEntity, "backup configuration is deleted")
	}

	target, err := s.resolver.ForConfig(ctx, cfg)
	if err != nil {
		return nil, invalid(err)
	}
	if err := target.Destination.Validate(); err != nil {
		return nil, invalid(err)
	}

	b, err := s.enqueueNew(ctx, cfg, domain.TriggerManual)
	if errors.Is(err, domain.ErrBackupInProgress) {
		return nil, conflict(err)
	}
	return b, err
}

// enqueueNew is the atomic check-and-insert followed by the ledger entry and
// the hand-off to the workers. domain.ErrBackupInProgress means another
// backup for cfg is pending or running.
func (s *BackupService) enqueueNew(ctx context.Context, cfg *domain.BackupConfig, trigger string) (*domain.Backup, error) {
	b := domain.NewBackup(cfg, trigger, s.now())
	if err := s.backupRepo.CreateIfIdle(ctx, b); err != nil {
		return nil, err
	}

	proc, err := s.processServ.CreateProcess(ctx, "backup "+cfg.Name, domain.ProcessTypeBackup, map[string]any{
		"backup_id": b.ID,
		"config_id": cfg.ID,
		"trigger":   trigger,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("backup_id", b.ID).Msg("failed to create ledger entry")
	} else {
		b.ProcessID = &proc.ID
		if _, err := s.backupRepo.UpdateIfStatus(ctx, b, domain.BackupStatusPending); err != nil {
			s.logger.Warn().Err(err).Str("backup_id", b.ID).Msg("failed to link ledger entry")
		}
	}

	if err := s.queue.Enqueue(Job{Kind: JobBackup, ID: b.ID}); err != nil {
		s.logger.Warn().Err(err).Str("backup_id", b.ID).Msg("backup left pending, reaper will fail it if never picked up")
	}
	return b, nil
}

// Execute runs a pending backup to a terminal state. It returns an error only
// for infrastructure failures; backup failures are recorded on the backup.
func (s *BackupService) Execute(ctx context.Context, backupID string) error {
	b, err := s.backupRepo.FindByID(ctx, backupID)
	if err != nil {
		return fmt.Errorf("failed to load backup: %w", err)
	}
	logger := s.logger.With().Str("backup_id", b.ID).Logger()

	if err := b.Start(s.now()); err != nil {
		logger.Info().Str("status", string(b.Status)).Msg("backup is no longer pending, skipping")
		return nil
	}
	ok, err := s.backupRepo.UpdateIfStatus(ctx, b, domain.BackupStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark backup running: %w", err)
	}
	if !ok {
		logger.Info().Msg("backup was cancelled or claimed before it started")
		return nil
	}

	proc := s.loadProcess(ctx, b.ProcessID)
	s.processServ.Start(ctx, proc)
	s.processServ.Progress(ctx, proc, 10)

	if b.BackupConfigID == nil {
		return s.fail(ctx, b, proc, "backup configuration no longer exists")
	}
	if msg := s.concurrentRun(ctx, b); msg != "" {
		return s.fail(ctx, b, proc, msg)
	}

	cfg, err := s.configRepo.FindByID(ctx, *b.BackupConfigID)
	if err != nil {
		return s.fail(ctx, b, proc, fmt.Sprintf("failed to load backup configuration: %v", err))
	}
	target, err := s.resolver.ForConfig(ctx, cfg)
	if err != nil {
		return s.fail(ctx, b, proc, err.Error())
	}
	logger = logger.With().Str("config_id", cfg.ID).Interface("destination", target.Destination.Redacted()).Logger()

	if err := target.Destination.Validate(); err != nil {
		return s.fail(ctx, b, proc, err.Error())
	}

	runCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)
	go s.watchCancellation(runCtx, stop, b.ID)

	repo, err := s.prepareRepository(runCtx, target)
	if err != nil {
		return s.interruptedOrFail(ctx, runCtx, b, proc, err)
	}

	paths := s.includePaths(cfg)
	if len(paths) == 0 {
		return s.fail(ctx, b, proc, "no paths to back up for type "+string(cfg.BackupType))
	}

	logger.Info().Strs("paths", paths).Msg("starting backup")
	start := time.Now()
	result, err := s.engine.Backup(runCtx, engine.BackupRequest{
		Repository: repo,
		Paths:      paths,
		Excludes:   cfg.ExcludePatterns,
		Tags:       backupTags(cfg),
		Timeout:    s.opts.Timeout,
		OnStart:    func(pid int) { s.processServ.SetPID(ctx, proc, pid) },
	})
	metrics.ObserveEngine("backup", start, err)
	if err != nil {
		return s.interruptedOrFail(ctx, runCtx, b, proc, err)
	}

	if err := b.Complete(s.now(), result.SnapshotID, result.SizeBytes); err != nil {
		return fmt.Errorf("failed to complete backup: %w", err)
	}
	b.RemoteID = target.RemoteID
	address := target.Destination.RepositoryAddress()
	b.RemotePath = &address
	b.SetMetadata("data_added", result.DataAdded)
	ok, err = s.backupRepo.UpdateIfStatus(ctx, b, domain.BackupStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark backup completed: %w", err)
	}
	if !ok {
		logger.Info().Msg("backup was cancelled while the engine was finishing")
		return nil
	}
	metrics.BackupFinished(string(b.Status), b.Trigger())
	logger.Info().Str("snapshot_id", result.SnapshotID).Int64("size_bytes", result.SizeBytes).Msg("backup completed")
	s.processServ.Progress(ctx, proc, 80)

	s.applyRetention(ctx, cfg, b, repo, logger)
	s.replicate(ctx, cfg, b, target, logger)

	if _, err := s.backupRepo.UpdateIfStatus(ctx, b, domain.BackupStatusCompleted); err != nil {
		logger.Warn().Err(err).Msg("failed to save post-backup metadata")
	}
	s.processServ.Succeed(ctx, proc, result.Output)
	return nil
}

// prepareRepository makes sure the storage location exists and the engine
// repository is initialized.
func (s *BackupService) prepareRepository(ctx context.Context, target Target) (engine.Repository, error) {
	if err := target.Destination.EnsureRepositoryInitialized(ctx, target.Password); err != nil {
		return engine.Repository{}, err
	}
	repo := target.Repository()
	if !target.Destination.RepositoryLikelyExists(ctx) {
		initCtx, cancel := withTimeout(ctx, s.opts.InitTimeout)
		defer cancel()
		if err := s.engine.Init(initCtx, repo); err != nil {
			return engine.Repository{}, fmt.Errorf("failed to initialize repository: %w", err)
		}
	}
	return repo, nil
}

func (s *BackupService) applyRetention(ctx context.Context, cfg *domain.BackupConfig, b *domain.Backup, repo engine.Repository, logger zerolog.Logger) {
	if cfg.Retention.IsEmpty() {
		return
	}
	start := time.Now()
	err := s.engine.Forget(ctx, repo, engine.ForgetPolicy{
		KeepLast:    cfg.Retention.KeepLast,
		KeepDaily:   cfg.Retention.KeepDaily,
		KeepWeekly:  cfg.Retention.KeepWeekly,
		KeepMonthly: cfg.Retention.KeepMonthly,
		KeepYearly:  cfg.Retention.KeepYearly,
		Tags:        []string{configTag(cfg.ID)},
		Prune:       true,
		Timeout:     s.opts.RetentionTimeout,
	})
	metrics.ObserveEngine("forget", start, err)
	if err != nil {
		logger.Warn().Err(err).Msg("retention failed, backup stays completed")
		b.SetMetadata("retention_error", err.Error())
	}
}

// replicate copies the new snapshot to every secondary remote. One remote
// failing never affects the others or the backup itself.
func (s *BackupService) replicate(ctx context.Context, cfg *domain.BackupConfig, b *domain.Backup, source Target, logger zerolog.Logger) {
	if len(cfg.SecondaryRemoteIDs) == 0 || b.SnapshotID == nil {
		return
	}
	syncErrors := map[string]any{}
	for _, remoteID := range cfg.SecondaryRemoteIDs {
		if source.RemoteID != nil && *source.RemoteID == remoteID {
			continue
		}
		remoteLogger := logger.With().Str("remote_id", remoteID).Logger()
		if err := s.copyTo(ctx, source, remoteID, *b.SnapshotID); err != nil {
			remoteLogger.Warn().Err(err).Msg("replication failed")
			syncErrors[remoteID] = err.Error()
			continue
		}
		b.MarkSynced(remoteID)
		remoteLogger.Info().Msg("replication completed")
	}
	if len(syncErrors) > 0 {
		b.SetMetadata("sync_errors", syncErrors)
	}
}

func (s *BackupService) copyTo(ctx context.Context, source Target, remoteID, snapshotID string) error {
	target, err := s.resolver.ForRemote(ctx, remoteID, source.Password)
	if err != nil {
		return err
	}
	if err := target.Destination.Validate(); err != nil {
		return err
	}
	req := engine.CopyRequest{
		From:       source.Repository(),
		To:         target.Repository(),
		SnapshotID: snapshotID,
		Timeout:    s.opts.CopyTimeout,
	}
	if err := req.Check(); err != nil {
		return fmt.Errorf("cannot replicate: %w", err)
	}
	if req.To, err = s.prepareRepository(ctx, target); err != nil {
		return err
	}
	start := time.Now()
	err = s.engine.Copy(ctx, req)
	metrics.ObserveEngine("copy", start, err)
	return err
}

// concurrentRun double-checks the single-active invariant after the claim.
func (s *BackupService) concurrentRun(ctx context.Context, b *domain.Backup) string {
	active, err := s.backupRepo.FindActiveByConfig(ctx, *b.BackupConfigID)
	if err != nil {
		s.logger.Warn().Err(err).Str("backup_id", b.ID).Msg("failed to re-check concurrent backups")
		return ""
	}
	for _, other := range active {
		if other.ID != b.ID && other.Status == domain.BackupStatusRunning {
			return fmt.Sprintf("another backup (%s) is already running for this configuration", other.ID)
		}
	}
	return ""
}

// watchCancellation stops the run when the backup leaves the running state,
// which is how a cancel or a reap issued by another process reaches this one.
func (s *BackupService) watchCancellation(ctx context.Context, stop context.CancelCauseFunc, id string) {
	watchRun(ctx, stop, s.opts.CancelPoll, func(ctx context.Context) error {
		b, err := s.backupRepo.FindByID(ctx, id)
		switch {
		case err != nil, b.Status == domain.BackupStatusRunning:
			return nil
		case b.Status == domain.BackupStatusCancelled:
			return ErrBackupCancelled
		default:
			return errSettled
		}
	})
}

// interruptedOrFail records err, unless the run was stopped because the
// backup changed under it. Then the stored status decides the ledger: only a
// cancelled backup cancels its entry, anything else already wrote its own.
func (s *BackupService) interruptedOrFail(ctx, runCtx context.Context, b *domain.Backup, proc *domain.Process, err error) error {
	if stoppedExternally(runCtx) {
		bg := context.WithoutCancel(ctx)
		stored, ferr := s.backupRepo.FindByID(bg, b.ID)
		if ferr != nil {
			s.logger.Warn().Err(ferr).Str("backup_id", b.ID).Msg("failed to re-read stopped backup")
			return nil
		}
		if stored.Status == domain.BackupStatusCancelled {
			s.logger.Info().Str("backup_id", b.ID).Msg("backup stopped after cancel")
			s.processServ.Cancel(bg, proc)
			return nil
		}
		if !stored.Status.IsActive() {
			s.logger.Info().Str("backup_id", b.ID).Str("status", string(stored.Status)).Msg("backup settled elsewhere, engine stopped")
			return nil
		}
	}
	if ctx.Err() != nil {
		err = fmt.Errorf("interrupted: %w", context.Cause(ctx))
	}
	return s.fail(context.WithoutCancel(ctx), b, proc, err.Error())
}

func (s *BackupService) fail(ctx context.Context, b *domain.Backup, proc *domain.Process, message string) error {
	if err := b.Fail(s.now(), message); err != nil {
		return err
	}
	ok, err := s.backupRepo.UpdateIfStatus(ctx, b, domain.BackupStatusPending, domain.BackupStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark backup failed: %w", err)
	}
	if !ok {
		return nil
	}
	metrics.BackupFinished(string(b.Status), b.Trigger())
	s.logger.Error().Str("backup_id", b.ID).Str("error", message).Msg("backup failed")
	s.processServ.Fail(ctx, proc, message)
	return nil
}

// Cancel moves a pending or running backup to cancelled and stops its engine
// process if it runs here.
func (s *BackupService) Cancel(ctx context.Context, id string) (*domain.Backup, error) {
	b, err := s.backupRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := b.Cancel(s.now()); err != nil {
		return nil, conflict(err)
	}
	ok, err := s.backupRepo.UpdateIfStatus(ctx, b, domain.BackupStatusPending, domain.BackupStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel backup: %w", err)
	}
	if !ok {
		return nil, conflict(fmt.Errorf("%w: backup %s finished before it could be cancelled", domain.ErrInvalidTransition, id))
	}

	s.queue.Cancel(id, ErrBackupCancelled)
	s.processServ.Cancel(ctx, s.loadProcess(ctx, b.ProcessID))
	metrics.BackupFinished(string(b.Status), b.Trigger())
	s.logger.Info().Str("backup_id", id).Msg("backup cancelled")
	return b, nil
}

// SoftDelete moves a finished backup to the trash. Copies on secondary
// remotes are kept and reported through NeedsRemoteCleanup.
func (s *BackupService) SoftDelete(ctx context.Context, id string) (*domain.Backup, error) {
	b, err := s.backupRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status.IsActive() {
		return nil, conflict(fmt.Errorf("%w: backup %s is %s", domain.ErrInvalidTransition, id, b.Status))
	}
	if b.Trashed() {
		return b, nil
	}
	now := s.now()
	if err := s.backupRepo.SoftDelete(ctx, id, now); err != nil {
		return nil, err
	}
	b.DeletedAt = &now
	if b.NeedsRemoteCleanup() {
		s.logger.Info().Str("backup_id", id).Strs("remotes", b.SyncedRemotes).Msg("trashed backup still has remote copies")
	}
	return b, nil
}

// RestoreTrashed brings a soft-deleted backup back.
func (s *BackupService) RestoreTrashed(ctx context.Context, id string) (*domain.Backup, error) {
	if err := s.backupRepo.Untrash(ctx, id); err != nil {
		return nil, err
	}
	return s.backupRepo.FindByID(ctx, id)
}

// ListSnapshots asks the engine for the snapshots this config produced.
func (s *BackupService) ListSnapshots(ctx context.Context, configID string) ([]engine.Snapshot, error) {
	cfg, err := s.configRepo.FindByID(ctx, configID)
	if err != nil {
		return nil, err
	}
	target, err := s.resolver.ForConfig(ctx, cfg)
	if err != nil {
		return nil, invalid(err)
	}
	if err := target.Destination.Validate(); err != nil {
		return nil, invalid(err)
	}
	listCtx, cancel := withTimeout(ctx, s.opts.InitTimeout)
	defer cancel()
	return s.engine.Snapshots(listCtx, target.Repository(), []string{configTag(cfg.ID)})
}

// GetBackup retrieves a backup by ID
func (s *BackupService) GetBackup(ctx context.Context, id string) (*domain.Backup, error) {
	return s.backupRepo.FindByID(ctx, id)
}

// ListBackups lists backups with filtering
func (s *BackupService) ListBackups(ctx context.Context, filter repository.BackupFilter) ([]*domain.Backup, error) {
	return s.backupRepo.List(ctx, filter)
}

// CountBackups counts backups with filtering
func (s *BackupService) CountBackups(ctx context.Context, filter repository.BackupFilter) (int, error) {
	return s.backupRepo.Count(ctx, filter)
}

func (s *BackupService) loadProcess(ctx context.Context, id *int64) *domain.Process {
	if id == nil {
		return nil
	}
	p, err := s.processServ.GetProcess(ctx, *id)
	if err != nil {
		s.logger.Warn().Err(err).Int64("process_id", *id).Msg("failed to load ledger entry")
		return nil
	}
	return p
}

func (s *BackupService) includePaths(cfg *domain.BackupConfig) []string {
	var paths []string
	add := func(p string) {
		if p != "" && !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}
	if cfg.BackupType == domain.BackupTypeFull {
		for _, t := range []domain.BackupType{domain.BackupTypeFiles, domain.BackupTypeDatabases, domain.BackupTypeEmails, domain.BackupTypeConfig} {
			for _, p := range s.opts.BasePaths[t] {
				add(p)
			}
		}
	}
	for _, p := range s.opts.BasePaths[cfg.BackupType] {
		add(p)
	}
	for _, p := range cfg.IncludePaths {
		add(p)
	}
	return paths
}

func configTag(configID string) string {
	return "config:" + configID
}

func backupTags(cfg *domain.BackupConfig) []string {
	tags := []string{configTag(cfg.ID), "type:" + string(cfg.BackupType)}
	for _, item := range cfg.BackupItems {
		tags = append(tags, "item:"+item)
	}
	return tags
}
