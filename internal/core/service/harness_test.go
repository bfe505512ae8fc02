package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vsisnet/vsispanel-sub003/internal/core/destination"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/engine"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
	"github.com/vsisnet/vsispanel-sub003/internal/infrastructure/sqlite"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Init(ctx context.Context, repo engine.Repository) error {
	return m.Called(ctx, repo).Error(0)
}

func (m *mockEngine) Backup(ctx context.Context, req engine.BackupRequest) (*engine.BackupResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*engine.BackupResult)
	return res, args.Error(1)
}

func (m *mockEngine) Forget(ctx context.Context, repo engine.Repository, policy engine.ForgetPolicy) error {
	return m.Called(ctx, repo, policy).Error(0)
}

func (m *mockEngine) Restore(ctx context.Context, req engine.RestoreRequest) (*engine.RestoreResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*engine.RestoreResult)
	return res, args.Error(1)
}

func (m *mockEngine) Snapshots(ctx context.Context, repo engine.Repository, tags []string) ([]engine.Snapshot, error) {
	args := m.Called(ctx, repo, tags)
	snaps, _ := args.Get(0).([]engine.Snapshot)
	return snaps, args.Error(1)
}

func (m *mockEngine) Copy(ctx context.Context, req engine.CopyRequest) error {
	return m.Called(ctx, req).Error(0)
}

// recordingQueue captures jobs instead of running them so tests drive Execute
// directly.
type recordingQueue struct {
	mu        sync.Mutex
	jobs      []Job
	cancelled []string
	err       error
}

func (q *recordingQueue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Cancel(id string, _ error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, id)
	return false
}

func (q *recordingQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs...)
}

type harness struct {
	db        *sqlite.DB
	configs   repository.BackupConfigRepository
	backups   repository.BackupRepository
	restores  repository.RestoreRepository
	processes repository.ProcessRepository
	remotes   repository.RemoteRepository
	locks     repository.LockRepository

	engine *mockEngine
	queue  *recordingQueue

	ledger    *ProcessService
	resolver  *DestinationResolver
	backup    *BackupService
	restore   *RestoreService
	scheduler *SchedulerService
	reaper    *ReaperService
	config    *ConfigService

	root string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zerolog.Nop()
	h := &harness{
		db:        db,
		configs:   sqlite.NewBackupConfigRepository(db),
		backups:   sqlite.NewBackupRepository(db),
		restores:  sqlite.NewRestoreRepository(db),
		processes: sqlite.NewProcessRepository(db),
		remotes:   sqlite.NewRemoteRepository(db),
		locks:     sqlite.NewLockRepository(db),
		engine:    &mockEngine{},
		queue:     &recordingQueue{},
		root:      t.TempDir(),
	}
	h.ledger = NewProcessService(h.processes, logger)
	h.resolver = NewDestinationResolver(h.remotes, destination.Options{}, "panel-default-secret")
	h.backup = NewBackupService(h.backups, h.configs, h.ledger, h.resolver, h.engine, h.queue, BackupOptions{
		Timeout:          time.Hour,
		CopyTimeout:      time.Hour,
		InitTimeout:      5 * time.Minute,
		RetentionTimeout: 30 * time.Minute,
		BasePaths: map[domain.BackupType][]string{
			domain.BackupTypeFiles:     {"/home"},
			domain.BackupTypeDatabases: {"/var/backups/databases"},
			domain.BackupTypeEmails:    {"/var/vmail"},
			domain.BackupTypeConfig:    {"/etc/vsispanel"},
		},
		CancelPoll: 10 * time.Millisecond,
	}, logger)
	h.restore = NewRestoreService(h.restores, h.backups, h.configs, h.ledger, h.resolver, h.engine, h.queue,
		RestoreOptions{Timeout: time.Hour, CancelPoll: 10 * time.Millisecond}, logger)
	h.scheduler = NewSchedulerService(h.configs, h.locks, h.backup, 10*time.Minute, logger)
	h.reaper = NewReaperService(h.backups, h.restores, h.processes, h.locks, 2*time.Hour, 10*time.Minute, logger)
	h.config = NewConfigService(h.configs, h.remotes, h.backups, h.resolver, logger)
	return h
}

// at pins every service clock to now.
func (h *harness) at(now time.Time) {
	clock := func() time.Time { return now }
	h.backup.now = clock
	h.restore.now = clock
	h.scheduler.now = clock
	h.reaper.now = clock
	h.config.now = clock
}

func (h *harness) repoPath(name string) string {
	return filepath.Join(h.root, name)
}

// seedConfig stores a daily 02:00 files config writing to a local repository.
func (h *harness) seedConfig(t *testing.T, now time.Time, mutate func(*domain.BackupConfig)) *domain.BackupConfig {
	t.Helper()
	cfg := domain.NewBackupConfig(1, "site", domain.BackupTypeFiles, now)
	cfg.TimeOfDay = ptr("02:00")
	cfg.DestinationConfig = map[string]string{"path": h.repoPath("primary")}
	cfg.IncludePaths = []string{"/srv/extra"}
	require.NoError(t, cfg.RecomputeNextRun(now))
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, h.configs.Create(context.Background(), cfg))
	return cfg
}

func (h *harness) seedRemote(t *testing.T, name string, destType domain.DestinationType, config map[string]string) *domain.Remote {
	t.Helper()
	r := domain.NewRemote(1, name, destType, config, time.Now())
	require.NoError(t, h.remotes.Create(context.Background(), r))
	return r
}

func (h *harness) mustBackup(t *testing.T, id string) *domain.Backup {
	t.Helper()
	b, err := h.backups.FindByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (h *harness) mustProcess(t *testing.T, id *int64) *domain.Process {
	t.Helper()
	require.NotNil(t, id)
	p, err := h.processes.FindByID(context.Background(), *id)
	require.NoError(t, err)
	return p
}

// markCompleted drives a pending backup to completed directly in storage.
func (h *harness) markCompleted(t *testing.T, id string, at time.Time) {
	t.Helper()
	b := h.mustBackup(t, id)
	require.NoError(t, b.Start(at))
	ok, err := h.backups.UpdateIfStatus(context.Background(), b, domain.BackupStatusPending)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, b.Complete(at, "snap-"+id[:8], 100))
	ok, err = h.backups.UpdateIfStatus(context.Background(), b, domain.BackupStatusRunning)
	require.NoError(t, err)
	require.True(t, ok)
}

// hasDeadline matches a context carrying a deadline.
func hasDeadline() any {
	return mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})
}

func ptr[T any](v T) *T {
	return &v
}
