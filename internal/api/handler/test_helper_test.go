package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vsisnet/vsispanel-sub003/internal/api/dto"
	"github.com/vsisnet/vsispanel-sub003/internal/core/destination"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
	"github.com/vsisnet/vsispanel-sub003/internal/infrastructure/sqlite"
)

// Base time: Nov 1, 2025
var baseTime = time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)

// testEnv holds all test dependencies
type testEnv struct {
	db          *sqlite.DB
	router      *gin.Engine
	configRepo  repository.BackupConfigRepository
	backupRepo  repository.BackupRepository
	restoreRepo repository.RestoreRepository
	processRepo repository.ProcessRepository
}

// setupTestEnv creates a test environment with in-memory SQLite database
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:          db,
		configRepo:  sqlite.NewBackupConfigRepository(db),
		backupRepo:  sqlite.NewBackupRepository(db),
		restoreRepo: sqlite.NewRestoreRepository(db),
		processRepo: sqlite.NewProcessRepository(db),
	}

	// The engine and queue are never reached by the read-only endpoints.
	logger := zerolog.Nop()
	ledger := service.NewProcessService(env.processRepo, logger)
	resolver := service.NewDestinationResolver(sqlite.NewRemoteRepository(db), destination.Options{}, "test")
	backupService := service.NewBackupService(env.backupRepo, env.configRepo, ledger, resolver, nil, nil,
		service.BackupOptions{}, logger)
	restoreService := service.NewRestoreService(env.restoreRepo, env.backupRepo, env.configRepo, ledger, resolver, nil, nil,
		service.RestoreOptions{}, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()

	processHandler := NewProcessHandler(ledger)
	backupHandler := NewBackupHandler(backupService)
	restoreHandler := NewRestoreHandler(restoreService)

	router.GET("/processes", processHandler.ListProcesses)
	router.GET("/processes/:id", processHandler.GetProcess)
	router.GET("/status/:command_id", processHandler.GetProcessByCommandID)
	router.GET("/backups", backupHandler.ListBackups)
	router.GET("/backups/:id", backupHandler.GetBackup)
	router.GET("/restores", restoreHandler.ListRestores)
	router.GET("/restores/:id", restoreHandler.GetRestore)

	env.router = router
	return env
}

// seedProcesses populates the ledger with 10 entries for filtering tests
func (env *testEnv) seedProcesses(t *testing.T) []*domain.Process {
	t.Helper()

	entries := []struct {
		command   string
		status    domain.ProcessStatus
		procType  domain.ProcessType
		startTime time.Time
		endTime   *time.Time
	}{
		{"backup site", domain.ProcessStatusSuccess, domain.ProcessTypeBackup, baseTime, ptr(baseTime.Add(10 * time.Minute))},
		{"backup site", domain.ProcessStatusSuccess, domain.ProcessTypeBackup, baseTime.Add(24 * time.Hour), ptr(baseTime.Add(24*time.Hour + 10*time.Minute))},
		{"backup site", domain.ProcessStatusSuccess, domain.ProcessTypeBackup, baseTime.Add(5 * 24 * time.Hour), ptr(baseTime.Add(5*24*time.Hour + 10*time.Minute))},
		{"backup site", domain.ProcessStatusSuccess, domain.ProcessTypeBackup, baseTime.Add(10 * 24 * time.Hour), ptr(baseTime.Add(10*24*time.Hour + 10*time.Minute))},
		{"backup mail", domain.ProcessStatusSuccess, domain.ProcessTypeBackup, baseTime.Add(15 * 24 * time.Hour), ptr(baseTime.Add(15*24*time.Hour + 10*time.Minute))},
		{"backup mail", domain.ProcessStatusSuccess, domain.ProcessTypeBackup, baseTime.Add(20 * 24 * time.Hour), ptr(baseTime.Add(20*24*time.Hour + 10*time.Minute))},
		{"backup mail", domain.ProcessStatusRunning, domain.ProcessTypeBackup, baseTime.Add(25 * 24 * time.Hour), nil},
		{"restore b-001", domain.ProcessStatusSuccess, domain.ProcessTypeRestore, baseTime.Add(3 * 24 * time.Hour), ptr(baseTime.Add(3*24*time.Hour + 30*time.Minute))},
		{"restore b-002", domain.ProcessStatusFailed, domain.ProcessTypeRestore, baseTime.Add(8 * 24 * time.Hour), ptr(baseTime.Add(8*24*time.Hour + 5*time.Minute))},
		{"scheduler pass", domain.ProcessStatusSuccess, domain.ProcessTypeSchedulerPass, baseTime.Add(12 * 24 * time.Hour), ptr(baseTime.Add(12*24*time.Hour + 2*time.Minute))},
	}

	created := make([]*domain.Process, 0, len(entries))
	for _, e := range entries {
		p := domain.NewProcess(e.command, e.procType, map[string]any{"backup_id": "b-" + e.command})
		p.Status = e.status
		p.StartTime = e.startTime
		p.EndTime = e.endTime
		p.UpdatedAt = e.startTime
		if err := env.processRepo.Create(context.Background(), p); err != nil {
			t.Fatalf("failed to seed process %s: %v", e.command, err)
		}
		created = append(created, p)
	}
	return created
}

// seedBackups stores two configs with seven backups between them, one of
// them trashed. It returns the backups in creation order.
func (env *testEnv) seedBackups(t *testing.T) (*domain.BackupConfig, []*domain.Backup) {
	t.Helper()
	ctx := context.Background()

	site := domain.NewBackupConfig(1, "site", domain.BackupTypeFiles, baseTime)
	mail := domain.NewBackupConfig(1, "mail", domain.BackupTypeEmails, baseTime)
	for _, cfg := range []*domain.BackupConfig{site, mail} {
		cfg.DestinationConfig = map[string]string{"path": "/backups/" + cfg.Name}
		cfg.TimeOfDay = ptr("02:00")
		if err := env.configRepo.Create(ctx, cfg); err != nil {
			t.Fatalf("failed to seed config: %v", err)
		}
	}

	plan := []struct {
		cfg    *domain.BackupConfig
		status domain.BackupStatus
	}{
		{site, domain.BackupStatusCompleted},
		{site, domain.BackupStatusCompleted},
		{site, domain.BackupStatusCompleted},
		{site, domain.BackupStatusCompleted}, // trashed below
		{site, domain.BackupStatusFailed},
		{mail, domain.BackupStatusCompleted},
		{mail, domain.BackupStatusRunning},
	}

	backups := make([]*domain.Backup, 0, len(plan))
	for i, p := range plan {
		at := baseTime.Add(time.Duration(i) * 24 * time.Hour)
		b := domain.NewBackup(p.cfg, domain.TriggerScheduler, at)
		if err := env.backupRepo.CreateIfIdle(ctx, b); err != nil {
			t.Fatalf("failed to seed backup %d: %v", i, err)
		}
		env.advance(t, b, p.status, at)
		backups = append(backups, b)
	}

	if err := env.backupRepo.SoftDelete(ctx, backups[3].ID, baseTime.Add(30*24*time.Hour)); err != nil {
		t.Fatalf("failed to trash backup: %v", err)
	}
	return site, backups
}

// advance drives a pending backup to status through the legal transitions.
func (env *testEnv) advance(t *testing.T, b *domain.Backup, status domain.BackupStatus, at time.Time) {
	t.Helper()
	ctx := context.Background()

	if err := b.Start(at); err != nil {
		t.Fatal(err)
	}
	if _, err := env.backupRepo.UpdateIfStatus(ctx, b, domain.BackupStatusPending); err != nil {
		t.Fatal(err)
	}

	var err error
	switch status {
	case domain.BackupStatusRunning:
		return
	case domain.BackupStatusCompleted:
		err = b.Complete(at.Add(10*time.Minute), "snap-"+b.ID[:8], 4096)
	case domain.BackupStatusFailed:
		err = b.Fail(at.Add(10*time.Minute), "restic backup: exit status 1")
	}
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.backupRepo.UpdateIfStatus(ctx, b, domain.BackupStatusRunning); err != nil {
		t.Fatal(err)
	}
}

// makeRequest performs a GET request and returns the response
func (env *testEnv) makeRequest(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var resp T
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v\nBody: %s", err, w.Body.String())
	}
	return resp
}

func parseProcessListResponse(t *testing.T, w *httptest.ResponseRecorder) dto.ProcessListResponse {
	return decode[dto.ProcessListResponse](t, w)
}

func parseErrorResponse(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	return decode[dto.ErrorResponse](t, w)
}

// ptr is a helper to create a pointer to a value
func ptr[T any](v T) *T {
	return &v
}
