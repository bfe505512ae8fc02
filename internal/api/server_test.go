package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsisnet/vsispanel-sub003/internal/core/destination"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/service"
	"github.com/vsisnet/vsispanel-sub003/internal/infrastructure/sqlite"
	"github.com/vsisnet/vsispanel-sub003/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, *service.ProcessService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zerolog.Nop()
	configs := sqlite.NewBackupConfigRepository(db)
	backups := sqlite.NewBackupRepository(db)
	ledger := service.NewProcessService(sqlite.NewProcessRepository(db), logger)
	resolver := service.NewDestinationResolver(sqlite.NewRemoteRepository(db), destination.Options{}, "test")
	backupService := service.NewBackupService(backups, configs, ledger, resolver, nil, nil, service.BackupOptions{}, logger)
	restoreService := service.NewRestoreService(sqlite.NewRestoreRepository(db), backups, configs, ledger, resolver, nil, nil,
		service.RestoreOptions{}, logger)

	return NewServer("127.0.0.1:0", logger, ledger, backupService, restoreService), ledger
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	metrics.SchedulerPass()

	w := get(t, srv.Handler(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vsispanel_scheduler_passes_total")
}

func TestStatusPollingRoute(t *testing.T) {
	srv, ledger := newTestServer(t)
	proc, err := ledger.CreateProcess(context.Background(), "scheduler pass", domain.ProcessTypeSchedulerPass, nil)
	require.NoError(t, err)

	w := get(t, srv.Handler(), "/status/"+proc.CommandID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)

	for _, path := range []string{"/processes", "/backups", "/restores"} {
		assert.Equal(t, http.StatusOK, get(t, srv.Handler(), path).Code, path)
	}
}

func TestServeStopsWithContext(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
