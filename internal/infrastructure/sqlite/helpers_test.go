package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
)

var baseTime = time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedConfig(t *testing.T, db *DB, mutate func(*domain.BackupConfig)) *domain.BackupConfig {
	t.Helper()
	cfg := domain.NewBackupConfig(7, "site files", domain.BackupTypeFiles, baseTime)
	cfg.DestinationConfig = map[string]string{"path": "/backups/site"}
	cfg.Frequency = domain.FrequencyCustom
	cfg.Schedule = "0 2 * * *"
	require.NoError(t, cfg.RecomputeNextRun(baseTime))
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, NewBackupConfigRepository(db).Create(context.Background(), cfg))
	return cfg
}

func ptr[T any](v T) *T {
	return &v
}
