package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

func TestRestoreOperationLifecycle(t *testing.T) {
	db := newTestDB(t)
	backups := NewBackupRepository(db)
	restores := NewRestoreRepository(db)
	ctx := context.Background()

	cfg := seedConfig(t, db, nil)
	b := domain.NewBackup(cfg, domain.TriggerManual, baseTime)
	require.NoError(t, backups.CreateIfIdle(ctx, b))

	op := domain.NewRestoreOperation(b.ID, cfg.UserID, "/tmp/restore", []string{"/home/site/public"}, baseTime)
	require.NoError(t, restores.Create(ctx, op))

	require.NoError(t, op.Start(baseTime.Add(time.Minute)))
	ok, err := restores.UpdateIfStatus(ctx, op, domain.RestoreStatusPending)
	require.NoError(t, err)
	require.True(t, ok)

	stuck, err := restores.FindRunningStartedBefore(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stuck, 1)

	op.Complete(baseTime.Add(2*time.Minute), 12, 4096, "restored 12 files")
	ok, err = restores.UpdateIfStatus(ctx, op, domain.RestoreStatusRunning)
	require.NoError(t, err)
	require.True(t, ok)

	// A late reaper write must not flip a completed restore.
	op.Fail(baseTime.Add(3*time.Minute), "stuck", "")
	ok, err = restores.UpdateIfStatus(ctx, op, domain.RestoreStatusRunning)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := restores.FindByID(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RestoreStatusCompleted, stored.Status)
	assert.Equal(t, int64(12), *stored.FilesRestored)
	assert.Equal(t, int64(4096), *stored.BytesRestored)
	assert.Equal(t, []string{"/home/site/public"}, stored.IncludePaths)

	count, err := restores.Count(ctx, repository.RestoreFilter{BackupID: &b.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRemoteRepository(t *testing.T) {
	repo := NewRemoteRepository(newTestDB(t))
	ctx := context.Background()

	offsite := domain.NewRemote(7, "offsite", domain.DestinationS3, map[string]string{
		"bucket": "panel", "access_key": "AK", "secret_key": "SK",
	}, baseTime)
	archive := domain.NewRemote(7, "archive", domain.DestinationB2, map[string]string{"bucket": "cold"}, baseTime)
	foreign := domain.NewRemote(8, "theirs", domain.DestinationLocal, nil, baseTime)
	for _, r := range []*domain.Remote{offsite, archive, foreign} {
		require.NoError(t, repo.Create(ctx, r))
	}

	stored, err := repo.FindByID(ctx, offsite.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DestinationS3, stored.Type)
	assert.Equal(t, "SK", stored.Config["secret_key"])

	mine, err := repo.ListByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "archive", mine[0].Name)

	require.NoError(t, repo.Delete(ctx, archive.ID))
	assert.ErrorIs(t, repo.Delete(ctx, archive.ID), domain.ErrNotFound)
	_, err = repo.FindByID(ctx, archive.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
