package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsisnet/vsispanel-sub003/internal/api/util"
	"github.com/vsisnet/vsispanel-sub003/internal/core/domain"
	"github.com/vsisnet/vsispanel-sub003/internal/core/repository"
)

func seedProcess(t *testing.T, repo repository.ProcessRepository, procType domain.ProcessType, status domain.ProcessStatus, start time.Time) *domain.Process {
	t.Helper()
	p := domain.NewProcess("restic "+string(procType), procType, map[string]any{"backup_id": "b1"})
	p.Status = status
	p.StartTime = start
	p.UpdatedAt = start
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func TestProcessLifecycle(t *testing.T) {
	repo := NewProcessRepository(newTestDB(t))
	ctx := context.Background()

	p := seedProcess(t, repo, domain.ProcessTypeBackup, domain.ProcessStatusPending, baseTime)
	require.NotZero(t, p.ID)

	p.Start()
	p.SetPID(4242)
	p.SetProgress(80)
	p.Complete(0, "snapshot saved", "")
	require.NoError(t, repo.Update(ctx, p))

	stored, err := repo.FindByCommandID(ctx, p.CommandID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessStatusSuccess, stored.Status)
	assert.Equal(t, 4242, *stored.PID)
	assert.Equal(t, "snapshot saved", *stored.Output)
	assert.NotNil(t, stored.EndTime)
	assert.Equal(t, "b1", stored.Args["backup_id"])

	_, err = repo.FindByID(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessFindStaleAndFailIfStatus(t *testing.T) {
	repo := NewProcessRepository(newTestDB(t))
	ctx := context.Background()

	stale := seedProcess(t, repo, domain.ProcessTypeBackup, domain.ProcessStatusRunning, baseTime)
	seedProcess(t, repo, domain.ProcessTypeBackup, domain.ProcessStatusRunning, baseTime.Add(3*time.Hour))
	seedProcess(t, repo, domain.ProcessTypeRestore, domain.ProcessStatusSuccess, baseTime)

	found, err := repo.FindStale(ctx, domain.ProcessStatusRunning, baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stale.ID, found[0].ID)

	at := baseTime.Add(2 * time.Hour)
	ok, err := repo.FailIfStatus(ctx, stale.ID, domain.ProcessStatusRunning, "stuck: running longer than 2h0m0s", at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.FailIfStatus(ctx, stale.ID, domain.ProcessStatusRunning, "again", at)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.FindByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessStatusFailed, stored.Status)
	assert.Equal(t, "stuck: running longer than 2h0m0s", *stored.Error)
}

func TestProcessUpdateIfActiveLeavesSettledEntries(t *testing.T) {
	repo := NewProcessRepository(newTestDB(t))
	ctx := context.Background()

	p := seedProcess(t, repo, domain.ProcessTypeBackup, domain.ProcessStatusRunning, baseTime)
	stale := *p

	ok, err := repo.FailIfStatus(ctx, p.ID, domain.ProcessStatusRunning, "stuck: running longer than 2h0m0s", baseTime.Add(3*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	stale.Cancel()
	ok, err = repo.UpdateIfActive(ctx, &stale)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessStatusFailed, stored.Status)
	assert.Equal(t, "stuck: running longer than 2h0m0s", *stored.Error)

	fresh := seedProcess(t, repo, domain.ProcessTypeBackup, domain.ProcessStatusPending, baseTime)
	fresh.Start()
	ok, err = repo.UpdateIfActive(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcessListFilters(t *testing.T) {
	repo := NewProcessRepository(newTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		seedProcess(t, repo, domain.ProcessTypeBackup, domain.ProcessStatusSuccess, baseTime.Add(time.Duration(i)*24*time.Hour))
	}
	seedProcess(t, repo, domain.ProcessTypeRestore, domain.ProcessStatusFailed, baseTime.Add(2*24*time.Hour))
	seedProcess(t, repo, domain.ProcessTypeSchedulerPass, domain.ProcessStatusRunning, baseTime.Add(6*24*time.Hour))

	tests := []struct {
		name    string
		filters []util.QueryFilter
		order   []util.OrderClause
		want    int
		firstTy domain.ProcessType
	}{
		{name: "all", want: 7, firstTy: domain.ProcessTypeSchedulerPass},
		{
			name:    "by type",
			filters: []util.QueryFilter{{Field: "type", Operator: util.OpEq, Value: "backup"}},
			want:    5,
			firstTy: domain.ProcessTypeBackup,
		},
		{
			name:    "status in",
			filters: []util.QueryFilter{{Field: "status", Operator: util.OpIn, Value: []string{"failed", "running"}}},
			order:   []util.OrderClause{{Field: "start_time", Direction: util.OrderAsc}},
			want:    2,
			firstTy: domain.ProcessTypeRestore,
		},
		{
			name:    "start_time window",
			filters: []util.QueryFilter{{Field: "start_time", Operator: util.OpGte, Value: "2025-11-05T00:00:00Z"}},
			want:    2,
			firstTy: domain.ProcessTypeSchedulerPass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := repository.ProcessFilter{ListFilter: util.ListFilter{Filters: tt.filters, Order: tt.order}}
			got, err := repo.List(ctx, filter)
			require.NoError(t, err)
			require.Len(t, got, tt.want)
			assert.Equal(t, tt.firstTy, got[0].Type)

			count, err := repo.Count(ctx, filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, count)
		})
	}
}
