package restic

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsisnet/vsispanel-sub003/internal/adapter/process"
	"github.com/vsisnet/vsispanel-sub003/internal/core/engine"
)

type scripted struct {
	res *process.Result
	err error
}

type fakeRunner struct {
	calls   []process.Command
	replies []scripted
}

func (f *fakeRunner) Run(_ context.Context, c process.Command) (*process.Result, error) {
	f.calls = append(f.calls, c)
	if len(f.replies) == 0 {
		return &process.Result{}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.res, r.err
}

var repo = engine.Repository{
	Address:  "s3:s3.amazonaws.com/panel",
	Env:      map[string]string{"AWS_ACCESS_KEY_ID": "AK"},
	Password: "pw",
}

func TestBackup_ParsesSummary(t *testing.T) {
	stdout := `{"message_type":"status","percent_done":0.5}
{"message_type":"summary","files_new":3,"data_added":512,"total_bytes_processed":4096,"snapshot_id":"abc123"}
`
	runner := &fakeRunner{replies: []scripted{{res: &process.Result{Stdout: stdout}}}}
	c := NewClient("", runner, 1024)

	res, err := c.Backup(context.Background(), engine.BackupRequest{
		Repository: repo,
		Paths:      []string{"/home"},
		Excludes:   []string{"*.tmp"},
		Tags:       []string{"config:1", "type:files"},
	})

	require.NoError(t, err)
	assert.Equal(t, "abc123", res.SnapshotID)
	assert.EqualValues(t, 4096, res.SizeBytes)
	assert.EqualValues(t, 512, res.DataAdded)

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "restic", call.Name)
	assert.Equal(t, []string{
		"--repo", "s3:s3.amazonaws.com/panel", "--retry-lock", "2m",
		"backup", "--json", "--tag", "config:1", "--tag", "type:files", "--exclude", "*.tmp", "/home",
	}, call.Args)
	assert.Equal(t, "pw", call.Env["RESTIC_PASSWORD"])
	assert.Equal(t, "AK", call.Env["AWS_ACCESS_KEY_ID"])
	assert.True(t, call.FullStdout)
}

func TestBackup_MissingSummary(t *testing.T) {
	runner := &fakeRunner{replies: []scripted{{res: &process.Result{Stdout: "not json"}}}}
	c := NewClient("", runner, 1024)

	_, err := c.Backup(context.Background(), engine.BackupRequest{Repository: repo, Paths: []string{"/"}})

	assert.ErrorContains(t, err, "no summary")
}

func TestBackup_ExitErrorCarriesTail(t *testing.T) {
	runner := &fakeRunner{replies: []scripted{{
		res: &process.Result{ExitCode: 1, Stderr: "Fatal: unable to open repository"},
		err: &process.ExitError{Code: 1},
	}}}
	c := NewClient("", runner, 1024)

	_, err := c.Backup(context.Background(), engine.BackupRequest{Repository: repo})

	require.ErrorIs(t, err, engine.ErrExit)
	var exitErr *engine.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, exitErr.Tail, "unable to open repository")
}

func TestBackup_Timeout(t *testing.T) {
	runner := &fakeRunner{replies: []scripted{{
		res: &process.Result{ExitCode: -1},
		err: fmt.Errorf("%w after 5s", process.ErrTimeout),
	}}}
	c := NewClient("", runner, 1024)

	_, err := c.Backup(context.Background(), engine.BackupRequest{Repository: repo})

	assert.ErrorIs(t, err, engine.ErrTimeout)
	assert.Contains(t, err.Error(), "after 5s")
}

func TestRun_StaleLockIsClearedAndRetried(t *testing.T) {
	runner := &fakeRunner{replies: []scripted{
		{res: &process.Result{ExitCode: 1, Stderr: "repository is already locked exclusively"}, err: &process.ExitError{Code: 1}},
		{res: &process.Result{}},
		{res: &process.Result{}},
	}}
	c := NewClient("/usr/bin/restic", runner, 1024)

	err := c.Forget(context.Background(), repo, engine.ForgetPolicy{KeepLast: 3})

	require.NoError(t, err)
	require.Len(t, runner.calls, 3)
	assert.Contains(t, runner.calls[1].Args, "unlock")
	assert.Equal(t, runner.calls[0].Args, runner.calls[2].Args)
}

func TestInit_AlreadyInitializedIsSuccess(t *testing.T) {
	runner := &fakeRunner{replies: []scripted{{
		res: &process.Result{ExitCode: 1, Stderr: "Fatal: create key in repository failed: repository master key and config already initialized"},
		err: &process.ExitError{Code: 1},
	}}}
	c := NewClient("", runner, 1024)

	assert.NoError(t, c.Init(context.Background(), repo))
}

func TestForget_Flags(t *testing.T) {
	runner := &fakeRunner{}
	c := NewClient("", runner, 1024)

	err := c.Forget(context.Background(), repo, engine.ForgetPolicy{
		KeepLast:  5,
		KeepDaily: 7,
		Tags:      []string{"config:42"},
		Prune:     true,
		Timeout:   time.Hour,
	})

	require.NoError(t, err)
	assert.Equal(t, time.Hour, runner.calls[0].Timeout)
	assert.Equal(t, []string{
		"--repo", repo.Address, "--retry-lock", "2m",
		"forget", "--group-by", "host,tags", "--tag", "config:42",
		"--keep-last", "5", "--keep-daily", "7", "--prune",
	}, runner.calls[0].Args)
}

func TestRestore_ParsesSummary(t *testing.T) {
	stdout := `{"message_type":"status","percent_done":1}
{"message_type":"summary","total_files":10,"files_restored":10,"total_bytes":2048,"bytes_restored":2048}
`
	runner := &fakeRunner{replies: []scripted{{res: &process.Result{Stdout: stdout}}}}
	c := NewClient("", runner, 1024)

	res, err := c.Restore(context.Background(), engine.RestoreRequest{
		Repository: repo,
		SnapshotID: "abc123",
		Target:     "/tmp/restore",
		Includes:   []string{"/home/site"},
	})

	require.NoError(t, err)
	assert.EqualValues(t, 10, res.FilesRestored)
	assert.EqualValues(t, 2048, res.BytesRestored)
	assert.Equal(t, []string{
		"--repo", repo.Address, "--retry-lock", "2m",
		"restore", "abc123", "--target", "/tmp/restore", "--json", "--include", "/home/site",
	}, runner.calls[0].Args)
}

func TestSnapshots(t *testing.T) {
	stdout := `[{"id":"aaa","short_id":"aa","time":"2026-01-02T03:04:05Z","hostname":"srv","paths":["/home"],"tags":["config:1"]}]`
	runner := &fakeRunner{replies: []scripted{
		{res: &process.Result{Stdout: stdout}},
		{res: &process.Result{Stdout: "null"}},
	}}
	c := NewClient("", runner, 1024)

	snaps, err := c.Snapshots(context.Background(), repo, []string{"config:1"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "aaa", snaps[0].ID)
	assert.Equal(t, []string{"config:1"}, snaps[0].Tags)

	snaps, err = c.Snapshots(context.Background(), repo, nil)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestCopy_UsesSourceAsFromRepo(t *testing.T) {
	runner := &fakeRunner{}
	c := NewClient("", runner, 1024)
	target := engine.Repository{Address: "b2:bucket:srv", Env: map[string]string{"B2_ACCOUNT_ID": "id"}, Password: "pw2"}

	err := c.Copy(context.Background(), engine.CopyRequest{From: repo, To: target, SnapshotID: "abc123"})

	require.NoError(t, err)
	call := runner.calls[0]
	assert.Equal(t, []string{
		"--repo", "b2:bucket:srv", "--retry-lock", "2m",
		"copy", "--from-repo", repo.Address, "abc123",
	}, call.Args)
	assert.Equal(t, "pw2", call.Env["RESTIC_PASSWORD"])
	assert.Equal(t, "pw", call.Env["RESTIC_FROM_PASSWORD"])
	assert.Equal(t, "id", call.Env["B2_ACCOUNT_ID"])
	assert.Equal(t, "AK", call.Env["AWS_ACCESS_KEY_ID"])
}

func TestCopy_RejectsConflictingCredentials(t *testing.T) {
	runner := &fakeRunner{}
	c := NewClient("", runner, 1024)
	from := engine.Repository{Address: "s3:s3.amazonaws.com/a", Env: map[string]string{"AWS_ACCESS_KEY_ID": "AK1", "AWS_SECRET_ACCESS_KEY": "s1"}, Password: "pw"}
	to := engine.Repository{Address: "s3:s3.amazonaws.com/b", Env: map[string]string{"AWS_ACCESS_KEY_ID": "AK2", "AWS_SECRET_ACCESS_KEY": "s1"}, Password: "pw"}

	err := c.Copy(context.Background(), engine.CopyRequest{From: from, To: to, SnapshotID: "abc123"})

	require.ErrorIs(t, err, engine.ErrCredentialConflict)
	assert.Contains(t, err.Error(), "AWS_ACCESS_KEY_ID")
	assert.NotContains(t, err.Error(), "AWS_SECRET_ACCESS_KEY")
	assert.Empty(t, runner.calls)

	to.Env["AWS_ACCESS_KEY_ID"] = "AK1"
	require.NoError(t, c.Copy(context.Background(), engine.CopyRequest{From: from, To: to, SnapshotID: "abc123"}))
	assert.Equal(t, "AK1", runner.calls[0].Env["AWS_ACCESS_KEY_ID"])
}
