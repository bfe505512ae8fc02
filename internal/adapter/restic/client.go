// Package restic implements engine.Engine on top of the restic command line.
package restic

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vsisnet/vsispanel-sub003/internal/adapter/process"
	"github.com/vsisnet/vsispanel-sub003/internal/core/engine"
)

const retryLock = "2m"

// Runner is the subset of process.Runner the client needs.
type Runner interface {
	Run(ctx context.Context, c process.Command) (*process.Result, error)
}

type Client struct {
	binary   string
	runner   Runner
	tailSize int
}

func NewClient(binary string, runner Runner, tailSize int) *Client {
	if binary == "" {
		binary = "restic"
	}
	return &Client{binary: binary, runner: runner, tailSize: tailSize}
}

var _ engine.Engine = (*Client)(nil)

func (c *Client) Init(ctx context.Context, repo engine.Repository) error {
	res, err := c.run(ctx, "init", repo, process.Command{Args: []string{"init"}})
	if err != nil && res != nil && isAlreadyInitialized(res.Stderr) {
		return nil
	}
	return err
}

func (c *Client) Backup(ctx context.Context, req engine.BackupRequest) (*engine.BackupResult, error) {
	args := []string{"backup", "--json"}
	for _, tag := range req.Tags {
		args = append(args, "--tag", tag)
	}
	for _, ex := range req.Excludes {
		args = append(args, "--exclude", ex)
	}
	args = append(args, req.Paths...)

	res, err := c.run(ctx, "backup", req.Repository, process.Command{
		Args:       args,
		Timeout:    req.Timeout,
		OnStart:    req.OnStart,
		FullStdout: true,
	})
	if err != nil {
		return nil, err
	}

	summary, err := parseBackupSummary(res.Stdout)
	if err != nil {
		return nil, err
	}
	return &engine.BackupResult{
		SnapshotID: summary.SnapshotID,
		SizeBytes:  summary.TotalBytesProcessed,
		DataAdded:  summary.DataAdded,
		Output:     process.Tail(res.Stderr, c.tailSize),
	}, nil
}

func (c *Client) Forget(ctx context.Context, repo engine.Repository, policy engine.ForgetPolicy) error {
	args := []string{"forget", "--group-by", "host,tags"}
	for _, tag := range policy.Tags {
		args = append(args, "--tag", tag)
	}
	args = appendKeep(args, "--keep-last", policy.KeepLast)
	args = appendKeep(args, "--keep-daily", policy.KeepDaily)
	args = appendKeep(args, "--keep-weekly", policy.KeepWeekly)
	args = appendKeep(args, "--keep-monthly", policy.KeepMonthly)
	args = appendKeep(args, "--keep-yearly", policy.KeepYearly)
	if policy.Prune {
		args = append(args, "--prune")
	}

	_, err := c.run(ctx, "forget", repo, process.Command{Args: args, Timeout: policy.Timeout})
	return err
}

func (c *Client) Restore(ctx context.Context, req engine.RestoreRequest) (*engine.RestoreResult, error) {
	args := []string{"restore", req.SnapshotID, "--target", req.Target, "--json"}
	for _, inc := range req.Includes {
		args = append(args, "--include", inc)
	}

	res, err := c.run(ctx, "restore", req.Repository, process.Command{
		Args:       args,
		Timeout:    req.Timeout,
		OnStart:    req.OnStart,
		FullStdout: true,
	})
	if err != nil {
		return nil, err
	}

	summary := parseRestoreSummary(res.Stdout)
	return &engine.RestoreResult{
		FilesRestored: summary.FilesRestored,
		BytesRestored: summary.BytesRestored,
		Output:        process.Tail(res.Stdout, c.tailSize),
	}, nil
}

func (c *Client) Snapshots(ctx context.Context, repo engine.Repository, tags []string) ([]engine.Snapshot, error) {
	args := []string{"snapshots", "--json"}
	for _, tag := range tags {
		args = append(args, "--tag", tag)
	}

	res, err := c.run(ctx, "snapshots", repo, process.Command{Args: args, FullStdout: true})
	if err != nil {
		return nil, err
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" || out == "null" {
		return []engine.Snapshot{}, nil
	}
	var snapshots []engine.Snapshot
	if err := json.Unmarshal([]byte(out), &snapshots); err != nil {
		return nil, fmt.Errorf("failed to parse snapshots output: %w", err)
	}
	return snapshots, nil
}

// Copy transfers one snapshot into another repository. The destination is the
// primary repository of the command, the source is passed as --from-repo.
// restic has a single credential namespace per backend, so the two sides may
// only share keys that carry the same value.
func (c *Client) Copy(ctx context.Context, req engine.CopyRequest) error {
	if err := req.Check(); err != nil {
		return err
	}
	env := make(map[string]string, len(req.From.Env)+1)
	for k, v := range req.From.Env {
		env[k] = v
	}
	env["RESTIC_FROM_PASSWORD"] = req.From.Password

	args := []string{"copy", "--from-repo", req.From.Address}
	if req.SnapshotID != "" {
		args = append(args, req.SnapshotID)
	}

	_, err := c.run(ctx, "copy", req.To, process.Command{Args: args, Env: env, Timeout: req.Timeout})
	return err
}

// run executes one restic subcommand against repo. A stale repository lock is
// cleared with unlock and the command retried once.
func (c *Client) run(ctx context.Context, op string, repo engine.Repository, cmd process.Command) (*process.Result, error) {
	cmd.Name = c.binary
	cmd.Args = append([]string{"--repo", repo.Address, "--retry-lock", retryLock}, cmd.Args...)
	cmd.Env = mergeEnv(repo, cmd.Env)

	res, err := c.runner.Run(ctx, cmd)
	if err != nil && res != nil && isLocked(res.Stderr) {
		unlock := process.Command{
			Name: c.binary,
			Args: []string{"--repo", repo.Address, "unlock"},
			Env:  cmd.Env,
		}
		if _, unlockErr := c.runner.Run(ctx, unlock); unlockErr == nil {
			res, err = c.runner.Run(ctx, cmd)
		}
	}
	return res, c.translate(op, res, err)
}

func (c *Client) translate(op string, res *process.Result, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *process.ExitError
	switch {
	case errors.Is(err, process.ErrTimeout):
		return fmt.Errorf("%w: restic %s %s", engine.ErrTimeout, op, strings.TrimPrefix(err.Error(), process.ErrTimeout.Error()+" "))
	case errors.Is(err, process.ErrCanceled):
		return fmt.Errorf("restic %s: %w", op, engine.ErrCanceled)
	case errors.As(err, &exitErr):
		tail := ""
		if res != nil {
			tail = strings.TrimSpace(res.Stderr)
			if tail == "" {
				tail = strings.TrimSpace(res.Stdout)
			}
		}
		return &engine.ExitError{Op: "restic " + op, Code: exitErr.Code, Tail: process.Tail(tail, c.tailSize)}
	default:
		return fmt.Errorf("restic %s: %w", op, err)
	}
}

func mergeEnv(repo engine.Repository, extra map[string]string) map[string]string {
	env := make(map[string]string, len(repo.Env)+len(extra)+1)
	for k, v := range repo.Env {
		env[k] = v
	}
	env["RESTIC_PASSWORD"] = repo.Password
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func appendKeep(args []string, flag string, n int) []string {
	if n <= 0 {
		return args
	}
	return append(args, flag, strconv.Itoa(n))
}

func isLocked(stderr string) bool {
	text := strings.ToLower(stderr)
	return strings.Contains(text, "already locked")
}

func isAlreadyInitialized(stderr string) bool {
	text := strings.ToLower(stderr)
	return strings.Contains(text, "already initialized") || strings.Contains(text, "config file already exists")
}

type backupSummary struct {
	MessageType         string `json:"message_type"`
	SnapshotID          string `json:"snapshot_id"`
	TotalBytesProcessed int64  `json:"total_bytes_processed"`
	DataAdded           int64  `json:"data_added"`
}

// parseBackupSummary scans the --json line stream for the summary message.
func parseBackupSummary(stdout string) (*backupSummary, error) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var msg backupSummary
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.MessageType == "summary" && msg.SnapshotID != "" {
			return &msg, nil
		}
	}
	return nil, errors.New("restic backup produced no summary with a snapshot id")
}

type restoreSummary struct {
	MessageType   string `json:"message_type"`
	FilesRestored int64  `json:"files_restored"`
	BytesRestored int64  `json:"bytes_restored"`
}

func parseRestoreSummary(stdout string) restoreSummary {
	var summary restoreSummary
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg restoreSummary
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.MessageType == "summary" {
			summary = msg
		}
	}
	return summary
}
