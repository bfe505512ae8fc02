// Package engine defines the contract between the orchestration services and
// the deduplicating backup engine that actually moves data.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when an engine call exceeds its hard limit.
	ErrTimeout = errors.New("engine operation timed out")

	// ErrExit matches any *ExitError through errors.Is.
	ErrExit = errors.New("engine exited with an error")

	// ErrCanceled is returned when the caller cancelled the operation.
	ErrCanceled = errors.New("engine operation canceled")

	// ErrCredentialConflict is returned for a copy whose two repositories
	// need different values for the same backend credential.
	ErrCredentialConflict = errors.New("repositories need different backend credentials")
)

// ExitError carries a non-zero exit code and a bounded tail of the output.
type ExitError struct {
	Op   string
	Code int
	Tail string
}

func (e *ExitError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("%s exited with code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Op, e.Code, e.Tail)
}

func (e *ExitError) Is(target error) bool {
	return target == ErrExit
}

// Repository addresses one engine repository together with the secrets the
// engine needs to open it.
type Repository struct {
	Address  string
	Env      map[string]string
	Password string
}

type BackupRequest struct {
	Repository Repository
	Paths      []string
	Excludes   []string
	Tags       []string
	Timeout    time.Duration
	// OnStart receives the engine pid once the process is running.
	OnStart func(pid int)
}

type BackupResult struct {
	SnapshotID string
	SizeBytes  int64
	DataAdded  int64
	Output     string
}

type ForgetPolicy struct {
	KeepLast    int
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
	KeepYearly  int
	// Tags restrict the policy to snapshots carrying all of them.
	Tags    []string
	Prune   bool
	Timeout time.Duration
}

type RestoreRequest struct {
	Repository Repository
	SnapshotID string
	Target     string
	Includes   []string
	Timeout    time.Duration
	OnStart    func(pid int)
}

type RestoreResult struct {
	FilesRestored int64
	BytesRestored int64
	Output        string
}

type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Paths    []string  `json:"paths"`
	Tags     []string  `json:"tags"`
}

type CopyRequest struct {
	From       Repository
	To         Repository
	SnapshotID string
	Timeout    time.Duration
}

// Check rejects a copy the engine cannot run in one process. Both sides share
// a single backend environment, so a key both need must carry one value.
func (r CopyRequest) Check() error {
	var clashes []string
	for k, v := range r.From.Env {
		if other, ok := r.To.Env[k]; ok && other != v {
			clashes = append(clashes, k)
		}
	}
	if len(clashes) == 0 {
		return nil
	}
	slices.Sort(clashes)
	return fmt.Errorf("%w: %s differ between %s and %s", ErrCredentialConflict, strings.Join(clashes, ", "), r.From.Address, r.To.Address)
}

// Engine is implemented by the restic adapter and by test doubles.
type Engine interface {
	Init(ctx context.Context, repo Repository) error
	Backup(ctx context.Context, req BackupRequest) (*BackupResult, error)
	Forget(ctx context.Context, repo Repository, policy ForgetPolicy) error
	Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error)
	Snapshots(ctx context.Context, repo Repository, tags []string) ([]Snapshot, error)
	Copy(ctx context.Context, req CopyRequest) error
}
