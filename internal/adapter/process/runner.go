package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const (
	defaultMaxOutput = 64 * 1024
	defaultWaitDelay = 10 * time.Second
)

var (
	ErrTimeout  = errors.New("command timed out")
	ErrCanceled = errors.New("command canceled")
)

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

type Command struct {
	Name string
	Args []string
	Env  map[string]string
	Dir  string
	// Timeout bounds the run on top of the caller's context. Zero disables it.
	Timeout time.Duration
	// OnStart is called with the pid right after the process starts.
	OnStart func(pid int)
	// FullStdout keeps stdout unbounded for commands whose JSON output must
	// be parsed whole. Stderr is always bounded.
	FullStdout bool
}

type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Truncated bool
}

type Runner struct {
	maxOutput int
	waitDelay time.Duration
}

func NewRunner(maxOutput int) *Runner {
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	return &Runner{maxOutput: maxOutput, waitDelay: defaultWaitDelay}
}

// Run executes the command and waits for it. A non-zero exit returns the
// result together with an *ExitError. Context cancellation sends SIGTERM and
// escalates to SIGKILL after the wait delay.
func (r *Runner) Run(ctx context.Context, c Command) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = buildEnv(c.Env)
	cmd.Dir = c.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.waitDelay

	stdout := newTailBuffer(r.maxOutput)
	if c.FullStdout {
		stdout = newTailBuffer(0)
	}
	stderr := newTailBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}
	if c.OnStart != nil {
		c.OnStart(cmd.Process.Pid)
	}

	waitErr := cmd.Wait()
	res := &Result{
		ExitCode:  cmd.ProcessState.ExitCode(),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return res, fmt.Errorf("%w after %s", ErrTimeout, res.Duration.Round(time.Second))
	case errors.Is(ctx.Err(), context.Canceled):
		return res, ErrCanceled
	case waitErr != nil && res.ExitCode > 0:
		return res, &ExitError{Code: res.ExitCode}
	case waitErr != nil:
		return res, fmt.Errorf("failed to wait for %s: %w", c.Name, waitErr)
	}
	return res, nil
}

// buildEnv starts from the process environment with a clean library path so
// system binaries never pick up bundled libraries, then overlays extra.
func buildEnv(extra map[string]string) []string {
	env := make([]string, 0, len(os.Environ())+len(extra)+1)
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "LD_LIBRARY_PATH=") {
			continue
		}
		if key, _, ok := strings.Cut(e, "="); ok {
			if _, overridden := extra[key]; overridden {
				continue
			}
		}
		env = append(env, e)
	}
	env = append(env, "LD_LIBRARY_PATH=/usr/lib/x86_64-linux-gnu:/usr/lib:/lib")
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
