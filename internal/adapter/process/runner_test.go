package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_Success(t *testing.T) {
	r := NewRunner(0)
	var pid int

	res, err := r.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", `echo "out:$GREETING"; echo err >&2`},
		Env:     map[string]string{"GREETING": "hello"},
		OnStart: func(p int) { pid = p },
	})

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out:hello\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.NotZero(t, pid)
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := NewRunner(0)

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom\n", res.Stderr)
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(0)
	r.waitDelay = time.Second

	start := time.Now()
	_, err := r.Run(context.Background(), Command{Name: "sleep", Args: []string{"30"}, Timeout: 100 * time.Millisecond})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunner_Canceled(t *testing.T) {
	r := NewRunner(0)
	r.waitDelay = time.Second
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := r.Run(ctx, Command{Name: "sleep", Args: []string{"30"}})

	assert.True(t, errors.Is(err, ErrCanceled))
}

func TestRunner_StartFailure(t *testing.T) {
	r := NewRunner(0)

	_, err := r.Run(context.Background(), Command{Name: "/nonexistent/binary"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start")
}

func TestRunner_BoundedOutput(t *testing.T) {
	r := NewRunner(16)

	res, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "i=0; while [ $i -lt 100 ]; do echo line$i; i=$((i+1)); done"},
	})

	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasPrefix(res.Stdout, truncatedNotice))
	assert.True(t, strings.HasSuffix(res.Stdout, "line99\n"))
	assert.LessOrEqual(t, len(res.Stdout), 16+len(truncatedNotice))
}

func TestBuildEnv_OverridesAndCleansLibraryPath(t *testing.T) {
	t.Setenv("LD_LIBRARY_PATH", "/opt/bundle/lib")
	t.Setenv("RESTIC_PASSWORD", "old")

	env := buildEnv(map[string]string{"RESTIC_PASSWORD": "new"})

	var passwords, libPaths []string
	for _, e := range env {
		if strings.HasPrefix(e, "RESTIC_PASSWORD=") {
			passwords = append(passwords, e)
		}
		if strings.HasPrefix(e, "LD_LIBRARY_PATH=") {
			libPaths = append(libPaths, e)
		}
	}
	assert.Equal(t, []string{"RESTIC_PASSWORD=new"}, passwords)
	assert.Equal(t, []string{"LD_LIBRARY_PATH=/usr/lib/x86_64-linux-gnu:/usr/lib:/lib"}, libPaths)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "short", Tail("short", 10))
	assert.Equal(t, truncatedNotice+"6789", Tail("0123456789", 4))
	assert.Equal(t, "abc", Tail("abc", 0))
}
