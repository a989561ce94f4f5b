// Package runner spawns sandbox commands with a minimal environment, a
// wall-clock timeout, and output size limits, and classifies how they ended.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"time"
)

const defaultWaitDelay = 2 * time.Second

// baseEnv is the whole environment the runtime process sees. Container
// runtimes only need PATH to find their helpers; nothing of the caller's
// environment is inherited unless listed in PassEnv.
var baseEnv = []string{
	"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	"LANG=C.UTF-8",
}

// Runner executes sandbox command lines.
type Runner struct {
	MaxOutput int      // bytes kept per stream
	PassEnv   []string // host variables forwarded to the runtime (e.g. DOCKER_HOST)

	// WaitDelay bounds how long Run waits for output pipes to close after
	// the process group is killed. Zero uses a 2s default.
	WaitDelay time.Duration
}

// Run executes argv in dir and returns its Outcome. It never returns nil
// and never retries. On timeout the whole process group is killed.
func (r *Runner) Run(ctx context.Context, argv []string, dir string, timeout time.Duration) *Outcome {
	start := time.Now()
	out := &Outcome{Timeout: timeout}
	finish := func() *Outcome {
		out.Duration = time.Since(start)
		return out
	}

	if len(argv) == 0 {
		out.Status = StatusSpawnError
		out.Err = fmt.Errorf("empty argv")
		return finish()
	}
	out.Binary = argv[0]

	path, err := exec.LookPath(argv[0])
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			out.Status = StatusUnavailable
		} else {
			out.Status = StatusSpawnError
		}
		out.Err = err
		return finish()
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, argv[1:]...)
	cmd.Dir = dir
	cmd.Env = r.env()
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = defaultWaitDelay
	}
	setProcessGroup(cmd)

	maxOutput := r.MaxOutput
	var stdout, stderr bytes.Buffer
	stdoutW := &limitWriter{buf: &stdout, limit: maxOutput}
	stderrW := &limitWriter{buf: &stderr, limit: maxOutput}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	runErr := cmd.Run()

	out.Stdout = stdout.Bytes()
	out.Stderr = stderr.Bytes()
	out.Truncated = stdoutW.dropped || stderrW.dropped

	switch {
	case runErr == nil:
		out.Status = StatusSuccess
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.Status = StatusTimeout
		out.ExitCode = -1
	case errors.Is(ctx.Err(), context.Canceled):
		out.Status = StatusSpawnError
		out.ExitCode = -1
		out.Err = fmt.Errorf("execution cancelled: %w", ctx.Err())
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out.Status = StatusNonZero
			out.ExitCode = exitErr.ExitCode()
		} else {
			out.Status = StatusSpawnError
			out.Err = runErr
		}
	}
	return finish()
}

func (r *Runner) env() []string {
	env := append([]string(nil), baseEnv...)
	for _, name := range r.PassEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf     *bytes.Buffer
	limit   int
	dropped bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			w.dropped = true
		}
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.dropped = true
		return len(p), nil
	}
	return w.buf.Write(p)
}
