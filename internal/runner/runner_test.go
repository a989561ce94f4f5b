package runner

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func newTestRunner() *Runner {
	return &Runner{MaxOutput: 1 << 20}
}

func sh(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestRun_Success(t *testing.T) {
	r := newTestRunner()
	out := r.Run(context.Background(), sh("echo hello"), t.TempDir(), 10*time.Second)
	if out.Status != StatusSuccess {
		t.Fatalf("Status = %s, want success (%s)", out.Status, out.Message())
	}
	if !strings.Contains(string(out.Stdout), "hello") {
		t.Errorf("Stdout = %q, want to contain 'hello'", out.Stdout)
	}
	if out.Message() != "" {
		t.Errorf("Message() = %q, want empty", out.Message())
	}
	if out.Duration <= 0 {
		t.Error("Duration not recorded")
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	r := newTestRunner()
	out := r.Run(context.Background(), sh("echo boom >&2; exit 3"), t.TempDir(), 10*time.Second)
	if out.Status != StatusNonZero {
		t.Fatalf("Status = %s, want nonzero", out.Status)
	}
	if out.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", out.ExitCode)
	}
	if !strings.Contains(out.Message(), "boom") {
		t.Errorf("Message() = %q, want stderr", out.Message())
	}
}

func TestRun_NonZeroExitWithoutStderr(t *testing.T) {
	r := newTestRunner()
	out := r.Run(context.Background(), sh("exit 2"), t.TempDir(), 10*time.Second)
	if got, want := out.Message(), "Process exited with code 2"; got != want {
		t.Errorf("Message() = %q, want %q", got, want)
	}
}

func TestRun_BinaryNotFound(t *testing.T) {
	r := newTestRunner()
	for _, bin := range []string{"nonexistent-runtime-xyz-123", "/opt/nowhere/singularity"} {
		out := r.Run(context.Background(), []string{bin, "exec"}, t.TempDir(), time.Second)
		if out.Status != StatusUnavailable {
			t.Errorf("%s: Status = %s, want runtime-unavailable", bin, out.Status)
		}
		if !strings.Contains(out.Message(), bin) {
			t.Errorf("Message() = %q, want to mention the binary", out.Message())
		}
	}
}

func TestRun_EmptyArgv(t *testing.T) {
	r := newTestRunner()
	out := r.Run(context.Background(), nil, "", time.Second)
	if out.Status != StatusSpawnError {
		t.Errorf("Status = %s, want spawn-error", out.Status)
	}
}

func TestRun_BadWorkingDir(t *testing.T) {
	r := newTestRunner()
	out := r.Run(context.Background(), sh("true"), filepath.Join(t.TempDir(), "missing"), time.Second)
	if out.Status != StatusSpawnError {
		t.Errorf("Status = %s, want spawn-error", out.Status)
	}
}

func TestRun_WorkingDir(t *testing.T) {
	r := newTestRunner()
	dir := t.TempDir()
	out := r.Run(context.Background(), sh("pwd"), dir, 10*time.Second)
	resolved, _ := filepath.EvalSymlinks(dir)
	if got := strings.TrimSpace(string(out.Stdout)); got != dir && got != resolved {
		t.Errorf("pwd = %q, want %q", got, dir)
	}
}

func TestRun_Timeout(t *testing.T) {
	r := newTestRunner()
	start := time.Now()
	out := r.Run(context.Background(), sh("echo started; sleep 10"), t.TempDir(), 200*time.Millisecond)
	if out.Status != StatusTimeout {
		t.Fatalf("Status = %s, want timeout", out.Status)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v, timeout not enforced", elapsed)
	}
	if !strings.Contains(out.Message(), "timed out") {
		t.Errorf("Message() = %q", out.Message())
	}
	if !strings.Contains(string(out.Stdout), "started") {
		t.Errorf("Stdout before timeout lost: %q", out.Stdout)
	}
}

func TestRun_TimeoutKillsProcessGroup(t *testing.T) {
	r := newTestRunner()
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")

	out := r.Run(context.Background(), sh("sleep 30 & echo $! > child.pid; wait"), dir, 300*time.Millisecond)
	if out.Status != StatusTimeout {
		t.Fatalf("Status = %s, want timeout", out.Status)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("reading pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parsing pid: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if !alive(pid) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("child %d still running after timeout", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRun_EnvironmentNotInherited(t *testing.T) {
	t.Setenv("RUNBOX_TEST_SECRET", "hunter2")
	t.Setenv("RUNBOX_TEST_PASSED", "yes")

	r := newTestRunner()
	out := r.Run(context.Background(), sh("echo ${RUNBOX_TEST_SECRET:-unset}"), t.TempDir(), 10*time.Second)
	if got := strings.TrimSpace(string(out.Stdout)); got != "unset" {
		t.Errorf("secret leaked into runtime env: %q", got)
	}

	r.PassEnv = []string{"RUNBOX_TEST_PASSED"}
	out = r.Run(context.Background(), sh("echo ${RUNBOX_TEST_PASSED:-unset}"), t.TempDir(), 10*time.Second)
	if got := strings.TrimSpace(string(out.Stdout)); got != "yes" {
		t.Errorf("PassEnv variable = %q, want yes", got)
	}
}

func TestRun_OutputTruncation(t *testing.T) {
	r := newTestRunner()
	r.MaxOutput = 100 // very small cap

	out := r.Run(context.Background(), sh("dd if=/dev/zero bs=200 count=1 2>/dev/null"), t.TempDir(), 10*time.Second)
	if out.Status != StatusSuccess {
		t.Fatalf("Status = %s: %s", out.Status, out.Message())
	}
	if !out.Truncated {
		t.Error("Truncated = false, want true")
	}
	if len(out.Stdout) > r.MaxOutput {
		t.Errorf("len(Stdout) = %d, want <= %d", len(out.Stdout), r.MaxOutput)
	}
}

func TestRun_ExactLimitNotTruncated(t *testing.T) {
	r := newTestRunner()
	r.MaxOutput = 200

	out := r.Run(context.Background(), sh("dd if=/dev/zero bs=200 count=1 2>/dev/null"), t.TempDir(), 10*time.Second)
	if out.Truncated {
		t.Error("Truncated = true for output exactly at the cap")
	}
}

// alive reports whether pid is running. Zombies count as dead: the test
// process may run under an init that does not reap reparented children.
func alive(pid int) bool {
	if err := syscall.Kill(pid, 0); err == syscall.ESRCH {
		return false
	}
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return !os.IsNotExist(err)
	}
	// Format: pid (comm) state ...
	if i := strings.LastIndexByte(string(stat), ')'); i >= 0 && i+2 < len(stat) {
		return stat[i+2] != 'Z'
	}
	return true
}
