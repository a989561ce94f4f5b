package runner

import (
	"fmt"
	"strings"
	"time"
)

// Status classifies how a sandbox process ended.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusNonZero     Status = "nonzero"
	StatusTimeout     Status = "timeout"
	StatusUnavailable Status = "runtime-unavailable"
	StatusSpawnError  Status = "spawn-error"
)

// Outcome holds the result of one sandbox process. It is not modified
// after Run returns.
type Outcome struct {
	Status    Status
	Binary    string        // runtime binary as requested
	ExitCode  int           // process exit code; -1 when killed
	Stdout    []byte        // captured stdout (may be truncated)
	Stderr    []byte        // captured stderr (may be truncated)
	Truncated bool          // true if either stream exceeded the size cap
	Duration  time.Duration // wall-clock time including spawn
	Timeout   time.Duration // the budget the process ran under
	Err       error         // lookup or spawn failure
}

// OK reports whether the process exited zero.
func (o *Outcome) OK() bool { return o.Status == StatusSuccess }

// Message returns the error text surfaced to callers, or "" on success.
func (o *Outcome) Message() string {
	switch o.Status {
	case StatusSuccess:
		return ""
	case StatusNonZero:
		if s := strings.TrimSpace(string(o.Stderr)); s != "" {
			return string(o.Stderr)
		}
		return fmt.Sprintf("Process exited with code %d", o.ExitCode)
	case StatusTimeout:
		return fmt.Sprintf("Execution timed out after %s", o.Timeout)
	case StatusUnavailable:
		return fmt.Sprintf("container runtime %q not found: is it installed?", o.Binary)
	default:
		return fmt.Sprintf("error executing %s: %v", o.Binary, o.Err)
	}
}
