// Package rundir prepares the per-run directory that bounds one execution.
//
// Layout:
//
//	<base>/<sessionID>/             session root, owned by the caller
//	<base>/<sessionID>/<runID>/     run directory, created here
//	<base>/<sessionID>/<runID>/script
//
// Run directories are never reused or removed by this package.
package rundir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ScriptName is the fixed file name of the submitted code inside a run directory.
const ScriptName = "script"

var (
	// ErrMissingSession is returned when no session identifier is given.
	ErrMissingSession = errors.New("session_id is required")
	// ErrInvalidSession is returned for identifiers that would escape the base.
	ErrInvalidSession = errors.New("invalid session_id")
)

// ConfigError reports a session root that cannot host runs. It is a setup
// failure and retrying the same request will not help.
type ConfigError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Path)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RunContext identifies the directories and files of a single run.
type RunContext struct {
	SessionID   string
	SessionRoot string // absolute, symlinks resolved
	RunID       string
	RunDir      string
	ScriptPath  string
}

// Builder creates run contexts under Base.
type Builder struct {
	Base           string
	CreateSessions bool // create <Base>/<sessionID> when missing

	now func() time.Time
}

// Build validates the base and session directories and creates a fresh
// run directory. Identifier errors are returned before any filesystem
// access.
func (b *Builder) Build(sessionID string) (*RunContext, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	base, err := checkDir(b.Base, "session base")
	if err != nil {
		return nil, err
	}
	if err := checkWritable(base); err != nil {
		return nil, err
	}

	sessionRoot := filepath.Join(base, sessionID)
	if b.CreateSessions {
		if err := os.MkdirAll(sessionRoot, 0o755); err != nil {
			return nil, &ConfigError{Path: sessionRoot, Reason: "cannot create session directory", Err: err}
		}
	}
	sessionRoot, err = checkDir(sessionRoot, "session directory")
	if err != nil {
		return nil, err
	}
	if err := checkWritable(sessionRoot); err != nil {
		return nil, err
	}

	runID := b.newRunID()
	runDir := filepath.Join(sessionRoot, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, &ConfigError{Path: runDir, Reason: "cannot create run directory", Err: err}
	}

	return &RunContext{
		SessionID:   sessionID,
		SessionRoot: sessionRoot,
		RunID:       runID,
		RunDir:      runDir,
		ScriptPath:  filepath.Join(runDir, ScriptName),
	}, nil
}

// WriteScript writes code verbatim to the run's script path.
func WriteScript(rc *RunContext, code string) error {
	if err := os.WriteFile(rc.ScriptPath, []byte(code), 0o644); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// newRunID returns run_<UTC timestamp>_<8 hex chars>. The random suffix
// keeps concurrent runs in the same second apart.
func (b *Builder) newRunID() string {
	now := time.Now
	if b.now != nil {
		now = b.now
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("run_%s_%s", now().UTC().Format("20060102T150405"), suffix)
}

func validateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingSession
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidSession, id)
	}
	return nil
}

// checkDir resolves path to an absolute, symlink-free directory.
func checkDir(path, what string) (string, error) {
	if path == "" {
		return "", &ConfigError{Path: path, Reason: what + " is not configured"}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &ConfigError{Path: path, Reason: what + " is invalid", Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &ConfigError{Path: abs, Reason: what + " does not exist"}
		}
		return "", &ConfigError{Path: abs, Reason: what + " is not accessible", Err: err}
	}
	if !info.IsDir() {
		return "", &ConfigError{Path: abs, Reason: what + " is not a directory"}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &ConfigError{Path: abs, Reason: what + " cannot be resolved", Err: err}
	}
	return resolved, nil
}

func checkWritable(dir string) error {
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return &ConfigError{Path: dir, Reason: "directory is not writable", Err: err}
	}
	return nil
}
