// Package sandbox builds the argument vectors that run a command inside an
// isolated container.
//
// Every runtime enforces the same contract:
//   - no network access
//   - no inherited home directory or environment
//   - exactly one read-write bind: the session root, at the same path
//     inside and outside the container
//   - the working directory is the run directory
//
// Only argv construction lives here; spawning is the runner's job, which
// keeps the isolation technology swappable.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Spec describes one invocation inside the sandbox.
type Spec struct {
	SessionRoot string   // the single host directory bound read-write
	RunDir      string   // working directory inside the container
	Command     []string // interpreter and arguments, e.g. ["python", "/abs/script"]
}

// Runtime turns a Spec into a host command line.
type Runtime interface {
	// Name identifies the runtime kind (singularity, docker, ...).
	Name() string
	// Check verifies configuration that must hold before anything is
	// spawned, such as a local image file being present.
	Check() error
	// Argv returns the full host argv; argv[0] is the runtime binary.
	Argv(spec Spec) ([]string, error)
}

// ErrImageNotFound is returned by Check when a local image file is missing.
var ErrImageNotFound = errors.New("container image not found")

// New returns the runtime for kind. binary defaults to kind.
func New(kind, binary, image string) (Runtime, error) {
	if binary == "" {
		binary = kind
	}
	switch kind {
	case "singularity", "apptainer":
		return &Singularity{Binary: binary, Image: image, kind: kind}, nil
	case "docker", "podman":
		return &Docker{Binary: binary, Image: image, kind: kind}, nil
	case "bwrap":
		return &Bwrap{Binary: binary}, nil
	default:
		return nil, fmt.Errorf("unknown runtime kind %q", kind)
	}
}

// ScriptCommand is the command that runs script with interpreter.
// The interpreter may carry its own arguments ("python3 -u").
func ScriptCommand(interpreter, script string) []string {
	return append(strings.Fields(interpreter), script)
}

func validate(spec Spec) error {
	if len(spec.Command) == 0 {
		return fmt.Errorf("empty command")
	}
	if !filepath.IsAbs(spec.SessionRoot) {
		return fmt.Errorf("session root %q is not absolute", spec.SessionRoot)
	}
	rel, err := filepath.Rel(spec.SessionRoot, spec.RunDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("run dir %q is outside session root %q", spec.RunDir, spec.SessionRoot)
	}
	return nil
}

// Singularity runs commands with singularity or apptainer exec.
type Singularity struct {
	Binary string
	Image  string // .sif path or a library://, docker:// reference
	kind   string
}

func (s *Singularity) Name() string { return s.kind }

// Check fails when Image looks like a local file and does not exist.
func (s *Singularity) Check() error {
	if s.Image == "" {
		return fmt.Errorf("%w: no image configured", ErrImageNotFound)
	}
	if strings.Contains(s.Image, "://") {
		return nil
	}
	if _, err := os.Stat(s.Image); err != nil {
		return fmt.Errorf("%w: %s", ErrImageNotFound, s.Image)
	}
	return nil
}

func (s *Singularity) Argv(spec Spec) ([]string, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	argv := []string{
		s.Binary, "exec",
		"--containall",
		"--cleanenv",
		"--no-home",
		"--net", "--network", "none",
		"--bind", spec.SessionRoot + ":" + spec.SessionRoot + ":rw",
		"--pwd", spec.RunDir,
		s.Image,
	}
	return append(argv, spec.Command...), nil
}

// Docker runs commands with docker or podman run.
type Docker struct {
	Binary string
	Image  string
	kind   string
}

func (d *Docker) Name() string { return d.kind }

func (d *Docker) Check() error {
	if d.Image == "" {
		return fmt.Errorf("%w: no image configured", ErrImageNotFound)
	}
	return nil
}

func (d *Docker) Argv(spec Spec) ([]string, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	argv := []string{
		d.Binary, "run",
		"--rm",
		"--network", "none",
		"--read-only",
		"--tmpfs", "/tmp",
		"--user", fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		"-e", "HOME=" + spec.RunDir,
		"-v", spec.SessionRoot + ":" + spec.SessionRoot + ":rw",
		"-w", spec.RunDir,
		d.Image,
	}
	return append(argv, spec.Command...), nil
}

// Bwrap runs commands under bubblewrap using the host's /usr read-only.
// It needs no image, which makes it the lightest option on Linux hosts.
type Bwrap struct {
	Binary string
}

func (b *Bwrap) Name() string { return "bwrap" }

func (b *Bwrap) Check() error { return nil }

func (b *Bwrap) Argv(spec Spec) ([]string, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	argv := []string{
		b.Binary,
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
		"--clearenv",
		"--setenv", "PATH", "/usr/local/bin:/usr/bin:/bin",
		"--setenv", "HOME", spec.RunDir,
		"--ro-bind", "/usr", "/usr",
		"--symlink", "usr/bin", "/bin",
		"--symlink", "usr/lib", "/lib",
		"--symlink", "usr/lib64", "/lib64",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
		"--bind", spec.SessionRoot, spec.SessionRoot,
		"--chdir", spec.RunDir,
		"--",
	}
	return append(argv, spec.Command...), nil
}
