package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deixis/runbox/internal/sandbox"
)

const pythonInfo = `import json, platform, sys
print(json.dumps({
    "version": sys.version,
    "version_info": {"major": sys.version_info.major, "minor": sys.version_info.minor, "micro": sys.version_info.micro},
    "platform": platform.platform(),
    "architecture": platform.architecture()[0],
    "machine": platform.machine(),
    "processor": platform.processor(),
    "executable": sys.executable,
}))
`

// RuntimeInfo describes the interpreter as seen from inside the sandbox.
type RuntimeInfo struct {
	Runtime     string         `json:"runtime"`
	Image       string         `json:"image,omitempty"`
	Interpreter string         `json:"interpreter"`
	Version     string         `json:"version,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// RuntimeInfo runs a short probe in a scratch directory below the session
// base and reports the interpreter version and platform.
func (e *Engine) RuntimeInfo(ctx context.Context) (*RuntimeInfo, error) {
	info := &RuntimeInfo{
		Runtime:     e.Runtime.Name(),
		Image:       e.Config.Runtime.Image,
		Interpreter: e.Config.Interpreter(),
	}
	if err := e.Runtime.Check(); err != nil {
		return info, newError(ConfigurationError, err)
	}

	dir, err := os.MkdirTemp(e.Builder.Base, ".runtime-info-")
	if err != nil {
		return info, newError(ConfigurationError, fmt.Errorf("creating probe directory: %w", err))
	}
	defer os.RemoveAll(dir)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	python := isPython(info.Interpreter)
	cmd := strings.Fields(info.Interpreter)
	if python {
		cmd = append(cmd, "-c", pythonInfo)
	} else {
		cmd = append(cmd, "--version")
	}
	argv, err := e.Runtime.Argv(sandbox.Spec{SessionRoot: dir, RunDir: dir, Command: cmd})
	if err != nil {
		return info, newError(ConfigurationError, err)
	}

	out := e.Runner.Run(ctx, argv, dir, e.Config.Timeout())
	if perr := outcomeError(out); perr != nil {
		return info, perr
	}

	if python {
		if err := json.Unmarshal(out.Stdout, &info.Details); err != nil {
			return info, newError(ExecutionError, fmt.Errorf("decoding interpreter report: %w", err))
		}
		info.Version, _ = info.Details["version"].(string)
		return info, nil
	}
	// Some interpreters print their version on stderr.
	info.Version = firstLine(string(out.Stdout))
	if info.Version == "" {
		info.Version = firstLine(string(out.Stderr))
	}
	return info, nil
}
