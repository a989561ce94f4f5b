package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/deixis/runbox/internal/rundir"
	"github.com/deixis/runbox/internal/runner"
	"github.com/deixis/runbox/internal/sandbox"
)

// pythonSyntaxCheck prints the line and message of the first syntax error
// in the file named by argv[1] and exits 1. Valid files exit 0 silently.
const pythonSyntaxCheck = `import ast, sys
try:
    ast.parse(open(sys.argv[1]).read(), sys.argv[1])
except SyntaxError as e:
    print(e.lineno or 0)
    print(e.msg)
    sys.exit(1)
`

func isPython(interpreter string) bool {
	f := strings.Fields(interpreter)
	return len(f) > 0 && strings.HasPrefix(filepath.Base(f[0]), "python")
}

// validate parses the script inside the sandbox. Only a reported syntax
// error or a missing runtime stops the run; any other problem is left for
// the real execution to surface.
func (e *Engine) validate(ctx context.Context, rc *rundir.RunContext, timeout time.Duration) *Error {
	cmd := append(strings.Fields(e.Config.Interpreter()), "-c", pythonSyntaxCheck, rc.ScriptPath)
	argv, err := e.Runtime.Argv(sandbox.Spec{SessionRoot: rc.SessionRoot, RunDir: rc.RunDir, Command: cmd})
	if err != nil {
		return newError(ConfigurationError, err)
	}

	out := e.Runner.Run(ctx, argv, rc.RunDir, timeout)
	switch out.Status {
	case runner.StatusSuccess:
		return nil
	case runner.StatusUnavailable:
		return outcomeError(out)
	case runner.StatusNonZero:
		if msg, ok := parseSyntaxError(out.Stdout); ok {
			return &Error{Type: SyntaxError, Msg: msg}
		}
	}
	e.logger().Warnw("syntax check inconclusive", "run", rc.RunID, "status", out.Status, "stderr", firstLine(string(out.Stderr)))
	return nil
}

// parseSyntaxError reads the two-line report written by pythonSyntaxCheck.
func parseSyntaxError(stdout []byte) (string, bool) {
	lines := strings.SplitN(strings.TrimSpace(string(stdout)), "\n", 2)
	if len(lines) != 2 {
		return "", false
	}
	line, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return "", false
	}
	msg := strings.TrimSpace(lines[1])
	if line > 0 {
		return fmt.Sprintf("Syntax error on line %d: %s", line, msg), true
	}
	return "Syntax error: " + msg, true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
