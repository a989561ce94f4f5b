// Package report persists execution results so that a run can be fetched
// again by its ID after the request that produced it has returned.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deixis/runbox/internal/pipeline"
)

// ErrNotFound is returned by Load for unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Store persists and retrieves execution results keyed by run ID.
type Store interface {
	Save(ctx context.Context, result *pipeline.Result) error
	Load(ctx context.Context, runID string) (*pipeline.Result, error)
}

// checkID rejects IDs that are empty or could address anything other than
// a single stored result.
func checkID(runID string) error {
	if runID == "" || runID == "." || runID == ".." || strings.ContainsAny(runID, `/\`) || strings.ContainsRune(runID, 0) {
		return fmt.Errorf("%w: invalid run id %q", ErrNotFound, runID)
	}
	return nil
}

// Summary renders a short human-readable description of a result.
func Summary(r *pipeline.Result) string {
	var b strings.Builder
	status := "succeeded"
	if !r.Success {
		status = "failed"
		if r.ErrorType != "" {
			status += " (" + string(r.ErrorType) + ")"
		}
	}
	fmt.Fprintf(&b, "run %s %s in %.2fs", r.RunID, status, r.ExecutionTime)
	fmt.Fprintf(&b, ", %d output file(s)", len(r.OutputFiles))
	if up := r.WorkspaceUpload; up != nil {
		if up.Skipped {
			fmt.Fprintf(&b, ", upload %s", up.Reason)
		} else {
			fmt.Fprintf(&b, ", uploaded %d/%d", up.Successful, up.TotalFiles)
		}
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", firstLine(r.Error))
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
