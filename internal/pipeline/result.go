package pipeline

import (
	"time"

	"github.com/deixis/runbox/internal/artifact"
	"github.com/deixis/runbox/internal/snapshot"
	"github.com/deixis/runbox/internal/workspace"
)

// Request is one submission of code to run.
type Request struct {
	SessionID string
	Code      string
	Token     string        // caller credential; empty skips the upload
	Timeout   time.Duration // zero uses the configured default
	RemoteDir string        // upload destination; empty derives one from the token
}

// Result is returned to the caller for every request, including failed ones.
type Result struct {
	RunID           string                 `json:"runId,omitempty"`
	SessionID       string                 `json:"sessionId,omitempty"`
	RunDir          string                 `json:"runDir,omitempty"`
	Success         bool                   `json:"success"`
	Output          string                 `json:"output"`
	Stderr          string                 `json:"stderr,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ErrorType       ErrorType              `json:"errorType,omitempty"`
	ExitCode        int                    `json:"exitCode"`
	ExecutionTime   float64                `json:"executionTime"` // seconds
	Truncated       bool                   `json:"truncated,omitempty"`
	OutputFiles     []artifact.Metadata    `json:"outputFiles"`
	Warnings        []snapshot.Warning     `json:"warnings,omitempty"`
	WorkspaceUpload *workspace.BatchResult `json:"workspaceUpload,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
}

func (r *Result) fail(err *Error) {
	r.Success = false
	r.Error = err.Msg
	r.ErrorType = err.Type
}
