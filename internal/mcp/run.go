package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/runbox/internal/pipeline"
)

type runCodeParams struct {
	SessionID    string `json:"session_id" jsonschema:"caller session; runs of one session share a session directory"`
	Code         string `json:"code" jsonschema:"source code to execute"`
	Timeout      int    `json:"timeout,omitempty" jsonschema:"maximum execution time in seconds. Defaults to the server default and is capped at the server maximum."`
	WorkspaceDir string `json:"workspace_dir,omitempty" jsonschema:"workspace directory that receives the script and output files. Absolute, or relative to the caller's home. Defaults to a per-run folder."`
}

func (h *handler) runCodeHandler(ctx context.Context, req *mcp.CallToolRequest, params runCodeParams) (*mcp.CallToolResult, any, error) {
	result := h.engine.Execute(ctx, pipeline.Request{
		SessionID: params.SessionID,
		Code:      params.Code,
		Token:     h.credential(req),
		Timeout:   time.Duration(params.Timeout) * time.Second,
		RemoteDir: params.WorkspaceDir,
	})

	// Results without a run ID never reached the filesystem; nothing to keep.
	if result.RunID != "" && h.store != nil {
		if err := h.store.Save(ctx, result); err != nil {
			h.log.Warnw("saving run result", "run", result.RunID, "error", err)
		}
	}
	return jsonResult(result)
}
