package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/runbox/internal/report"
)

type getRunParams struct {
	RunID string `json:"run_id" jsonschema:"the runId from a run_code result"`
}

func (h *handler) getRunHandler(ctx context.Context, _ *mcp.CallToolRequest, params getRunParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	if h.store == nil {
		return errorResult("run results are not stored by this server")
	}

	result, err := h.store.Load(ctx, params.RunID)
	if errors.Is(err, report.ErrNotFound) {
		return errorResult(fmt.Sprintf("No stored result for run %s.", params.RunID))
	}
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	return jsonResult(result)
}
