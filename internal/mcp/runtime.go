package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type runtimeInfoParams struct{}

func (h *handler) runtimeInfoHandler(ctx context.Context, _ *mcp.CallToolRequest, _ runtimeInfoParams) (*mcp.CallToolResult, any, error) {
	info, err := h.engine.RuntimeInfo(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Error getting runtime info: %v", err))
	}
	return jsonResult(info)
}
