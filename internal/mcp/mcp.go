// Package mcp provides the runbox MCP server, registering the code
// execution tools and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/deixis/runbox"
	"github.com/deixis/runbox/internal/pipeline"
	"github.com/deixis/runbox/internal/report"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	engine *pipeline.Engine
	store  report.Store
	token  string // used when a request carries no Authorization header
	log    *zap.SugaredLogger
}

// ServerOption configures the runbox MCP server.
type ServerOption func(*handler)

// WithToken sets the credential used for requests that do not carry one,
// typically read from the environment in stdio mode.
func WithToken(token string) ServerOption {
	return func(h *handler) { h.token = token }
}

// WithLogger sets the server logger.
func WithLogger(l *zap.SugaredLogger) ServerOption {
	return func(h *handler) { h.log = l }
}

// NewServer creates an MCP server with all runbox tools registered.
func NewServer(engine *pipeline.Engine, store report.Store, opts ...ServerOption) *mcp.Server {
	h := &handler{engine: engine, store: store}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		h.log = zap.NewNop().Sugar()
	}

	s := mcp.NewServer(&mcp.Implementation{Name: "runbox", Version: runbox.Version}, &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	})

	mcp.AddTool(s, &mcp.Tool{
		Name: "run_code",
		Description: `Execute code in an isolated sandbox and report what it produced.

The code is written to a fresh run directory inside the caller's session and run by the
configured interpreter with no network access. The result is JSON with stdout ("output"),
stderr, error and errorType, executionTime in seconds, every file the run created
("outputFiles", with small text files inlined), and the workspace upload outcome.
Files written to the current directory are collected; use relative paths.
Results are stored for later retrieval via get_run.`,
	}, h.runCodeHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_run",
		Description: "Fetch the stored result of an earlier run_code call by its runId.",
	}, h.getRunHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "runtime_info",
		Description: "Report the interpreter version and platform as seen from inside the sandbox.",
	}, h.runtimeInfoHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "health_check",
		Description: "Report whether the runbox server is up.",
	}, h.healthHandler)

	return s
}

// credential returns the caller token: the request's Authorization header
// in HTTP mode, else the configured fallback.
func (h *handler) credential(req *mcp.CallToolRequest) string {
	if req != nil && req.Extra != nil && req.Extra.Header != nil {
		if tok := stripScheme(req.Extra.Header.Get("Authorization")); tok != "" {
			return tok
		}
	}
	return h.token
}

// stripScheme removes a leading "Bearer " or "OAuth " from an
// Authorization header value.
func stripScheme(v string) string {
	v = strings.TrimSpace(v)
	for _, scheme := range []string{"Bearer ", "OAuth "} {
		if len(v) >= len(scheme) && strings.EqualFold(v[:len(scheme)], scheme) {
			return strings.TrimSpace(v[len(scheme):])
		}
	}
	return v
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encoding result: %v", err))
	}
	return textResult(string(data))
}

type healthParams struct{}

func (h *handler) healthHandler(_ context.Context, _ *mcp.CallToolRequest, _ healthParams) (*mcp.CallToolResult, any, error) {
	return jsonResult(map[string]string{
		"status":  "healthy",
		"service": "runbox",
		"version": runbox.Version,
	})
}
