// Package workspace publishes run files to a remote workspace service.
//
// Publishing a file is two-phase: a JSON-RPC Workspace.create call
// registers an upload node and returns its URL, then the bytes are sent
// with a multipart PUT to that URL.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	contentTypeRPC = "application/jsonrpc+json"
	maxErrorBody   = 4 << 10
)

// Client calls the workspace JSON-RPC endpoint. One Client is used per
// upload batch; calls are issued serially.
type Client struct {
	URL   string
	Token string
	HTTP  *http.Client

	nextID atomic.Int64
}

// NewClient returns a Client for url that authenticates with token.
func NewClient(url, token string, timeout time.Duration) *Client {
	return &Client{
		URL:   url,
		Token: token,
		HTTP:  &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int64  `json:"id"`
	Params  any    `json:"params"`
}

// rpcResponse accepts 1.1 and 2.0 envelopes; the service has answered
// with both and sends "error": null on success.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// RPCError is an error object returned by the service.
type RPCError struct {
	Code    int             `json:"code"`
	Name    string          `json:"name"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	var b strings.Builder
	b.WriteString("JSON-RPC error")
	if e.Code != 0 {
		fmt.Fprintf(&b, " %d", e.Code)
	}
	if e.Name != "" {
		fmt.Fprintf(&b, " (%s)", e.Name)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// IsAlreadyExists reports whether err is the service's answer to creating
// an object that is already there. The service exposes no dedicated code
// for this, so the message and data are matched.
func IsAlreadyExists(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	text := strings.ToLower(rpcErr.Name + " " + rpcErr.Message + " " + string(rpcErr.Data))
	return strings.Contains(text, "already exists")
}

// Call invokes method with params and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.nextID.Add(1),
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", contentTypeRPC)
	if c.Token != "" {
		req.Header.Set("Authorization", c.Token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}

	// Errors arrive with a 500 status and a JSON body; prefer the body.
	var env rpcResponse
	if jerr := json.Unmarshal(data, &env); jerr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, snippet(data))
		}
		return nil, fmt.Errorf("decoding %s response: %w", method, jerr)
	}
	if !isNull(env.Error) {
		return nil, decodeRPCError(env.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, snippet(data))
	}
	return env.Result, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func decodeRPCError(raw json.RawMessage) error {
	var e RPCError
	if err := json.Unmarshal(raw, &e); err == nil {
		return &e
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return &RPCError{Message: msg}
	}
	return &RPCError{Message: string(raw)}
}

func isNull(raw json.RawMessage) bool {
	s := bytes.TrimSpace(raw)
	return len(s) == 0 || bytes.Equal(s, []byte("null"))
}

func snippet(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return strings.TrimSpace(string(b))
}
