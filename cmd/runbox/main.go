// Command runbox executes code in a container sandbox and publishes the
// results, either as an MCP server or as a one-shot CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/deixis/runbox"
	"github.com/deixis/runbox/internal/config"
	"github.com/deixis/runbox/internal/logging"
	rbmcp "github.com/deixis/runbox/internal/mcp"
	"github.com/deixis/runbox/internal/pipeline"
	"github.com/deixis/runbox/internal/report"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "mcp":
		err = mcpMain(args)
	case "run":
		err = runMain(args)
	case "version":
		fmt.Println(runbox.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "runbox: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "runbox: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: runbox <command> [flags]

Commands:
  mcp         Start the MCP server (stdio, or HTTP with --http)
  run         Execute a script file once and print the result
  version     Print the version
  help        Show this help

Use "runbox <command> -h" for command-specific flags.`)
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := pflag.NewFlagSet("mcp", pflag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpMode := fs.Bool("http", false, "serve MCP over streamable HTTP instead of stdio")
	httpAddr := fs.String("addr", "", "HTTP listen address (implies --http; default from config)")
	configPath := fs.String("config", "", "config file (default .runbox in the working directory)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(rbmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	engine, err := pipeline.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []rbmcp.ServerOption{rbmcp.WithLogger(logger)}
	if *httpMode || *httpAddr != "" {
		server := rbmcp.NewServer(engine, store, opts...)
		addr := *httpAddr
		if addr == "" {
			addr = cfg.HTTPAddr()
		}
		return serveHTTP(ctx, server, addr, cfg.HTTP.AllowedOrigins, logger)
	}

	// Stdio has no request headers; the credential comes from the environment.
	opts = append(opts, rbmcp.WithToken(os.Getenv(cfg.TokenEnv())))
	server := rbmcp.NewServer(engine, store, opts...)
	logger.Infow("serving MCP on stdio", "runtime", engine.Runtime.Name(), "version", runbox.Version)
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

// --- run ---

func runMain(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	session := fs.String("session", "", "session ID (required)")
	timeout := fs.Duration("timeout", 0, "execution timeout (e.g. 90s); 0 uses the configured default")
	remoteDir := fs.String("workspace-dir", "", "workspace directory for uploads")
	jsonFlag := fs.Bool("json", false, "output the result as JSON")
	configPath := fs.String("config", "", "config file (default .runbox in the working directory)")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("run: expected exactly one script file (or - for stdin)")
	}
	code, err := readScript(fs.Arg(0))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	engine, err := pipeline.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	result := engine.Execute(ctx, pipeline.Request{
		SessionID: *session,
		Code:      code,
		Token:     os.Getenv(cfg.TokenEnv()),
		Timeout:   *timeout,
		RemoteDir: *remoteDir,
	})

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Print(formatRunCLI(result))
	}

	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func formatRunCLI(r *pipeline.Result) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	if r.Output != "" {
		w("%s", r.Output)
		if r.Output[len(r.Output)-1] != '\n' {
			w("\n")
		}
	}
	if !r.Success && r.Stderr != "" {
		w("\n%s", r.Stderr)
		if r.Stderr[len(r.Stderr)-1] != '\n' {
			w("\n")
		}
	}
	w("\n%s\n", report.Summary(r))
	for _, f := range r.OutputFiles {
		w("  %-30s %8d  %s\n", f.Name, f.Size, f.MIMEType)
	}
	for _, warning := range r.Warnings {
		w("warning: %s: %s\n", warning.Path, warning.Err)
	}
	return string(b)
}

func readScript(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	return string(data), nil
}

// --- shared ---

func loadConfig(path string) (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}
	cfg, err := config.Load(wd, path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newStore returns the result store: an in-memory LRU in front of Redis
// when configured, otherwise in front of a temporary directory.
func newStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (report.Store, func(), error) {
	if addr := cfg.Results.Redis.Addr; addr != "" {
		rs := report.NewRedisStore(addr, cfg.ResultTTL())
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
		}
		logger.Infow("storing results in redis", "addr", addr, "ttl", cfg.ResultTTL())
		return report.NewLRUStore(cfg.CacheSize(), rs), func() { _ = rs.Close() }, nil
	}

	disk := report.NewDiskStore("")
	return report.NewLRUStore(cfg.CacheSize(), disk), func() {}, nil
}
