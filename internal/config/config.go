// Package config loads and validates the optional .runbox YAML file.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory.
const FileName = ".runbox"

// Default values for execution and publishing.
const (
	DefaultSessionRoot    = "/tmp/runbox"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxTimeout     = 5 * time.Minute
	DefaultMaxOutput      = 1 << 20 // 1 MB
	DefaultPreviewLimit   = 10000   // bytes
	DefaultImageLimit     = 5 << 20 // 5 MB
	DefaultWorkers        = 4
	DefaultRuntime        = "singularity"
	DefaultInterpreter    = "python"
	DefaultWorkspaceURL   = "https://p3.theseed.org/services/Workspace"
	DefaultWorkspaceDir   = "CodeRuns"
	DefaultRequestTimeout = 30 * time.Second
	DefaultTokenEnv       = "KB_AUTH_TOKEN"
	DefaultCacheSize      = 32
	DefaultResultTTL      = 24 * time.Hour
	DefaultHTTPAddr       = "127.0.0.1:12011"
)

// DefaultIgnore lists artifact patterns that are interpreter noise, not output.
var DefaultIgnore = []string{"**/__pycache__/**", "**/.ipynb_checkpoints/**"}

// Config holds the parsed .runbox configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	RawSessionRoot    string          `yaml:"session_root"`
	CreateSessions    bool            `yaml:"create_sessions"` // create missing session directories instead of failing
	RawTimeout        string          `yaml:"timeout"`         // e.g. "30s"
	RawMaxTimeout     string          `yaml:"max_timeout"`
	RawMaxOutput      int             `yaml:"max_output"` // bytes, per stream
	RawValidateSyntax *bool           `yaml:"validate_syntax"`
	Runtime           RuntimeConfig   `yaml:"runtime"`
	Artifacts         ArtifactsConfig `yaml:"artifacts"`
	Workspace         WorkspaceConfig `yaml:"workspace"`
	Results           ResultsConfig   `yaml:"results"`
	Log               LogConfig       `yaml:"log"`
	HTTP              HTTPConfig      `yaml:"http"`
}

// RuntimeConfig selects the container runtime and what runs inside it.
type RuntimeConfig struct {
	Kind        string `yaml:"kind"`        // singularity, apptainer, docker, podman, bwrap
	Binary      string `yaml:"binary"`      // defaults to the kind name, resolved via PATH
	Image       string `yaml:"image"`       // .sif path or image reference
	Interpreter string `yaml:"interpreter"` // command run against the script inside the container
}

// ArtifactsConfig controls output file detection and description.
type ArtifactsConfig struct {
	RawPreviewLimit    int64    `yaml:"preview_limit"` // max bytes of text inlined as content
	RawIncludeContents *bool    `yaml:"include_contents"`
	IncludeImages      bool     `yaml:"include_images"` // inline small images as base64
	RawImageLimit      int64    `yaml:"image_limit"`
	RawWorkers         int      `yaml:"workers"`
	Ignore             []string `yaml:"ignore"` // doublestar globs relative to the run directory
}

// WorkspaceConfig controls where scripts and artifacts are published.
type WorkspaceConfig struct {
	Backend           string   `yaml:"backend"` // jsonrpc (default), s3 or none
	URL               string   `yaml:"url"`
	Folder            string   `yaml:"folder"` // under /<user>/home/
	RawRequestTimeout string   `yaml:"request_timeout"`
	TokenEnv          string   `yaml:"token_env"` // credential source for stdio mode
	S3                S3Config `yaml:"s3"`
}

// S3Config configures the S3 workspace backend.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// ResultsConfig controls where execution results are kept for get_run.
type ResultsConfig struct {
	RawCacheSize int         `yaml:"cache_size"`
	Redis        RedisConfig `yaml:"redis"`
}

// RedisConfig enables a shared Redis result store when Addr is set.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	RawTTL string `yaml:"ttl"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// HTTPConfig controls the streamable HTTP transport.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SessionRoot returns the base directory under which session directories live.
func (c *Config) SessionRoot() string {
	if c.RawSessionRoot != "" {
		return c.RawSessionRoot
	}
	return DefaultSessionRoot
}

// Timeout returns the configured default execution timeout or the default.
func (c *Config) Timeout() time.Duration {
	return parseDuration(c.RawTimeout, DefaultTimeout)
}

// MaxTimeout returns the upper bound for a caller-requested timeout.
func (c *Config) MaxTimeout() time.Duration {
	return parseDuration(c.RawMaxTimeout, DefaultMaxTimeout)
}

// EffectiveTimeout clamps a requested timeout into (0, MaxTimeout].
// Zero or negative requests use Timeout.
func (c *Config) EffectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = c.Timeout()
	}
	if max := c.MaxTimeout(); requested > max {
		return max
	}
	return requested
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// ValidateSyntax reports whether scripts are syntax-checked before running.
func (c *Config) ValidateSyntax() bool {
	if c.RawValidateSyntax != nil {
		return *c.RawValidateSyntax
	}
	return true
}

// RuntimeKind returns the configured runtime kind or the default.
func (c *Config) RuntimeKind() string {
	if c.Runtime.Kind != "" {
		return c.Runtime.Kind
	}
	return DefaultRuntime
}

// RuntimeBinary returns the runtime executable, defaulting to the kind name.
func (c *Config) RuntimeBinary() string {
	if c.Runtime.Binary != "" {
		return c.Runtime.Binary
	}
	return c.RuntimeKind()
}

// Interpreter returns the command run against the script.
func (c *Config) Interpreter() string {
	if c.Runtime.Interpreter != "" {
		return c.Runtime.Interpreter
	}
	return DefaultInterpreter
}

// PreviewLimit returns the text content ceiling in bytes.
func (c *Config) PreviewLimit() int64 {
	if c.Artifacts.RawPreviewLimit > 0 {
		return c.Artifacts.RawPreviewLimit
	}
	return DefaultPreviewLimit
}

// IncludeContents reports whether small text artifacts carry their content.
func (c *Config) IncludeContents() bool {
	if c.Artifacts.RawIncludeContents != nil {
		return *c.Artifacts.RawIncludeContents
	}
	return true
}

// ImageLimit returns the inline image ceiling in bytes.
func (c *Config) ImageLimit() int64 {
	if c.Artifacts.RawImageLimit > 0 {
		return c.Artifacts.RawImageLimit
	}
	return DefaultImageLimit
}

// Workers returns the metadata extraction concurrency.
func (c *Config) Workers() int {
	if c.Artifacts.RawWorkers > 0 {
		return c.Artifacts.RawWorkers
	}
	return DefaultWorkers
}

// IgnorePatterns returns the configured artifact ignore globs, falling back to defaults.
func (c *Config) IgnorePatterns() []string {
	if c.Artifacts.Ignore != nil {
		return c.Artifacts.Ignore
	}
	return DefaultIgnore
}

// WorkspaceBackend returns the publishing backend name.
func (c *Config) WorkspaceBackend() string {
	if c.Workspace.Backend != "" {
		return c.Workspace.Backend
	}
	return "jsonrpc"
}

// WorkspaceURL returns the JSON-RPC workspace service URL.
func (c *Config) WorkspaceURL() string {
	if c.Workspace.URL != "" {
		return c.Workspace.URL
	}
	return DefaultWorkspaceURL
}

// WorkspaceFolder returns the folder under the user's home that receives runs.
func (c *Config) WorkspaceFolder() string {
	if c.Workspace.Folder != "" {
		return c.Workspace.Folder
	}
	return DefaultWorkspaceDir
}

// RequestTimeout bounds each workspace HTTP request.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Workspace.RawRequestTimeout, DefaultRequestTimeout)
}

// TokenEnv returns the environment variable holding the stdio-mode credential.
func (c *Config) TokenEnv() string {
	if c.Workspace.TokenEnv != "" {
		return c.Workspace.TokenEnv
	}
	return DefaultTokenEnv
}

// CacheSize returns the in-memory result cache capacity.
func (c *Config) CacheSize() int {
	if c.Results.RawCacheSize > 0 {
		return c.Results.RawCacheSize
	}
	return DefaultCacheSize
}

// ResultTTL returns how long Redis keeps results.
func (c *Config) ResultTTL() time.Duration {
	return parseDuration(c.Results.Redis.RawTTL, DefaultResultTTL)
}

// HTTPAddr returns the listen address for the HTTP transport.
func (c *Config) HTTPAddr() string {
	if c.HTTP.Addr != "" {
		return c.HTTP.Addr
	}
	return DefaultHTTPAddr
}

// Validate rejects configurations that cannot work at all.
func (c *Config) Validate() error {
	switch c.RuntimeKind() {
	case "singularity", "apptainer", "docker", "podman":
		if c.Runtime.Image == "" {
			return fmt.Errorf("runtime.image is required for %s", c.RuntimeKind())
		}
	case "bwrap":
	default:
		return fmt.Errorf("unknown runtime kind %q", c.RuntimeKind())
	}
	switch c.WorkspaceBackend() {
	case "jsonrpc", "none":
	case "s3":
		if c.Workspace.S3.Bucket == "" {
			return fmt.Errorf("workspace.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown workspace backend %q", c.WorkspaceBackend())
	}
	return nil
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// Load reads configuration from path. If path is empty, the .runbox file
// in dir is used; a missing file yields a default Config. Environment
// overrides are applied last.
func Load(dir, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(dir, FileName)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("RUNBOX_SESSION_ROOT"); ok && v != "" {
		cfg.RawSessionRoot = v
	}
	if v, ok := lookup("RUNBOX_LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		host := "127.0.0.1"
		if cfg.HTTP.Addr != "" {
			if h, _, err := net.SplitHostPort(cfg.HTTP.Addr); err == nil {
				host = h
			}
		}
		cfg.HTTP.Addr = host + ":" + v
	}
}
