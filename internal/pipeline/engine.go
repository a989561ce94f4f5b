// Package pipeline runs submitted code end to end: it prepares a run
// directory, executes the script in the sandbox, collects the files the
// run created and publishes them. It is consumed by both the MCP server
// and the CLI.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deixis/runbox/internal/artifact"
	"github.com/deixis/runbox/internal/bucket"
	"github.com/deixis/runbox/internal/config"
	"github.com/deixis/runbox/internal/rundir"
	"github.com/deixis/runbox/internal/runner"
	"github.com/deixis/runbox/internal/sandbox"
	"github.com/deixis/runbox/internal/snapshot"
	"github.com/deixis/runbox/internal/workspace"
)

// State names a pipeline stage. States are logged on entry.
type State string

const (
	StateBuilding    State = "building"
	StateScripting   State = "scripting"
	StateValidating  State = "validating"
	StatePreSnapshot State = "snapshotting-pre"
	StateExecuting   State = "executing"
	StatePostSnap    State = "snapshotting-post"
	StateExtracting  State = "extracting-metadata"
	StateUploading   State = "uploading"
	StateDone        State = "done"
)

// Skip reasons recorded in Result.WorkspaceUpload.
const (
	SkipNoCredential = "skipped: no credential supplied"
	SkipNoPublisher  = "skipped: workspace upload not configured"
	SkipNoUser       = "skipped: credential does not name a workspace user"
	SkipOutsideHome  = "skipped: workspace directory escapes the user's home"
)

// CommandRunner executes a host command line.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, dir string, timeout time.Duration) *runner.Outcome
}

// Engine holds shared dependencies for every run.
type Engine struct {
	Config    *config.Config
	Builder   *rundir.Builder
	Runtime   sandbox.Runtime
	Runner    CommandRunner
	Extractor *artifact.Extractor
	Publisher workspace.Publisher // nil disables uploads
	Logger    *zap.SugaredLogger
}

// New assembles an Engine from cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	rt, err := sandbox.New(cfg.RuntimeKind(), cfg.RuntimeBinary(), cfg.Runtime.Image)
	if err != nil {
		return nil, err
	}

	var pub workspace.Publisher
	switch cfg.WorkspaceBackend() {
	case "s3":
		s3cfg := cfg.Workspace.S3
		pub, err = bucket.New(ctx, s3cfg.Bucket, s3cfg.Prefix, s3cfg.Region, logger.Named("s3"))
		if err != nil {
			return nil, err
		}
	case "none":
	default:
		pub = &workspace.Uploader{
			URL:     cfg.WorkspaceURL(),
			Timeout: cfg.RequestTimeout(),
			Logger:  logger.Named("workspace"),
		}
	}

	return &Engine{
		Config:  cfg,
		Builder: &rundir.Builder{Base: cfg.SessionRoot(), CreateSessions: cfg.CreateSessions},
		Runtime: rt,
		Runner:  &runner.Runner{MaxOutput: cfg.MaxOutputBytes()},
		Extractor: &artifact.Extractor{
			PreviewLimit:    cfg.PreviewLimit(),
			IncludeContents: cfg.IncludeContents(),
			IncludeImages:   cfg.Artifacts.IncludeImages,
			ImageLimit:      cfg.ImageLimit(),
			Workers:         cfg.Workers(),
		},
		Publisher: pub,
		Logger:    logger,
	}, nil
}

// Execute runs req and always returns a Result. Setup failures end the
// run early with only the error fields set; failures of the process itself
// still go through artifact detection and upload.
func (e *Engine) Execute(ctx context.Context, req Request) (res *Result) {
	res = &Result{
		SessionID:   req.SessionID,
		OutputFiles: []artifact.Metadata{},
		CreatedAt:   time.Now().UTC(),
	}
	log := e.logger()
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("pipeline panic", "run", res.RunID, "panic", r, "stack", string(debug.Stack()))
			res.fail(&Error{Type: ExecutionError, Msg: fmt.Sprintf("unexpected error: %v", r)})
		}
	}()

	state := func(s State) { log.Debugw("pipeline state", "run", res.RunID, "state", s) }

	state(StateBuilding)
	if strings.TrimSpace(req.Code) == "" {
		res.fail(&Error{Type: MissingParameter, Msg: "code is required"})
		return res
	}
	rc, err := e.Builder.Build(req.SessionID)
	if err != nil {
		res.fail(buildError(err))
		return res
	}
	res.RunID, res.RunDir = rc.RunID, rc.RunDir
	log = log.With("run", rc.RunID, "session", rc.SessionID)

	state(StateScripting)
	if err := rundir.WriteScript(rc, req.Code); err != nil {
		res.fail(newError(ExecutionError, err))
		return res
	}

	if err := e.Runtime.Check(); err != nil {
		res.fail(newError(ConfigurationError, err))
		return res
	}
	argv, err := e.Runtime.Argv(sandbox.Spec{
		SessionRoot: rc.SessionRoot,
		RunDir:      rc.RunDir,
		Command:     sandbox.ScriptCommand(e.Config.Interpreter(), rc.ScriptPath),
	})
	if err != nil {
		res.fail(newError(ConfigurationError, err))
		return res
	}
	timeout := e.Config.EffectiveTimeout(req.Timeout)

	if e.Config.ValidateSyntax() && isPython(e.Config.Interpreter()) {
		state(StateValidating)
		if perr := e.validate(ctx, rc, timeout); perr != nil {
			res.fail(perr)
			return res
		}
	}

	state(StatePreSnapshot)
	before := snapshot.Walk(rc.RunDir)

	state(StateExecuting)
	out := e.Runner.Run(ctx, argv, rc.RunDir, timeout)
	res.Output = string(out.Stdout)
	res.Stderr = string(out.Stderr)
	res.ExitCode = out.ExitCode
	res.Truncated = out.Truncated
	res.ExecutionTime = out.Duration.Seconds()
	if perr := outcomeError(out); perr != nil {
		res.fail(perr)
		log.Infow("run failed", "status", out.Status, "exit_code", out.ExitCode, "duration", out.Duration)
		// An unavailable runtime is a configuration error: it fails before
		// the subprocess is spawned, so there is nothing on disk to report.
		if out.Status == runner.StatusUnavailable {
			return res
		}
	} else {
		res.Success = true
		log.Infow("run finished", "duration", out.Duration)
	}

	state(StatePostSnap)
	after := snapshot.Walk(rc.RunDir)
	created := snapshot.Diff(before, after, rc.ScriptPath)
	// Links created by the run may point anywhere on the host; only files
	// that resolve inside the run directory are described or uploaded.
	created = snapshot.Filter(created, snapshot.Normalize(rc.RunDir), e.Config.IgnorePatterns())
	res.Warnings = append(append(res.Warnings, before.Skipped...), after.Skipped...)

	state(StateExtracting)
	res.OutputFiles = e.Extractor.Extract(ctx, created)

	state(StateUploading)
	res.WorkspaceUpload = e.upload(ctx, req, rc, created)

	state(StateDone)
	return res
}

// upload publishes the script followed by the artifacts in sorted order.
func (e *Engine) upload(ctx context.Context, req Request, rc *rundir.RunContext, artifacts []string) *workspace.BatchResult {
	if req.Token == "" {
		return workspace.Skipped(SkipNoCredential)
	}
	if e.Publisher == nil {
		return workspace.Skipped(SkipNoPublisher)
	}
	remoteDir, err := e.remoteDir(req, rc)
	switch {
	case errors.Is(err, errOutsideHome):
		return workspace.Skipped(SkipOutsideHome)
	case err != nil:
		return workspace.Skipped(SkipNoUser)
	}

	files := make([]workspace.File, 0, len(artifacts)+1)
	if fi, err := os.Lstat(rc.ScriptPath); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		e.logger().Warnw("script replaced by a link, not uploading it", "run", rc.RunID)
	} else {
		files = append(files, workspace.File{Local: rc.ScriptPath, Name: rundir.ScriptName})
	}
	root := snapshot.Normalize(rc.RunDir)
	for _, p := range artifacts {
		name := filepath.Base(p)
		if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
			name = filepath.ToSlash(rel)
		}
		files = append(files, workspace.File{Local: p, Name: name})
	}

	batch := e.Publisher.Publish(ctx, req.Token, remoteDir, files)
	for i := range batch.Files {
		if !batch.Files[i].Success {
			batch.Files[i].ErrorType = string(UploadError)
		}
	}
	if !batch.Success {
		e.logger().Warnw("workspace upload incomplete", "run", rc.RunID, "failed", batch.Failed, "total", batch.TotalFiles)
	}
	return batch
}

var (
	errNoUser      = errors.New("no workspace user in credential")
	errOutsideHome = errors.New("workspace directory escapes the user's home")
)

// remoteDir resolves the upload destination. An absolute RemoteDir is
// used as given; a relative one is placed under the user's home.
func (e *Engine) remoteDir(req Request, rc *rundir.RunContext) (string, error) {
	if path.IsAbs(req.RemoteDir) {
		return path.Clean(req.RemoteDir), nil
	}
	user := workspace.UserFromToken(req.Token)
	if user == "" {
		return "", errNoUser
	}
	if req.RemoteDir != "" {
		rel := path.Clean(req.RemoteDir)
		if rel == ".." || strings.HasPrefix(rel, "../") {
			return "", errOutsideHome
		}
		return path.Join("/", user, "home", rel), nil
	}
	return workspace.RemoteDir(user, e.Config.WorkspaceFolder(), rc.SessionID, rc.RunID), nil
}

func (e *Engine) logger() *zap.SugaredLogger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop().Sugar()
}
