package pipeline

import (
	"errors"

	"github.com/deixis/runbox/internal/rundir"
	"github.com/deixis/runbox/internal/runner"
)

// ErrorType classifies a failed run for callers.
type ErrorType string

const (
	MissingParameter   ErrorType = "MissingParameter"
	ConfigurationError ErrorType = "ConfigurationError"
	TimeoutError       ErrorType = "TimeoutError"
	ExecutionError     ErrorType = "ExecutionError"
	SyntaxError        ErrorType = "SyntaxError"

	// UploadError tags failed records in Result.WorkspaceUpload; it never
	// becomes the run's own ErrorType.
	UploadError ErrorType = "UploadError"
)

// Error is a classified pipeline failure.
type Error struct {
	Type ErrorType
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Type)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(t ErrorType, err error) *Error {
	return &Error{Type: t, Msg: err.Error(), Err: err}
}

// buildError classifies a failure to create the run context.
func buildError(err error) *Error {
	var cfgErr *rundir.ConfigError
	switch {
	case errors.Is(err, rundir.ErrMissingSession), errors.Is(err, rundir.ErrInvalidSession):
		return newError(MissingParameter, err)
	case errors.As(err, &cfgErr):
		return newError(ConfigurationError, err)
	default:
		return newError(ExecutionError, err)
	}
}

// outcomeError classifies a finished sandbox process; nil means success.
func outcomeError(o *runner.Outcome) *Error {
	var t ErrorType
	switch o.Status {
	case runner.StatusSuccess:
		return nil
	case runner.StatusTimeout:
		t = TimeoutError
	case runner.StatusUnavailable:
		t = ConfigurationError
	default:
		t = ExecutionError
	}
	return &Error{Type: t, Msg: o.Message(), Err: o.Err}
}
