package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid     ErrorCode = "CONFIG-001"
	ErrCodeConfigNotFound    ErrorCode = "CONFIG-002"
	ErrCodeDirectiveInvalid  ErrorCode = "CONFIG-003"
	ErrCodeDirectiveUnknown  ErrorCode = "CONFIG-004"
	ErrCodeDirectiveConflict ErrorCode = "CONFIG-005"
	ErrCodeRevisionMissing   ErrorCode = "CONFIG-006"

	// Source acquisition errors (ACQ-001 to ACQ-099)
	ErrCodeAcquireRefNotFound ErrorCode = "ACQ-001"
	ErrCodeAcquireFetch       ErrorCode = "ACQ-002"
	ErrCodeAcquireSubmodules  ErrorCode = "ACQ-003"
	ErrCodeAcquireWorkspace   ErrorCode = "ACQ-004"

	// Dependency override errors (OVERRIDE-001 to OVERRIDE-099)
	ErrCodeOverrideManifestRead  ErrorCode = "OVERRIDE-001"
	ErrCodeOverrideShape         ErrorCode = "OVERRIDE-002"
	ErrCodeOverrideWrite         ErrorCode = "OVERRIDE-003"
	ErrCodeOverrideAlreadyLocal  ErrorCode = "OVERRIDE-004"
	ErrCodeOverrideVerifyFailure ErrorCode = "OVERRIDE-005"

	// Build & test errors (BUILD-001 to BUILD-099)
	ErrCodeBuildSetupFailed ErrorCode = "BUILD-001"
	ErrCodeBuildTestFailed  ErrorCode = "BUILD-002"
	ErrCodeBuildTimeout     ErrorCode = "BUILD-003"

	// Benchmark errors (BENCH-001 to BENCH-099)
	ErrCodeBenchStageAssets ErrorCode = "BENCH-001"
	ErrCodeBenchToolkit     ErrorCode = "BENCH-002"
	ErrCodeBenchNoReport    ErrorCode = "BENCH-003"

	// Publish errors (PUBLISH-001 to PUBLISH-099)
	ErrCodePublishComment  ErrorCode = "PUBLISH-001"
	ErrCodePublishArtifact ErrorCode = "PUBLISH-002"

	// Host ownership errors (HOST-001 to HOST-099)
	ErrCodeHostLockFailed ErrorCode = "HOST-001"

	// Subprocess errors (EXEC-001 to EXEC-099)
	ErrCodeExecDockerNotAvailable ErrorCode = "EXEC-001"
	ErrCodeExecStartFailed        ErrorCode = "EXEC-002"
	ErrCodeExecTimeout            ErrorCode = "EXEC-003"
)

// Kind groups error codes into the pipeline's failure taxonomy.
type Kind string

const (
	KindNone          Kind = ""
	KindConfiguration Kind = "ConfigurationError"
	KindAcquisition   Kind = "AcquisitionError"
	KindOverride      Kind = "OverrideError"
	KindBuildTest     Kind = "BuildTestFailure"
	KindBenchmark     Kind = "BenchmarkError"
	KindPublish       Kind = "PublishError"
	KindHost          Kind = "HostError"
	KindExec          Kind = "ExecError"
	KindUnknown       Kind = "UnknownError"
)

// Kind returns the taxonomy kind of the code, derived from its prefix.
func (c ErrorCode) Kind() Kind {
	prefix, _, _ := strings.Cut(string(c), "-")
	switch prefix {
	case "CONFIG":
		return KindConfiguration
	case "ACQ":
		return KindAcquisition
	case "OVERRIDE":
		return KindOverride
	case "BUILD":
		return KindBuildTest
	case "BENCH":
		return KindBenchmark
	case "PUBLISH":
		return KindPublish
	case "HOST":
		return KindHost
	case "EXEC":
		return KindExec
	default:
		return KindUnknown
	}
}

// PipelineError represents an enhanced error with code, suggestions, and documentation
type PipelineError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Kind returns the taxonomy kind of the error
func (e *PipelineError) Kind() Kind {
	return e.Code.Kind()
}

// New creates a new PipelineError
func New(code ErrorCode, message string) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new PipelineError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *PipelineError) WithSuggestion(suggestion string) *PipelineError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *PipelineError) WithSuggestions(suggestions ...string) *PipelineError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *PipelineError) WithDocs(url string) *PipelineError {
	e.DocsURL = url
	return e
}

// As finds the first PipelineError in err's chain.
func As(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf classifies err. The outermost PipelineError wins so that a stage
// wrapping a lower-level error keeps its own kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if pe, ok := As(err); ok {
		return pe.Kind()
	}
	return KindUnknown
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *PipelineError:
		if e.Code == code {
			return true
		}
		return Is(e.Cause, code)
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if Is(inner, code) {
				return true
			}
		}
		return false
	default:
		return Is(stderrors.Unwrap(err), code)
	}
}

// Common error constructors for frequently used errors

// NewConfigInvalidError creates a configuration validation error
func NewConfigInvalidError(details string) *PipelineError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", details)).
		WithSuggestion("Run 'revcompare config validate' to see the resolved configuration").
		WithSuggestion("Check revcompare.yaml against the documented sections")
}

// NewDirectiveInvalidError creates a malformed override directive error
func NewDirectiveInvalidError(line int, text string, reason string) *PipelineError {
	return New(ErrCodeDirectiveInvalid, fmt.Sprintf("malformed override directive on line %d (%q): %s", line, text, reason)).
		WithSuggestion("Directives use the form KEY=value with no spaces, one per line").
		WithSuggestion("Values must be a branch name, tag, or commit SHA")
}

// NewDirectiveUnknownError creates an error for a revision-like key nobody recognizes
func NewDirectiveUnknownError(line int, key string, known []string) *PipelineError {
	return New(ErrCodeDirectiveUnknown, fmt.Sprintf("unrecognized revision directive %s on line %d", key, line)).
		WithSuggestion(fmt.Sprintf("Recognized keys: %s", strings.Join(known, ", "))).
		WithSuggestion("Remove the line or fix the key spelling")
}

// NewAcquisitionError creates a source acquisition error for one slot
func NewAcquisitionError(code ErrorCode, slot, repo, ref string, cause error) *PipelineError {
	return Wrap(code, fmt.Sprintf("failed to materialize %s from %s at %s", slot, repo, ref), cause).
		WithSuggestion("Check that the ref exists on the remote").
		WithSuggestion("Verify network access and repository credentials on the host")
}

// NewOverrideShapeError creates an error for an unrecognized manifest dependency declaration
func NewOverrideShapeError(manifest, dependency, details string) *PipelineError {
	return New(ErrCodeOverrideShape, fmt.Sprintf("%s does not declare dependency %q in a recognized form: %s", manifest, dependency, details)).
		WithSuggestion(fmt.Sprintf("Declare the dependency inline under [dependencies], e.g. %s = { git = \"...\", rev = \"...\" }", dependency))
}

// NewBuildTestError creates a build/test failure for a script step
func NewBuildTestError(code ErrorCode, script string, exitCode int) *PipelineError {
	return New(code, fmt.Sprintf("%s exited with status %d", script, exitCode)).
		WithSuggestion("Inspect the step log stored with the run artifacts")
}

// NewBenchmarkError creates a comparison toolkit failure
func NewBenchmarkError(script string, exitCode int, cause error) *PipelineError {
	return Wrap(ErrCodeBenchToolkit, fmt.Sprintf("comparison toolkit %s exited with status %d", script, exitCode), cause).
		WithSuggestion("Check the raw benchmark logs attached to the pull request run")
}

// NewExecDockerNotAvailableError creates a Docker not available error
func NewExecDockerNotAvailableError() *PipelineError {
	return New(ErrCodeExecDockerNotAvailable, "Docker is not available").
		WithSuggestion("Install Docker Engine on the runner or set build_test.runner to local").
		WithSuggestion("Run 'docker version' to verify Docker installation").
		WithDocs("https://docs.docker.com/get-docker/")
}
