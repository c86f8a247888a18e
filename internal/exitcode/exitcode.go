package exitcode

import (
	"context"
	stderrors "errors"
	"os"

	"github.com/felixgeelhaar/revcompare/internal/errors"
)

// Exit codes, one per failure kind so CI can tell them apart
const (
	// Success indicates the run passed or was skipped by the gate
	Success = 0

	// GeneralError indicates an unclassified failure
	GeneralError = 1

	// ConfigError indicates invalid configuration, flags or directives
	ConfigError = 2

	// GateClosed indicates the pull request is not approved for runs
	GateClosed = 3

	// AcquisitionError indicates a source revision could not be materialized
	AcquisitionError = 10

	// OverrideError indicates the binding manifest could not be rewritten
	OverrideError = 11

	// BuildTestFailure indicates the binding failed to build or its tests failed
	BuildTestFailure = 12

	// BenchmarkError indicates the compare toolkit failed or wrote no report
	BenchmarkError = 13

	// HostError indicates the exclusive benchmark host could not be locked
	HostError = 14

	// PublishError indicates a report could not be published
	PublishError = 15

	// Cancelled indicates the run was interrupted (128 + SIGINT)
	Cancelled = 130
)

var byKind = map[errors.Kind]int{
	errors.KindConfiguration: ConfigError,
	errors.KindAcquisition:   AcquisitionError,
	errors.KindOverride:      OverrideError,
	errors.KindBuildTest:     BuildTestFailure,
	errors.KindBenchmark:     BenchmarkError,
	errors.KindHost:          HostError,
	errors.KindPublish:       PublishError,
}

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	Exit(DetermineExitCode(err))
}

// Coder is implemented by errors that carry their own exit code
type Coder interface {
	ExitCode() int
}

// DetermineExitCode maps an error to its exit code, preferring a code the
// error carries itself and otherwise its taxonomy kind.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}
	var c Coder
	if stderrors.As(err, &c) {
		return c.ExitCode()
	}
	if stderrors.Is(err, context.Canceled) {
		return Cancelled
	}
	if code, ok := byKind[errors.KindOf(err)]; ok {
		return code
	}
	return GeneralError
}

// FromStatus maps a run status to its exit code. Failure statuses carry
// the name of the error kind that ended the run.
func FromStatus(status string) int {
	switch status {
	case "success", "skipped":
		return Success
	case "cancelled":
		return Cancelled
	}
	if code, ok := byKind[errors.Kind(status)]; ok {
		return code
	}
	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case ConfigError:
		return "Configuration error"
	case GateClosed:
		return "Pull request not approved"
	case AcquisitionError:
		return "Source acquisition failed"
	case OverrideError:
		return "Manifest override failed"
	case BuildTestFailure:
		return "Build or test failed"
	case BenchmarkError:
		return "Benchmark comparison failed"
	case HostError:
		return "Benchmark host unavailable"
	case PublishError:
		return "Report publishing failed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown error"
	}
}
