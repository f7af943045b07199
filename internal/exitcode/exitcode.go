package exitcode

import (
	"os"

	"github.com/felixgeelhaar/caretaker/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution or a graceful shutdown
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// ConfigError indicates invalid or unreadable configuration, or bad CLI usage
	ConfigError = 2
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}

	Exit(DetermineExitCode(err))
}

// DetermineExitCode maps an error to a process exit code using its error code.
// Only configuration errors are distinguished; repository and plugin failures
// never reach this point.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	if errors.IsCategory(err, "CONFIG") {
		return ConfigError
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
	default:
		return "Unknown error"
	}
}
