package main

import (
	"errors"
	"fmt"

	"github.com/health-apis/labbot/internal/cli/output"
	"github.com/health-apis/labbot/internal/config"
	"github.com/health-apis/labbot/internal/labbot"
	"github.com/health-apis/labbot/internal/oauth"
)

// Exit codes, so CI jobs can tell a broken environment from failing users

const (
	// ExitCodeSuccess indicates normal program termination
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates a generic error (default)
	ExitCodeGeneralError = 1

	// ExitCodeConfigError indicates configuration validation failed
	ExitCodeConfigError = 4

	// ExitCodeBatchTimeout indicates the batch timeout cut sessions short
	ExitCodeBatchTimeout = 5

	// ExitCodeConformanceError indicates the capability document could not be used
	ExitCodeConformanceError = 6

	// ExitCodeLosers indicates --fail-on-losers was set and some users lost
	ExitCodeLosers = 7
)

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodeConfigError:
		return "Configuration error"
	case ExitCodeBatchTimeout:
		return "Batch timed out"
	case ExitCodeConformanceError:
		return "Capability document error"
	case ExitCodeLosers:
		return "Some users failed"
	default:
		return "Unknown error"
	}
}

// losersError fails a run that produced losers.
type losersError struct {
	losers int
	total  int
}

func (e *losersError) Error() string {
	return fmt.Sprintf("%d of %d users failed", e.losers, e.total)
}

func exitCodeFor(err error) int {
	var (
		cfgErr    *config.ConfigError
		confErr   *oauth.ConformanceError
		losersErr *losersError
	)
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.As(err, &cfgErr):
		return ExitCodeConfigError
	case errors.As(err, &confErr):
		return ExitCodeConformanceError
	case errors.As(err, &losersErr):
		return ExitCodeLosers
	case errors.Is(err, labbot.ErrBatchTimeout):
		return ExitCodeBatchTimeout
	default:
		return ExitCodeGeneralError
	}
}

func structuredErrorFor(err error) output.StructuredError {
	var se output.StructuredError
	if errors.As(err, &se) {
		return se
	}

	code := exitCodeFor(err)
	var result output.StructuredError
	switch code {
	case ExitCodeConfigError:
		result = output.FromError(err, output.ErrCodeConfigInvalid).
			WithGuidance("Check the properties file and LABBOT_* environment variables").
			WithRecoveryCommand("labbot users -c " + configFile)
	case ExitCodeConformanceError:
		result = output.FromError(err, output.ErrCodeConformanceFailed).
			WithGuidance("The base URL must serve a capability document advertising the SMART oauth-uris extension").
			WithRecoveryCommand("labbot discover -c " + configFile)
	case ExitCodeBatchTimeout:
		result = output.FromError(err, output.ErrCodeBatchTimeout).
			WithGuidance("Raise labbot.batch-timeout or labbot.pool-size, or run fewer users")
	case ExitCodeLosers:
		result = output.FromError(err, output.ErrCodeLosers)
	default:
		result = output.FromError(err, output.ErrCodeOperationFailed)
	}
	return result.WithContext("exit_code", code).WithContext("exit_reason", exitCodeDescription(code))
}
