package output

import "errors"

// Error codes printed by labbot commands.
const (
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeConformanceFailed   = "CONFORMANCE_FAILED"
	ErrCodeBatchTimeout        = "BATCH_TIMEOUT"
	ErrCodeLosers              = "LOSERS_PRESENT"
	ErrCodeHistoryUnavailable  = "HISTORY_UNAVAILABLE"
	ErrCodeInvalidOutputFormat = "INVALID_OUTPUT_FORMAT"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeOperationFailed     = "OPERATION_FAILED"
)

// StructuredError is what a failed command prints: a code scripts can match
// on, the message, and optionally what to check and what to run next.
type StructuredError struct {
	Code            string                 `json:"code" yaml:"code"`
	Message         string                 `json:"message" yaml:"message"`
	Guidance        string                 `json:"guidance,omitempty" yaml:"guidance,omitempty"`
	RecoveryCommand string                 `json:"recovery_command,omitempty" yaml:"recovery_command,omitempty"`
	Context         map[string]interface{} `json:"context,omitempty" yaml:"context,omitempty"`
}

func (e StructuredError) Error() string {
	return e.Message
}

func NewStructuredError(code, message string) StructuredError {
	return StructuredError{Code: code, Message: message}
}

func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

func (e StructuredError) WithRecoveryCommand(cmd string) StructuredError {
	e.RecoveryCommand = cmd
	return e
}

// WithContext returns a copy of e with key set; e's own map is not modified.
func (e StructuredError) WithContext(key string, value interface{}) StructuredError {
	ctx := make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	e.Context = ctx
	return e
}

// FromError keeps a StructuredError found anywhere in err's chain, otherwise
// wraps err's message under code.
func FromError(err error, code string) StructuredError {
	var se StructuredError
	if errors.As(err, &se) {
		return se
	}
	return NewStructuredError(code, err.Error())
}
