package models

// ExecutionResult is the value returned by a background execution. It is
// created once per execution and immutable after creation; Payload and
// ErrorMessage are mutually exclusive.
type ExecutionResult struct {
	Success      bool   `json:"success"`
	Payload      string `json:"payload,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Usage        Usage  `json:"usage"`
}

// SucceededResult builds a successful ExecutionResult.
func SucceededResult(payload string, usage Usage) *ExecutionResult {
	return &ExecutionResult{Success: true, Payload: payload, Usage: usage}
}

// FailedResult builds a failed ExecutionResult carrying the error message.
func FailedResult(errMsg string, usage Usage) *ExecutionResult {
	return &ExecutionResult{Success: false, ErrorMessage: errMsg, Usage: usage}
}
