package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound   = fmt.Errorf("llm provider not found")
	ErrToolNotFound       = fmt.Errorf("tool not found")
	ErrToolFailure        = fmt.Errorf("tool execution failed")
	ErrMaxIterations      = fmt.Errorf("agent reached max iterations")
	ErrSessionNotFound    = fmt.Errorf("session not found")
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")
	ErrCommandDenied      = fmt.Errorf("command blocked by safety guard")
	ErrSSRFBlocked        = fmt.Errorf("request to private/reserved IP blocked")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrMemoryStore        = fmt.Errorf("memory store failed")
	ErrBusClosed          = fmt.Errorf("message bus closed")

	// Scheduler errors.
	ErrInvalidSchedule = fmt.Errorf("invalid schedule")
	ErrJobNotFound     = fmt.Errorf("cron job not found")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Tool.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
// The agent loop never retries; callers outside the loop may.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrContextOverflow)
}

// ErrorCode is a machine-parseable error category returned by the HTTP API.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
	CodeProviderNotFound   ErrorCode = "PROVIDER_NOT_FOUND"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure        ErrorCode = "TOOL_FAILURE"
	CodeMaxIterations      ErrorCode = "MAX_ITERATIONS"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodePathOutsideSandbox ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeCommandDenied      ErrorCode = "COMMAND_DENIED"
	CodeSSRFBlocked        ErrorCode = "SSRF_BLOCKED"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeMemoryStore        ErrorCode = "MEMORY_STORE"
	CodeBusClosed          ErrorCode = "BUS_CLOSED"
	CodeInvalidSchedule    ErrorCode = "INVALID_SCHEDULE"
	CodeJobNotFound        ErrorCode = "JOB_NOT_FOUND"
	CodeContextOverflow    ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:           CodeNotFound,
	ErrTimeout:            CodeTimeout,
	ErrInvalidInput:       CodeInvalidInput,
	ErrProviderError:      CodeProviderError,
	ErrProviderNotFound:   CodeProviderNotFound,
	ErrToolNotFound:       CodeToolNotFound,
	ErrToolFailure:        CodeToolFailure,
	ErrMaxIterations:      CodeMaxIterations,
	ErrSessionNotFound:    CodeSessionNotFound,
	ErrPathOutsideSandbox: CodePathOutsideSandbox,
	ErrCommandDenied:      CodeCommandDenied,
	ErrSSRFBlocked:        CodeSSRFBlocked,
	ErrConfigLoad:         CodeConfigLoad,
	ErrMemoryStore:        CodeMemoryStore,
	ErrBusClosed:          CodeBusClosed,
	ErrInvalidSchedule:    CodeInvalidSchedule,
	ErrJobNotFound:        CodeJobNotFound,
	ErrContextOverflow:    CodeContextOverflow,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
}

// codePriority lists sentinels whose codes win when an error chain matches
// more than one sentinel (e.g. a rate limit wrapped in a provider error).
var codePriority = []error{
	ErrRateLimit,
	ErrAuthInvalid,
	ErrContextOverflow,
	ErrPathOutsideSandbox,
	ErrCommandDenied,
	ErrSSRFBlocked,
	ErrInvalidSchedule,
	ErrJobNotFound,
	ErrToolNotFound,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
