package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error for halting and re-authentication logic.
type ErrorKind string

const (
	// ErrorKindConfiguration indicates required inputs are missing or invalid.
	// Fatal, never retried.
	ErrorKindConfiguration ErrorKind = "configuration"

	// ErrorKindAuthentication indicates the remote rejected the credentials.
	// Triggers re-negotiation or user re-entry, never a silent retry.
	ErrorKindAuthentication ErrorKind = "authentication"

	// ErrorKindTransientRemote indicates the remote was rate limited or overloaded
	// and the HTTP layer ran out of retries.
	ErrorKindTransientRemote ErrorKind = "transient_remote"

	// ErrorKindRemoteRequest indicates any other non-2xx response or transport failure.
	ErrorKindRemoteRequest ErrorKind = "remote_request"

	// ErrorKindTimeout indicates a polled remote operation never reached a terminal state.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindCycle indicates the step graph is not a DAG.
	ErrorKindCycle ErrorKind = "cycle"

	// ErrorKindMissingDependency indicates a step depends on an unregistered id.
	ErrorKindMissingDependency ErrorKind = "missing_dependency"

	// ErrorKindDuplicateStep indicates a step id was registered twice.
	ErrorKindDuplicateStep ErrorKind = "duplicate_step"

	// ErrorKindNotFound indicates a lookup by id or key found nothing.
	ErrorKindNotFound ErrorKind = "not_found"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the step ID that was executing, if applicable.
	Step string `json:"step,omitempty"`

	// StatusCode is the HTTP status of the remote response, if any.
	StatusCode int `json:"status_code,omitempty"`

	// Body is the raw remote response body, if any.
	Body string `json:"body,omitempty"`

	// URL is the request URL that produced the error, if any.
	URL string `json:"url,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// maxBodyInMessage bounds how much of a response body Error() prints.
const maxBodyInMessage = 500

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Step != "" {
		msg = fmt.Sprintf("[%s] step %s: %s", e.Kind, e.Step, e.Message)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status=%d", e.StatusCode)
		if e.URL != "" {
			msg += ", url=" + e.URL
		}
		msg += ")"
	}
	if e.Body != "" {
		body := e.Body
		if len(body) > maxBodyInMessage {
			body = body[:maxBodyInMessage]
		}
		msg += ": " + body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when their kinds match and, if the target sets one, their codes.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if t.Code != "" && e.Code != t.Code {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, message string, err error) *EngineError {
	return &EngineError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return newError(ErrorKindConfiguration, message, err)
}

// NewAuthenticationError creates a new authentication error.
func NewAuthenticationError(message string, err error) *EngineError {
	return newError(ErrorKindAuthentication, message, err)
}

// NewTransientRemoteError creates a new transient remote error.
func NewTransientRemoteError(message string, err error) *EngineError {
	return newError(ErrorKindTransientRemote, message, err)
}

// NewRemoteRequestError creates a new remote request error.
func NewRemoteRequestError(message string, err error) *EngineError {
	return newError(ErrorKindRemoteRequest, message, err)
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(message string, err error) *EngineError {
	return newError(ErrorKindTimeout, message, err).WithCode(ErrCodeTimeout)
}

// NewCycleError creates a new cycle error.
func NewCycleError(message string, err error) *EngineError {
	return newError(ErrorKindCycle, message, err).WithCode(ErrCodeValidation)
}

// NewMissingDependencyError creates a new missing dependency error.
func NewMissingDependencyError(message string, err error) *EngineError {
	return newError(ErrorKindMissingDependency, message, err).WithCode(ErrCodeValidation)
}

// NewDuplicateStepError creates a new duplicate step error.
func NewDuplicateStepError(message string, err error) *EngineError {
	return newError(ErrorKindDuplicateStep, message, err).WithCode(ErrCodeValidation)
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *EngineError {
	return newError(ErrorKindNotFound, message, err).WithCode(ErrCodeNotFound)
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(stepID string) *EngineError {
	e.Step = stepID
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithResponse attaches the remote response that caused the error.
func (e *EngineError) WithResponse(statusCode int, body, url string) *EngineError {
	e.StatusCode = statusCode
	e.Body = body
	e.URL = url
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func isKind(err error, kind ErrorKind) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool { return isKind(err, ErrorKindConfiguration) }

// IsAuthentication returns true if the remote rejected the credentials.
func IsAuthentication(err error) bool { return isKind(err, ErrorKindAuthentication) }

// IsTransientRemote returns true if the remote stayed rate limited or overloaded.
func IsTransientRemote(err error) bool { return isKind(err, ErrorKindTransientRemote) }

// IsRemoteRequest returns true if the remote returned a non-retryable failure.
func IsRemoteRequest(err error) bool { return isKind(err, ErrorKindRemoteRequest) }

// IsTimeout returns true if a polled operation ran out of attempts.
func IsTimeout(err error) bool { return isKind(err, ErrorKindTimeout) }

// IsCycle returns true if the step graph contains a cycle.
func IsCycle(err error) bool { return isKind(err, ErrorKindCycle) }

// IsMissingDependency returns true if a step references an unregistered dependency.
func IsMissingDependency(err error) bool { return isKind(err, ErrorKindMissingDependency) }

// IsDuplicateStep returns true if a step id was registered twice.
func IsDuplicateStep(err error) bool { return isKind(err, ErrorKindDuplicateStep) }

// IsNotFound returns true if a lookup found nothing.
func IsNotFound(err error) bool { return isKind(err, ErrorKindNotFound) }

// IsRetryable returns true if the error can be retried.
// Only transient remote errors are retryable, and only by the HTTP layer.
func IsRetryable(err error) bool {
	return IsTransientRemote(err)
}

// StatusCode returns the HTTP status attached to err, or 0 when there is none.
func StatusCode(err error) int {
	var e *EngineError
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// ResponseBody returns the remote response body attached to err, or "".
func ResponseBody(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Body
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeTerminalState    = "TERMINAL_STATE"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeStepPanicked     = "STEP_PANICKED"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
)
