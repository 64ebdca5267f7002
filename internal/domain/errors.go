package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorKind classifies a failure independently of the upstream that produced it
type ErrorKind string

const (
	KindAuthentication     ErrorKind = "AUTHENTICATION_ERROR"
	KindRateLimit          ErrorKind = "RATE_LIMIT_EXCEEDED"
	KindTimeout            ErrorKind = "TIMEOUT"
	KindValidation         ErrorKind = "VALIDATION_ERROR"
	KindServiceUnavailable ErrorKind = "SERVICE_UNAVAILABLE"
	KindNormalization      ErrorKind = "NORMALIZATION_ERROR"
	KindReasoningParse     ErrorKind = "REASONING_PARSE_ERROR"
	KindCircuitOpen        ErrorKind = "CIRCUIT_OPEN"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindUpstream           ErrorKind = "UPSTREAM_ERROR"
	KindInternal           ErrorKind = "INTERNAL_ERROR"
)

// Upstream names used for limiter, breaker and cache partitioning
const (
	UpstreamTrials    = "trials"
	UpstreamReasoning = "reasoning"
)

// ErrNotFound is returned by repositories when a record does not exist
var ErrNotFound = errors.New("not found")

// ErrInsufficientReasoning marks a reasoning result with too few chain-of-thought steps
var ErrInsufficientReasoning = errors.New("insufficient reasoning depth")

// Retryable reports whether an error of this kind may succeed on a later attempt
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindServiceUnavailable:
		return true
	default:
		return false
	}
}

// TripsBreaker reports whether an error of this kind counts as an upstream health failure.
// Authentication, validation and parse failures mean the upstream answered.
func (k ErrorKind) TripsBreaker() bool {
	switch k {
	case KindServiceUnavailable, KindTimeout, KindUpstream:
		return true
	default:
		return false
	}
}

// UpstreamError is the single error type surfaced by both gateways.
// Err may carry raw transport detail and is never rendered by Error().
type UpstreamError struct {
	Kind       ErrorKind
	Upstream   string
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Attempts   int
	Context    map[string]string
	Err        error
}

// Error renders the error without upstream bodies or patient data
func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString(e.Upstream)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.Context[k])
		}
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is/As
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError creates an UpstreamError
func NewUpstreamError(kind ErrorKind, upstream, op string, cause error) *UpstreamError {
	return &UpstreamError{
		Kind:     kind,
		Upstream: upstream,
		Op:       op,
		Err:      cause,
	}
}

// WithContext attaches a non-sensitive key/value pair
func (e *UpstreamError) WithContext(key, value string) *UpstreamError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// AggregateError is returned when every candidate of a request failed
type AggregateError struct {
	Failures int
	ByKind   map[ErrorKind]int
}

// Error implements the error interface
func (e *AggregateError) Error() string {
	return fmt.Sprintf("all %d candidates failed: %s", e.Failures, e.Kind())
}

// Kind returns the shared kind when every failure agrees, else UPSTREAM_ERROR
func (e *AggregateError) Kind() ErrorKind {
	if len(e.ByKind) == 1 {
		for k := range e.ByKind {
			return k
		}
	}
	return KindUpstream
}

// ValidationError represents input validation errors. The offending value is not kept.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// KindOf classifies any error into the shared taxonomy
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Kind
	}
	var aggErr *AggregateError
	if errors.As(err, &aggErr) {
		return aggErr.Kind()
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return KindValidation
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}

// IsRetryable reports whether err may succeed on retry
func IsRetryable(err error) bool {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.Kind.Retryable()
	}
	return false
}

// RetryAfterOf returns the upstream-provided retry delay, if any
func RetryAfterOf(err error) time.Duration {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.RetryAfter
	}
	return 0
}

// APIError represents a standardized user-visible error body
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

var kindMessages = map[ErrorKind]string{
	KindAuthentication:     "upstream service rejected credentials",
	KindRateLimit:          "upstream rate limit exceeded",
	KindTimeout:            "request timed out",
	KindValidation:         "invalid request",
	KindServiceUnavailable: "upstream unavailable",
	KindNormalization:      "upstream returned malformed records",
	KindReasoningParse:     "reasoning service returned an unparseable response",
	KindCircuitOpen:        "upstream unavailable (circuit open)",
	KindNotFound:           "not found",
	KindUpstream:           "upstream error",
	KindInternal:           "internal error",
}

// APIErrorFrom builds a user-visible error from the kind only, never from raw error text.
// Validation errors keep their field name and message since they describe caller input.
func APIErrorFrom(err error, requestID string) *APIError {
	kind := KindOf(err)
	msg, ok := kindMessages[kind]
	if !ok {
		msg = kindMessages[KindInternal]
	}
	details := ""
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		details = valErr.Error()
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		details = upErr.Upstream
	}
	return NewAPIError(string(kind), msg, details, requestID)
}
