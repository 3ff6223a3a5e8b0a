// Package errors provides standardized error handling for ChainBridge components.
// It includes error classification, domain sentinel errors, and helpers for
// consistent error wrapping across the token, ingestion, and routing layers.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BIGmindz/chainbridge/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input, state, or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Token framework errors. These carry the reason codes operators see:
	// callers and HTTP handlers distinguish them with errors.Is, never by
	// message matching.
	ErrInvalidTransition  = errors.New("transition not in state graph")
	ErrRelationValidation = errors.New("required token relation missing")
	ErrTokenValidation    = errors.New("required token metadata or proof missing")
	ErrTokenNotFound      = errors.New("token not found")
	ErrTerminalState      = errors.New("token is in a terminal state")

	// Ingestion security rejections. Always fail closed, never retried.
	ErrUnknownDevice    = errors.New("unknown device")
	ErrSignatureInvalid = errors.New("signature verification failed")
	ErrReplayDetected   = errors.New("replay detected: nonce not greater than watermark")

	// Event dispatch errors
	ErrDispatchFailed  = errors.New("event payload cannot be normalized")
	ErrUnknownEvent    = errors.New("event type could not be detected")
	ErrSchemaViolation = errors.New("event failed schema validation")

	// Connection and transport errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrPublishFailed     = errors.New("publish failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Routing errors
	ErrDeadLettered       = errors.New("event dead-lettered")
	ErrDuplicateEvent     = errors.New("duplicate event")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrPublishFailed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Fall back to message inspection for third-party errors
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"temporary",
		"unavailable",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input or state. All token
// validation failures and ingestion security rejections classify here: they
// are definitive and must never be retried by the framework.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrRelationValidation) ||
		errors.Is(err, ErrTokenValidation) ||
		errors.Is(err, ErrTerminalState) ||
		errors.Is(err, ErrUnknownDevice) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrReplayDetected) ||
		errors.Is(err, ErrDispatchFailed) ||
		errors.Is(err, ErrUnknownEvent) ||
		errors.Is(err, ErrSchemaViolation)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsSecurityRejection reports whether an error is one of the ingestion
// security rejections (unknown device, bad signature, replay). These surface
// to the caller as definitive rejections and are never retried.
func IsSecurityRejection(err error) bool {
	return errors.Is(err, ErrUnknownDevice) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrReplayDetected)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// ReasonCode returns the machine-readable reason code for an error so
// operators can distinguish a replay attack from a schema mismatch from an
// unmet business rule. Unknown errors map to "INTERNAL".
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrRelationValidation):
		return "RELATION_VALIDATION"
	case errors.Is(err, ErrTokenValidation):
		return "TOKEN_VALIDATION"
	case errors.Is(err, ErrTerminalState):
		return "TERMINAL_STATE"
	case errors.Is(err, ErrTokenNotFound):
		return "TOKEN_NOT_FOUND"
	case errors.Is(err, ErrUnknownDevice):
		return "UNKNOWN_DEVICE"
	case errors.Is(err, ErrSignatureInvalid):
		return "SIGNATURE_INVALID"
	case errors.Is(err, ErrReplayDetected):
		return "REPLAY_DETECTED"
	case errors.Is(err, ErrDispatchFailed):
		return "DISPATCH_FAILED"
	case errors.Is(err, ErrUnknownEvent):
		return "UNKNOWN_EVENT_TYPE"
	case errors.Is(err, ErrSchemaViolation):
		return "SCHEMA_VIOLATION"
	case errors.Is(err, ErrDuplicateEvent):
		return "DUPLICATE_EVENT"
	case errors.Is(err, ErrDeadLettered):
		return "DEAD_LETTERED"
	default:
		return "INTERNAL"
	}
}

// newClassified creates a new classified error.
// Internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// RetryConfig defines configuration for retry decisions based on error class
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a sensible default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ShouldRetry determines if an error should be retried based on config
func (rc RetryConfig) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= rc.MaxRetries {
		return false
	}
	return IsTransient(err)
}

// ToRetryConfig converts to the retry framework's Config type. MaxRetries
// counts additional attempts beyond the first, so the total is MaxRetries+1.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
