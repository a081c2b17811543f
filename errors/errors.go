// Package errors provides standardized error handling for StreamScope.
// It defines the error taxonomy shared by the cluster, resource and
// streaming subsystems, and helper functions for consistent wrapping
// and classification at the gateway boundary.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried,
	// such as receive timeouts or acknowledge failures inside a
	// streaming loop. Never surfaced across the gateway boundary.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorNotFound represents lookups of cluster, producer, consumer or
	// reader identifiers that are not registered
	ErrorNotFound
	// ErrorConflict represents operations that collide with existing
	// state, such as connecting an already-connected cluster
	ErrorConflict
	// ErrorUpstream represents failures reported by the broker admin API
	// or the messaging library; the upstream message is preserved verbatim
	ErrorUpstream
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorNotFound:
		return "not_found"
	case ErrorConflict:
		return "conflict"
	case ErrorUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Cluster registry errors
	ErrAlreadyConnected = errors.New("cluster already connected")
	ErrNotConnected     = errors.New("cluster not connected")

	// Resource registry errors
	ErrProducerNotFound = errors.New("producer not found")
	ErrConsumerNotFound = errors.New("consumer not found")
	ErrReaderNotFound   = errors.New("reader not found")

	// Streaming errors
	ErrStreamNotFound = errors.New("streaming consumer not found")
	ErrReceiveTimeout = errors.New("receive timed out")

	// Validation errors
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidTopic    = errors.New("invalid topic name")
	ErrMissingField    = errors.New("missing required field")

	// Lifecycle errors
	ErrShuttingDown = errors.New("manager is shutting down")
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

// IsTransient checks if an error is transient and may be retried in place
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrReceiveTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Fall back to message inspection for errors from the messaging
	// library that carry no sentinel.
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"timed out",
		"connection",
		"temporary",
		"unavailable",
		"busy",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsNotFound checks if an error refers to an unregistered identifier
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorNotFound
	}

	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrProducerNotFound) ||
		errors.Is(err, ErrConsumerNotFound) ||
		errors.Is(err, ErrReaderNotFound) ||
		errors.Is(err, ErrStreamNotFound)
}

// IsConflict checks if an error collides with existing state
func IsConflict(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorConflict
	}

	return errors.Is(err, ErrAlreadyConnected)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidTopic) ||
		errors.Is(err, ErrMissingField)
}

// IsUpstream checks if an error originated in the broker or admin API
func IsUpstream(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorUpstream
	}

	return false
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	switch {
	case IsNotFound(err):
		return ErrorNotFound
	case IsConflict(err):
		return ErrorConflict
	case IsInvalid(err):
		return ErrorInvalid
	case IsTransient(err):
		return ErrorTransient
	default:
		// Unknown errors crossed the collaborator boundary; treat them
		// as upstream so their message survives verbatim.
		return ErrorUpstream
	}
}

// newClassified creates a new classified error.
// Internal helper - use the Wrap* functions instead.
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

// WrapNotFound wraps an error as not-found with context
func WrapNotFound(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorNotFound, wrappedErr, component, method, wrappedErr.Error())
}

// WrapConflict wraps an error as a state conflict with context
func WrapConflict(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorConflict, wrappedErr, component, method, wrappedErr.Error())
}

// WrapUpstream wraps a broker or admin API failure. The upstream message
// is kept verbatim inside the wrapped chain for diagnostics.
func WrapUpstream(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorUpstream, wrappedErr, component, method, wrappedErr.Error())
}
