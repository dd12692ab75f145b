package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Join lifecycle
	ErrCodeMediaAccessDenied  ErrorCode = "MEDIA_ACCESS_DENIED"
	ErrCodeSessionUnavailable ErrorCode = "SESSION_UNAVAILABLE"
	ErrCodeJoinCancelled      ErrorCode = "JOIN_CANCELLED"
	ErrCodeAlreadyConnected   ErrorCode = "ALREADY_CONNECTED"
	ErrCodeNotConnected       ErrorCode = "NOT_CONNECTED"
	ErrCodeCaptureInUse       ErrorCode = "CAPTURE_IN_USE"

	// Steady-state signaling
	ErrCodeSignalingDelivery    ErrorCode = "SIGNALING_DELIVERY_FAILURE"
	ErrCodeTransportNegotiation ErrorCode = "TRANSPORT_NEGOTIATION_FAILURE"

	// Validation
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches any AppError carrying the same code, so callers can write
// errors.Is(err, apperrors.MediaAccessDenied(nil)).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func MediaAccessDenied(cause error) *AppError {
	return Wrap(ErrCodeMediaAccessDenied, "Microphone access denied or no capture device", cause)
}

func SessionUnavailable(cause error) *AppError {
	return Wrap(ErrCodeSessionUnavailable, "Voice session unavailable", cause)
}

func JoinCancelled() *AppError {
	return New(ErrCodeJoinCancelled, "Join cancelled")
}

func AlreadyConnected() *AppError {
	return New(ErrCodeAlreadyConnected, "Already connected or joining")
}

func NotConnected() *AppError {
	return New(ErrCodeNotConnected, "Not connected to a voice session")
}

func CaptureInUse(limit int) *AppError {
	return New(ErrCodeCaptureInUse, fmt.Sprintf("Capture device is shared by at most %d local user(s)", limit))
}

func SignalingDelivery(kind string, cause error) *AppError {
	return Wrap(ErrCodeSignalingDelivery, fmt.Sprintf("Failed to deliver %s signal", kind), cause)
}

func TransportNegotiation(remote string) *AppError {
	return New(ErrCodeTransportNegotiation, fmt.Sprintf("Peer connection with %s failed", remote))
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
