package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for ring operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Per-message errors, recovered locally
	ErrCodeDecode        ErrorCode = 1000
	ErrCodeSelfJoin      ErrorCode = 1001
	ErrCodeSend          ErrorCode = 1002
	ErrCodeChannelClosed ErrorCode = 1003

	// Startup errors, fatal
	ErrCodeBind          ErrorCode = 2000
	ErrCodeInvalidConfig ErrorCode = 2001

	// Outer shell
	ErrCodeInternal    ErrorCode = 3000
	ErrCodeUnavailable ErrorCode = 3001
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeDecode:
		return "DecodeError"
	case ErrCodeSelfJoin:
		return "SelfJoinError"
	case ErrCodeSend:
		return "SendError"
	case ErrCodeChannelClosed:
		return "ChannelClosedError"
	case ErrCodeBind:
		return "BindError"
	case ErrCodeInvalidConfig:
		return "InvalidConfig"
	case ErrCodeUnavailable:
		return "Unavailable"
	default:
		return "Internal"
	}
}

// RingError represents a structured error with code and context
type RingError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *RingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *RingError) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the error must terminate the process
func (e *RingError) Fatal() bool {
	return e.Code == ErrCodeBind || e.Code == ErrCodeInvalidConfig
}

// ToGRPCStatus converts RingError to gRPC status
func (e *RingError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *RingError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeDecode, ErrCodeInvalidConfig:
		return codes.InvalidArgument
	case ErrCodeSelfJoin:
		return codes.AlreadyExists
	case ErrCodeUnavailable, ErrCodeChannelClosed, ErrCodeSend:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewRingError creates a new RingError
func NewRingError(code ErrorCode, message string, cause error) *RingError {
	return &RingError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *RingError) WithDetail(key string, value interface{}) *RingError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func BindFailed(addr string, cause error) *RingError {
	return NewRingError(ErrCodeBind, fmt.Sprintf("failed to bind udp socket on %s", addr), cause).
		WithDetail("address", addr)
}

func DecodeFailed(input, reason string) *RingError {
	return NewRingError(ErrCodeDecode, fmt.Sprintf("malformed message %q: %s", truncate(input, 64), reason), nil).
		WithDetail("reason", reason)
}

func DecodeFailedWithCause(input, reason string, cause error) *RingError {
	err := DecodeFailed(input, reason)
	err.Cause = cause
	return err
}

func SelfJoin(addr string, hash uint64) *RingError {
	return NewRingError(ErrCodeSelfJoin, fmt.Sprintf("join of %s targets the local hash %016x", addr, hash), nil).
		WithDetail("address", addr).
		WithDetail("hash", hash)
}

func SendFailed(to, payload string, cause error) *RingError {
	return NewRingError(ErrCodeSend, fmt.Sprintf("failed to send %q to %s", payload, to), cause).
		WithDetail("to", to).
		WithDetail("payload", payload)
}

func ChannelClosed() *RingError {
	return NewRingError(ErrCodeChannelClosed, "listener channel closed", nil)
}

func InvalidConfig(message string, cause error) *RingError {
	return NewRingError(ErrCodeInvalidConfig, message, cause)
}

func InternalError(message string, cause error) *RingError {
	return NewRingError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *RingError {
	return NewRingError(ErrCodeUnavailable, message, cause)
}

// IsRingError checks if an error is or wraps a RingError
func IsRingError(err error) bool {
	var re *RingError
	return stderrors.As(err, &re)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var re *RingError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ErrCodeInternal
}

// Is reports whether err is or wraps a RingError with the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
