package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the trading gateway.
var (
	// Raised before any network activity when required settings are blank.
	ErrConfiguration = errors.New("configuration error")
	// The readiness wait ran out of time. Connect reports it as false, not as an error.
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrUnsupportedValue  = errors.New("unsupported value")
	ErrVenueRejected     = errors.New("rejected by venue")
	ErrNetworkFailure    = errors.New("network failure")

	ErrNotConnected  = errors.New("trading system not connected")
	ErrNotFound      = errors.New("not found")
	ErrInvalidOrder  = errors.New("invalid order")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConfigurationError lists the required settings that were missing or blank.
type ConfigurationError struct {
	Fields []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: missing required settings: %s", strings.Join(e.Fields, ", "))
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// UnsupportedValueError is returned when a caller supplies a value outside a recognized set.
type UnsupportedValueError struct {
	Kind      string
	Value     string
	Supported []string
}

func (e *UnsupportedValueError) Error() string {
	if len(e.Supported) == 0 {
		return fmt.Sprintf("unsupported %s: %q", e.Kind, e.Value)
	}
	return fmt.Sprintf("unsupported %s: %q (supported: %s)", e.Kind, e.Value, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedValueError) Unwrap() error {
	return ErrUnsupportedValue
}

// VenueError describes a failure reported by, or while talking to, the venue.
// Err is ErrVenueRejected or ErrNetworkFailure, optionally wrapping the cause.
type VenueError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *VenueError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// NewRejectedError wraps a venue refusal.
func NewRejectedError(op, code, message string) *VenueError {
	return &VenueError{Op: op, Code: code, Message: message, Err: ErrVenueRejected}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(op string, cause error) *VenueError {
	if cause == nil {
		cause = ErrNetworkFailure
	} else if !errors.Is(cause, ErrNetworkFailure) {
		cause = fmt.Errorf("%w: %w", ErrNetworkFailure, cause)
	}
	return &VenueError{Op: op, Err: cause}
}
