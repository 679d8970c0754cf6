package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded signals that a feature's window is exhausted.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrTransport signals a failed or non-success upstream stream.
	ErrTransport = errors.New("transport error")
	// ErrStreamIdle signals that the upstream stopped sending bytes.
	ErrStreamIdle = errors.New("stream idle timeout")
	// ErrInvalidScope signals a malformed client or unit identifier.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrInvalidFeature signals a malformed feature name.
	ErrInvalidFeature = errors.New("invalid feature")
	// ErrInvalidUsage signals a usage record that fails validation.
	ErrInvalidUsage = errors.New("invalid usage record")
	// ErrRecording signals a failure to persist a usage record.
	ErrRecording = errors.New("usage recording failed")
	// ErrUpstreamUnavailable signals that no upstream generator is configured or reachable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// TransportError carries the upstream status and message of a failed stream.
// StatusCode is zero for network failures that never produced a response.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("%s: upstream status %d: %s", ErrTransport.Error(), e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", ErrTransport.Error(), e.Err)
	default:
		return fmt.Sprintf("%s: %s", ErrTransport.Error(), e.Message)
	}
}

// Is matches ErrTransport so callers can errors.Is without unwrapping the cause.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a transport error for a non-success upstream status.
func NewTransportError(status int, message string) error {
	return &TransportError{StatusCode: status, Message: message}
}

// WrapTransport wraps a network or cancellation failure.
func WrapTransport(err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Message: err.Error(), Err: err}
}
