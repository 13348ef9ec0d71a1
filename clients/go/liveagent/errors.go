package liveagent

import (
	"errors"
	"fmt"
)

var (
	// ErrInactiveSession is returned by operations that need an active session.
	ErrInactiveSession = errors.New("chat session is not active")
	// ErrNotPending is returned by Cancel outside the pending state.
	ErrNotPending = errors.New("chat session is not pending")
	// ErrEmptyMessage is returned when sending blank text.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrConnectivity is surfaced once the poller gives up after repeated failures.
	ErrConnectivity = errors.New("lost connection to live chat")
	// ErrRecordNotFound is returned by a Backend when a key holds no value.
	ErrRecordNotFound = errors.New("record not found")
)

// TransportError is a transient failure: the request never produced a 2xx response.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a well-formed response that reported success=false.
type ProtocolError struct {
	Op      string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return e.Op + ": request rejected"
	}
	return e.Op + ": " + e.Message
}

// IsProtocolError reports whether err is, or wraps, a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
