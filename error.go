package ecudiag

import (
	"errors"
	"fmt"
	"time"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	if _, ok := err.(unrecoverableError); ok {
		return false
	}
	return true
}

// Channel and transport errors
var (
	ErrTimeout       = errors.New("timeout")
	ErrBufferEmpty   = errors.New("receive buffer empty")
	ErrBufferFull    = errors.New("transmit buffer full")
	ErrNotOpen       = errors.New("channel not open")
	ErrNotConfigured = errors.New("channel not configured")
	ErrDroppedFrame  = errors.New("adapter incoming channel full")
	ErrSequence      = errors.New("consecutive frame out of sequence")
	ErrOverflow      = errors.New("flow control overflow from receiver")
)

// Protocol and server errors
var (
	ErrNotSupported          = errors.New("operation not supported")
	ErrEmptyResponse         = errors.New("ECU did not respond")
	ErrWrongMessage          = errors.New("ECU response does not match request")
	ErrServerNotRunning      = errors.New("diagnostic server not running")
	ErrServerRunning         = errors.New("diagnostic server already running")
	ErrInvalidResponseLength = errors.New("ECU response has invalid length")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrCallbackExists        = errors.New("callback already registered")
)

// TimeoutError reports which wire operation timed out and the frame
// identifiers that were being waited on.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Frames  []uint32
}

func (e *TimeoutError) Error() string {
	if len(e.Frames) > 0 {
		return fmt.Sprintf("%s timeout (%s) for frame 0x%03X", e.Op, e.Timeout, e.Frames)
	}
	return fmt.Sprintf("%s timeout (%s)", e.Op, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ECUError is a decoded negative response. Code holds the raw NRC byte as
// sent by the ECU, Desc the dialect specific description.
type ECUError struct {
	Service byte
	Code    byte
	Desc    string
}

func (e *ECUError) Error() string {
	return fmt.Sprintf("ECU error for service 0x%02X: %s (0x%02X)", e.Service, e.Desc, e.Code)
}
