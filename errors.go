package smp

import (
	"errors"
	"fmt"
)

// Sentinel errors usable with errors.Is. Concrete error types below wrap one
// of these so callers can test the category without a type switch.
var (
	ErrTransportConnectionFailed = errors.New("smp: transport connection failed")
	ErrTransportWriteFailed      = errors.New("smp: transport write failed")
	ErrTransportReadFailed       = errors.New("smp: transport read failed")
	ErrTransportNotConnected     = errors.New("smp: transport not connected")

	ErrFraming           = errors.New("smp: framing error")
	ErrCBORDecode        = errors.New("smp: cbor decode error")
	ErrHeaderLenMismatch = errors.New("smp: header length mismatch")

	ErrBadSequence   = errors.New("smp: unexpected response sequence")
	ErrBadGroup      = errors.New("smp: unexpected response group")
	ErrBadCommand    = errors.New("smp: unexpected response command")
	ErrBadOperation  = errors.New("smp: unexpected response op")
	ErrBadReturnCode = errors.New("smp: response carried a non-zero return code")

	ErrTimeout = errors.New("smp: request timed out")

	ErrUpgradeUploadFailed  = errors.New("smp: upgrade upload failed")
	ErrUpgradeResetFailed   = errors.New("smp: upgrade reset failed")
	ErrUpgradeConfirmFailed = errors.New("smp: upgrade confirm failed")
	ErrUpgradeHashMismatch  = errors.New("smp: upgrade hash mismatch")
	ErrUpgradeDeadline      = errors.New("smp: upgrade deadline exceeded")
)

// TransportConnectionFailedError wraps the transport-specific connect error.
type TransportConnectionFailedError struct{ Cause error }

func (e *TransportConnectionFailedError) Error() string {
	return fmt.Sprintf("smp: connect failed: %s", e.Cause)
}
func (e *TransportConnectionFailedError) Unwrap() error { return ErrTransportConnectionFailed }
func (e *TransportConnectionFailedError) Cause0() error { return e.Cause }

// TransportWriteFailedError wraps a failed write to the underlying link.
type TransportWriteFailedError struct{ Cause error }

func (e *TransportWriteFailedError) Error() string {
	return fmt.Sprintf("smp: write failed: %s", e.Cause)
}
func (e *TransportWriteFailedError) Unwrap() error { return ErrTransportWriteFailed }

// TransportReadFailedError wraps a failed read from the underlying link.
type TransportReadFailedError struct{ Cause error }

func (e *TransportReadFailedError) Error() string {
	return fmt.Sprintf("smp: read failed: %s", e.Cause)
}
func (e *TransportReadFailedError) Unwrap() error { return ErrTransportReadFailed }

// FramingError reports serial-framing corruption (bad marker, CRC mismatch).
type FramingError struct{ Reason string }

func (e *FramingError) Error() string  { return fmt.Sprintf("smp: framing error: %s", e.Reason) }
func (e *FramingError) Unwrap() error  { return ErrFraming }
func NewFramingError(reason string) error {
	return &FramingError{Reason: reason}
}

// HeaderLengthMismatchError reports a header Length field that disagrees
// with the number of payload bytes actually present.
type HeaderLengthMismatchError struct {
	Declared uint16
	Actual   int
}

func (e *HeaderLengthMismatchError) Error() string {
	return fmt.Sprintf("smp: header length mismatch: declared=%d actual=%d", e.Declared, e.Actual)
}
func (e *HeaderLengthMismatchError) Unwrap() error { return ErrHeaderLenMismatch }

// SMPBadSequenceError is raised when a response's sequence does not match
// the request that was sent.
type SMPBadSequenceError struct{ Want, Got uint8 }

func (e *SMPBadSequenceError) Error() string {
	return fmt.Sprintf("smp: bad sequence: want=%d got=%d", e.Want, e.Got)
}
func (e *SMPBadSequenceError) Unwrap() error { return ErrBadSequence }

// SMPBadGroupError is raised when a response's group does not match the
// request's group.
type SMPBadGroupError struct{ Want, Got uint16 }

func (e *SMPBadGroupError) Error() string {
	return fmt.Sprintf("smp: bad group: want=%d got=%d", e.Want, e.Got)
}
func (e *SMPBadGroupError) Unwrap() error { return ErrBadGroup }

// SMPBadCommandError is raised when a response's command does not match the
// request's command.
type SMPBadCommandError struct{ Want, Got uint8 }

func (e *SMPBadCommandError) Error() string {
	return fmt.Sprintf("smp: bad command: want=%d got=%d", e.Want, e.Got)
}
func (e *SMPBadCommandError) Unwrap() error { return ErrBadCommand }

// SMPBadOperationError is raised when a response's op is not request.Op|1.
type SMPBadOperationError struct{ Want, Got uint8 }

func (e *SMPBadOperationError) Error() string {
	return fmt.Sprintf("smp: bad op: want=%d got=%d", e.Want, e.Got)
}
func (e *SMPBadOperationError) Unwrap() error { return ErrBadOperation }

// SMPBadReturnCodeError is raised when the decoded payload carries a non-
// zero "rc" (or an error group/code pair, in newer SMP revisions).
type SMPBadReturnCodeError struct {
	RC    int
	Group *uint16 // set when the payload used the err{group,rc} form
}

func (e *SMPBadReturnCodeError) Error() string {
	if e.Group != nil {
		return fmt.Sprintf("smp: bad return code: group=%d rc=%d", *e.Group, e.RC)
	}
	return fmt.Sprintf("smp: bad return code: rc=%d", e.RC)
}
func (e *SMPBadReturnCodeError) Unwrap() error { return ErrBadReturnCode }

// TooLarge reports whether the return code indicates the payload exceeded
// the device's acceptable chunk size (rc=8 in the legacy SMP error table, or
// group=0/rc=5 "too large" in the SMP v2 OS-management error table).
func (e *SMPBadReturnCodeError) TooLarge() bool {
	const legacyTooLarge = 8
	if e.Group == nil {
		return e.RC == legacyTooLarge
	}
	const mgmtTooLarge = 5
	return *e.Group == GroupOS && e.RC == mgmtTooLarge
}

// TimeoutError is raised when a request's completion sink does not fire
// before its deadline.
type TimeoutError struct{ Sequence uint8 }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("smp: timeout waiting for sequence %d", e.Sequence)
}
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Upgrade errors (§7.5).

type UpgradeUploadFailedError struct{ Cause error }

func (e *UpgradeUploadFailedError) Error() string {
	return fmt.Sprintf("smp: upgrade upload failed: %s", e.Cause)
}
func (e *UpgradeUploadFailedError) Unwrap() error { return ErrUpgradeUploadFailed }

type UpgradeResetFailedError struct{ Cause error }

func (e *UpgradeResetFailedError) Error() string {
	return fmt.Sprintf("smp: upgrade reset failed: %s", e.Cause)
}
func (e *UpgradeResetFailedError) Unwrap() error { return ErrUpgradeResetFailed }

type UpgradeConfirmFailedError struct{ Cause error }

func (e *UpgradeConfirmFailedError) Error() string {
	return fmt.Sprintf("smp: upgrade confirm failed: %s", e.Cause)
}
func (e *UpgradeConfirmFailedError) Unwrap() error { return ErrUpgradeConfirmFailed }

type UpgradeHashMismatchError struct{ Want, Got []byte }

func (e *UpgradeHashMismatchError) Error() string {
	return fmt.Sprintf("smp: upgrade hash mismatch: want=%x got=%x", e.Want, e.Got)
}
func (e *UpgradeHashMismatchError) Unwrap() error { return ErrUpgradeHashMismatch }

type UpgradeDeadlineExceededError struct{ Phase string }

func (e *UpgradeDeadlineExceededError) Error() string {
	return fmt.Sprintf("smp: upgrade deadline exceeded during %s", e.Phase)
}
func (e *UpgradeDeadlineExceededError) Unwrap() error { return ErrUpgradeDeadline }
