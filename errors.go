package modesetting

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured driver error with context and errno
// mapping. Raw kernel errnos are classified here, at the submission and
// event-pump boundary, and never escape the package unwrapped.
type Error struct {
	Op     string        // Operation that failed (e.g., "QUEUE_VBLANK", "PAGE_FLIP")
	Screen int           // Screen index (-1 if not applicable)
	Crtc   uint32        // CRTC object id (0 if not applicable)
	Code   ErrorCode     // High-level error category
	Errno  syscall.Errno // Kernel errno (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Screen >= 0 {
		parts = append(parts, fmt.Sprintf("screen=%d", e.Screen))
	}
	if e.Crtc != 0 {
		parts = append(parts, fmt.Sprintf("crtc=%d", e.Crtc))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	if len(parts) > 0 {
		out := parts[0]
		for _, p := range parts[1:] {
			out += ", " + p
		}
		return fmt.Sprintf("modesetting: %s (%s)", msg, out)
	}
	return fmt.Sprintf("modesetting: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches structured errors and sentinels by code
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if se, ok := target.(sentinelError); ok {
		return e.Code == ErrorCode(se)
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeAllocation        ErrorCode = "queue entry allocation failed"
	ErrCodeDeviceOpen        ErrorCode = "device open failed"
	ErrCodeVblankUnsupported ErrorCode = "vblank not supported"
	ErrCodeFlipRejected      ErrorCode = "page flip rejected"
	ErrCodeDeviceLost        ErrorCode = "device lost"
	ErrCodeMalformedEvent    ErrorCode = "malformed event record"
	ErrCodePermissionDenied  ErrorCode = "permission denied"
	ErrCodeDeviceBusy        ErrorCode = "device busy"
)

// sentinelError allows errors.Is comparisons against bare codes
type sentinelError string

func (e sentinelError) Error() string {
	return "modesetting: " + string(e)
}

// Sentinel errors for the taxonomy callers branch on
const (
	ErrAllocation        sentinelError = sentinelError(ErrCodeAllocation)
	ErrDeviceOpen        sentinelError = sentinelError(ErrCodeDeviceOpen)
	ErrVblankUnsupported sentinelError = sentinelError(ErrCodeVblankUnsupported)
	ErrFlipRejected      sentinelError = sentinelError(ErrCodeFlipRejected)
	ErrDeviceLost        sentinelError = sentinelError(ErrCodeDeviceLost)
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		Screen: -1,
		Code:   code,
		Msg:    msg,
	}
}

// NewScreenError creates a new screen-scoped error
func NewScreenError(op string, screen int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		Screen: screen,
		Code:   code,
		Msg:    msg,
	}
}

// NewCrtcError creates a new CRTC-scoped error
func NewCrtcError(op string, screen int, crtc uint32, code ErrorCode, errno syscall.Errno) *Error {
	msg := string(code)
	if errno != 0 {
		msg = errno.Error()
	}
	return &Error{
		Op:     op,
		Screen: screen,
		Crtc:   crtc,
		Code:   code,
		Errno:  errno,
		Msg:    msg,
	}
}

// WrapError wraps an existing error with driver context, classifying
// bare errnos into the taxonomy.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if me, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			Screen: me.Screen,
			Crtc:   me.Crtc,
			Code:   me.Code,
			Errno:  me.Errno,
			Msg:    me.Msg,
			Inner:  me.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:     op,
			Screen: -1,
			Code:   mapErrnoToCode(errno),
			Errno:  errno,
			Msg:    errno.Error(),
			Inner:  inner,
		}
	}

	return &Error{
		Op:     op,
		Screen: -1,
		Code:   ErrCodeDeviceLost,
		Msg:    inner.Error(),
		Inner:  inner,
	}
}

// mapErrnoToCode maps a kernel errno to a driver error code
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV, syscall.ENXIO:
		return ErrCodeDeviceOpen
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL:
		return ErrCodeFlipRejected
	case syscall.ENOSYS, syscall.EOPNOTSUPP, syscall.ENOTTY:
		return ErrCodeVblankUnsupported
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeAllocation
	default:
		return ErrCodeDeviceLost
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Errno == errno
	}
	return false
}
