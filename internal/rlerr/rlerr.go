// Package rlerr defines the error-kind taxonomy shared by every layer of
// ramalama-core: transports, the pull engine, the store, and the serve/engine
// planners all return one of these kinds so the outermost CLI caller (out of
// scope here) can map a failure to an exit code without inspecting strings.
package rlerr

import (
	"errors"
	"fmt"
	"syscall"
)

// exit codes for the numeric errno-flavored kinds specified in spec §6.
var (
	syscallENOENT = syscall.ENOENT
	syscallEINVAL = syscall.EINVAL
	syscallENOSYS = syscall.ENOSYS
	syscallEIO    = syscall.EIO
)

// Kind is one member of the error taxonomy from the design's error-handling section.
type Kind int

const (
	// KindUnknown is never returned deliberately; it exists so the zero value is not a real kind.
	KindUnknown Kind = iota
	KindNotFound
	KindAuthRequired
	KindTransient
	KindCorrupt
	KindEndianMismatch
	KindBadName
	KindNotSupported
	KindEngineMissing
	KindEngineFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAuthRequired:
		return "AuthRequired"
	case KindTransient:
		return "Transient"
	case KindCorrupt:
		return "Corrupt"
	case KindEndianMismatch:
		return "EndianMismatch"
	case KindBadName:
		return "BadName"
	case KindNotSupported:
		return "NotSupported"
	case KindEngineMissing:
		return "EngineMissing"
	case KindEngineFailure:
		return "EngineFailure"
	default:
		return "Unknown"
	}
}

// ExitCode maps a Kind to the process exit code from spec §6.
// EngineFailure has no fixed code: the caller should prefer the engine's own
// returncode when one is available (see Error.Returncode).
func (k Kind) ExitCode() int {
	switch k {
	case KindEndianMismatch:
		return 1
	case KindNotFound:
		return int(syscallENOENT)
	case KindBadName, KindTransient:
		return int(syscallEINVAL)
	case KindNotSupported:
		return int(syscallENOSYS)
	case KindEngineMissing:
		return int(syscallENOENT)
	case KindEngineFailure:
		return int(syscallEIO)
	case KindAuthRequired:
		return int(syscallEINVAL)
	default:
		return 1
	}
}

// Error is the concrete type every exported ramalama-core function returns on failure.
type Error struct {
	kind       Kind
	msg        string
	err        error
	Returncode int // set only for KindEngineFailure: the subprocess's own exit code, when known.
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error-taxonomy member this error represents.
func (e *Error) Kind() Kind { return e.kind }

// New constructs a Kind-tagged error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap constructs a Kind-tagged error wrapping an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, err: cause}
}

// WithReturncode attaches a subprocess exit code to an EngineFailure.
func WithReturncode(msg string, cause error, rc int) *Error {
	return &Error{kind: KindEngineFailure, msg: msg, err: cause, Returncode: rc}
}

// As reports whether err (or anything it wraps) is an *Error of the given kind.
func As(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}

// Of extracts the *Error from err via errors.As, returning (nil, false) if err is not one of ours.
func Of(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
