package mirrorsync

import "fmt"

// ErrorKind is the error taxonomy of spec.md §7. It is a classification,
// not a Go error type hierarchy: every mirrorsync.Error carries exactly one
// Kind plus enough context (Side, Path, wrapped cause) to be printed
// without the caller re-formatting, and errors.Wrap/Wrapf (the teacher's
// own idiom, used throughout bobg/bs) builds the causal chain underneath.
type ErrorKind int

const (
	ErrorUserInput ErrorKind = iota
	ErrorFilesystem
	ErrorProtocol
	ErrorTransport
	ErrorPolicy
	ErrorLaunch
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorUserInput:
		return "user-input"
	case ErrorFilesystem:
		return "filesystem"
	case ErrorProtocol:
		return "protocol"
	case ErrorTransport:
		return "transport"
	case ErrorPolicy:
		return "policy"
	case ErrorLaunch:
		return "launch"
	default:
		return "unknown"
	}
}

// Side identifies which endpoint an error occurred on.
type Side int

const (
	SideSource Side = iota
	SideDest
	SideNeither
)

func (s Side) String() string {
	switch s {
	case SideSource:
		return "source"
	case SideDest:
		return "dest"
	default:
		return "neither"
	}
}

// Error is the structured error value propagated out of every layer of
// mirrorsync. Filesystem errors are collected per-action into a result
// summary by the engine rather than aborting immediately; every other
// kind (UserInput, Protocol, Transport, Policy, Launch) aborts the current
// sync, per spec.md §7.
type Error struct {
	Kind  ErrorKind
	Side  Side
	Path  string
	Cause error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Side, e.Cause)
	}
	return fmt.Sprintf("%s error (%s, %s): %v", e.Kind, e.Side, e.Path, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsFatal reports whether errors of Kind k must abort the current sync
// rather than being collected into a result summary.
func (k ErrorKind) IsFatal() bool {
	switch k {
	case ErrorUserInput, ErrorProtocol, ErrorTransport, ErrorPolicy, ErrorLaunch:
		return true
	default:
		return false
	}
}
