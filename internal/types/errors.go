package types

import (
	"errors"
	"fmt"
)

// ErrKind classifies shell-level failures.
type ErrKind int

const (
	ErrOther ErrKind = iota
	ErrParse
	ErrCommandNotFound
	ErrSyntax
	ErrIO
	ErrSignal
)

// String returns the taxonomy name.
func (k ErrKind) String() string {
	switch k {
	case ErrParse:
		return "parse"
	case ErrCommandNotFound:
		return "command_not_found"
	case ErrSyntax:
		return "syntax"
	case ErrIO:
		return "io"
	case ErrSignal:
		return "signal"
	default:
		return "other"
	}
}

// ShellError is the typed error surface for command and pipeline failures.
// A ShellError never aborts the shell process; it is rendered to the caller.
type ShellError struct {
	ErrKind ErrKind
	Message string
	Err     error
}

func (e *ShellError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ShellError) Unwrap() error { return e.Err }

// KindOf extracts the taxonomy kind of an error chain, ErrOther if untyped.
func KindOf(err error) ErrKind {
	var se *ShellError
	if errors.As(err, &se) {
		return se.ErrKind
	}
	return ErrOther
}

// Parsef reports malformed pipeline syntax.
func Parsef(format string, args ...any) *ShellError {
	return &ShellError{ErrKind: ErrParse, Message: fmt.Sprintf(format, args...)}
}

// CommandNotFound reports an unknown stage name.
func CommandNotFound(name string) *ShellError {
	return &ShellError{ErrKind: ErrCommandNotFound, Message: fmt.Sprintf("command not found: %s", name)}
}

// Syntaxf reports malformed command arguments.
func Syntaxf(format string, args ...any) *ShellError {
	return &ShellError{ErrKind: ErrSyntax, Message: fmt.Sprintf(format, args...)}
}

// IO wraps a descriptor, spawn, read or write failure.
func IO(msg string, err error) *ShellError {
	return &ShellError{ErrKind: ErrIO, Message: msg, Err: err}
}

// Signalf reports a failure delivering or decoding a signal or a
// process-state event.
func Signalf(format string, args ...any) *ShellError {
	return &ShellError{ErrKind: ErrSignal, Message: fmt.Sprintf(format, args...)}
}

// Otherf is the catch-all constructor.
func Otherf(format string, args ...any) *ShellError {
	return &ShellError{ErrKind: ErrOther, Message: fmt.Sprintf(format, args...)}
}

// NoSuchJob reports a job-control command against an unknown job id.
func NoSuchJob(spec string) *ShellError {
	return &ShellError{ErrKind: ErrOther, Message: fmt.Sprintf("no such job: %s", spec)}
}
