// Package xerrors adds call-site information to errors so the logger can
// render where a failure was created or wrapped.
//
// Errors created with New/Newf carry a full stack. Wrap/Wrapf record only the
// PC of the wrapping call, which is enough to build an error_links chain.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the PCs captured when the error was created.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// wrapped prefixes an error with context and remembers the wrapping call site.
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error     { return w.err }
func (w *wrapped) PC() uintptr       { return w.pc }
func (w *wrapped) IsXerrorsWrapper() {}

// skip=0 starts at the caller of captureStack
func captureStack(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func withStackSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: captureStack(skip + 1)}
}

// New returns an error with msg and the caller's stack.
func New(msg string) error { return withStackSkip(errors.New(msg), 1) }

// Newf is New with fmt formatting. %w verbs are honored.
func Newf(format string, args ...any) error {
	return withStackSkip(fmt.Errorf(format, args...), 1)
}

// WithStack attaches the caller's stack to err unconditionally.
func WithStack(err error) error { return withStackSkip(err, 1) }

// EnsureTrace attaches a stack only when nothing in the chain has one yet.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return withStackSkip(err, 1)
}

// Wrap prefixes err with msg. Returns nil when err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with fmt formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// Is and As are re-exported so callers need only one errors import.
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
