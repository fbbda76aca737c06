// Package vmerr provides the structured error type the VM raises and
// enriches as it unwinds, modeled on the teacher's errz package: an error
// kind enum plus a value carrying a source location and captured stack
// trace rather than a bare Go error string.
package vmerr

import (
	"fmt"
	"strings"
)

// Kind categorizes a VM error. These are exactly the kinds named in
// spec.md §7.
type Kind int

const (
	InvalidOperation Kind = iota
	UndefinedError
	UnknownFilter
	UnknownTest
	UnknownFunction
	UnknownBlock
	TemplateNotFound
	BadInclude
	EvalBlock
	CannotUnpack
	OutOfFuel
	RecursionLimit
)

func (k Kind) String() string {
	switch k {
	case InvalidOperation:
		return "invalid operation"
	case UndefinedError:
		return "undefined value"
	case UnknownFilter:
		return "unknown filter"
	case UnknownTest:
		return "unknown test"
	case UnknownFunction:
		return "unknown function"
	case UnknownBlock:
		return "unknown block"
	case TemplateNotFound:
		return "template not found"
	case BadInclude:
		return "bad include"
	case EvalBlock:
		return "error in block"
	case CannotUnpack:
		return "cannot unpack"
	case OutOfFuel:
		return "out of fuel"
	case RecursionLimit:
		return "recursion limit exceeded"
	default:
		return "error"
	}
}

// Location is the source position an error is attributed to.
type Location struct {
	Filename string
	Line     int
	Column   int
}

// IsZero reports whether the location carries no information.
func (l Location) IsZero() bool {
	return l == Location{}
}

func (l Location) String() string {
	if l.IsZero() {
		return ""
	}
	if l.Filename == "" {
		return fmt.Sprintf("%d:%d", l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d:%d", l.Filename, l.Line, l.Column)
}

// StackFrame is one entry in a captured call-stack trace.
type StackFrame struct {
	Function string
	Location Location
}

// Error is the structured error type produced by the VM. Errors propagate
// up the dispatch loop without silent recovery (spec.md §7); the VM
// enriches them with location information exactly once, at the boundary
// where they cross out of eval's loop. The VM does not attach a Stack.
type Error struct {
	Kind     Kind
	Message  string
	Location Location
	Stack    []StackFrame
	Cause    error
}

// New creates an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if loc := e.Location.String(); loc != "" {
		b.WriteString(" (")
		b.WriteString(loc)
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithLocation attaches a source location if one is not already set.
// Mirrors the "only attach location information if the error does not
// already have line info" rule in the original evaluator.
func (e *Error) WithLocation(loc Location) *Error {
	if e.Location.IsZero() {
		e.Location = loc
	}
	return e
}

// WithStack attaches a captured stack trace if one is not already set.
func (e *Error) WithStack(stack []StackFrame) *Error {
	if e.Stack == nil {
		e.Stack = stack
	}
	return e
}

// As reports whether err is (or wraps) a *vmerr.Error and, if so, returns it.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return nil, false
}

// FormatStackTrace renders a captured stack as human-readable text, most
// recent frame first.
func FormatStackTrace(frames []StackFrame) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("  at ")
		if f.Function != "" {
			b.WriteString(f.Function)
		} else {
			b.WriteString("<anonymous>")
		}
		if loc := f.Location.String(); loc != "" {
			b.WriteString(" (")
			b.WriteString(loc)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
