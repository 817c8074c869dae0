// Package errs defines the closed set of error kinds from spec §7 and
// the two wrapping idioms carried from the teacher repo: pkg/errors in
// the log manager and FOP journal, juju/errors in the environment and
// recovery driver. Both wrap into the same Fault so callers can
// classify with Kind() regardless of which subsystem raised it.
package errs

import (
	"fmt"

	jujuerrors "github.com/juju/errors"
	pkgerrors "github.com/pkg/errors"
)

type Kind int

const (
	InvalidArgument Kind = iota
	NotFound
	Busy
	Deadlock
	Corruption
	IoError
	Panic
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case Busy:
		return "Busy"
	case Deadlock:
		return "Deadlock"
	case Corruption:
		return "Corruption"
	case IoError:
		return "IoError"
	case Panic:
		return "Panic"
	default:
		return "Unknown"
	}
}

// Fault is the concrete error type every public operation returns.
type Fault struct {
	kind    Kind
	message string
	cause   error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.kind, f.message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.kind, f.message)
}

func (f *Fault) Unwrap() error { return f.cause }

func (f *Fault) Kind() Kind { return f.kind }

// New builds a bare fault with no wrapped cause.
func New(kind Kind, message string) *Fault {
	return &Fault{kind: kind, message: message}
}

// Wrap uses pkg/errors to capture a stack trace alongside the kind,
// matching the teacher's server/innodb/engine package convention.
func Wrap(kind Kind, cause error, message string) *Fault {
	if cause == nil {
		return New(kind, message)
	}
	return &Fault{kind: kind, message: message, cause: pkgerrors.Wrap(cause, message)}
}

// Annotate uses juju/errors to annotate cause with a formatted message,
// matching the teacher's server/net and server/innodb/net convention,
// used along the environment open/recovery/close call chain.
func Annotate(kind Kind, cause error, format string, args ...interface{}) *Fault {
	if cause == nil {
		return New(kind, fmt.Sprintf(format, args...))
	}
	return &Fault{
		kind:    kind,
		message: fmt.Sprintf(format, args...),
		cause:   jujuerrors.Annotatef(cause, format, args...),
	}
}

// Is reports whether err is a Fault of the given kind.
func Is(err error, kind Kind) bool {
	f, ok := err.(*Fault)
	if !ok {
		return false
	}
	return f.kind == kind
}
