// Package errors provides a standard error definition for use in
// kale. Each error is assigned a class of error (kind) and an
// operation with optional arguments. Errors may be chained, and thus
// can be used to annotate upstream errors.
//
// Device compilation errors additionally carry the device compiler's
// diagnostic log, retrievable with Diagnostics.
//
// Package errors provides functions Errorf and New as convenience
// constructors, so that users need import only one error package.
//
// The API was inspired by package upspin.io/errors.
package errors

import (
	"bytes"
	goerrors "errors"
	"fmt"
	"runtime"

	"kale/pkg/log"
)

// Separator is inserted between chained errors while rendering.
// The default value (":\n\t") is intended for interactive tools. A
// server can set this to a different value to be more log friendly.
var Separator = ":\n\t"

// Kind denotes the type of the error. The error's kind is used to
// render the error message and also for interpretation: every kind
// except Other is recoverable at the session level.
type Kind int

const (
	// Other denotes an unknown error.
	Other Kind = iota
	// Syntax denotes a malformed-input error from the lexer or parser.
	Syntax
	// Semantic denotes an unknown name, an arity mismatch, or a type
	// mismatch in otherwise well-formed input.
	Semantic
	// Eval denotes a host evaluation failure, such as exceeding the
	// call depth or using a freed vector.
	Eval
	// Alloc denotes a host or device allocation failure.
	Alloc
	// DeviceCompile denotes a failure translating a kernel module into
	// a device binary. The error carries the compiler's diagnostic log.
	DeviceCompile
	// DeviceRuntime denotes a failure executing a kernel on the device.
	DeviceRuntime

	maxKind
)

// String renders a human-readable description of kind k.
func (k Kind) String() string {
	switch k {
	default:
		return "unknown error"
	case Syntax:
		return "syntax error"
	case Semantic:
		return "semantic error"
	case Eval:
		return "evaluation error"
	case Alloc:
		return "allocation failure"
	case DeviceCompile:
		return "device compilation failed"
	case DeviceRuntime:
		return "device execution failed"
	}
}

// Log is a diagnostic log attached to an error, one line per entry.
// The device compiler reports the reasons a module is not compilable
// through a Log argument to E.
type Log []string

// Error defines a kale error. It is used to indicate an error
// associated with an operation (and arguments), and may wrap another
// error.
//
// Errors should be constructed by errors.E.
type Error struct {
	// Kind is the error's type.
	Kind Kind
	// Op is a one-word description of the operation that errored.
	Op string
	// Arg is an (optional) list of arguments to the operation.
	Arg []string
	// Log is an (optional) diagnostic log detailing the error.
	Log Log
	// Err is this error's underlying error: this error is caused
	// by Err.
	Err error
}

// E is used to construct errors. E constructs errors from a set of
// arguments; each of which must be one of the following types:
//
//	string
//		The first string argument is taken as the error's Op; subsequent
//		arguments are taken as the error's Arg.
//	Kind
//		Taken as the error's Kind.
//	Log
//		Taken as the error's diagnostic log.
//	error
//		Taken as the error's underlying error.
//
// If no Kind is provided and the underlying error is another *Error,
// the Kind (and diagnostic log) are inherited from the *Error.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("no args")
	}
	e := new(Error)
	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			if e.Op == "" {
				e.Op = arg
			} else {
				e.Arg = append(e.Arg, arg)
			}
		case Kind:
			e.Kind = arg
		case Log:
			e.Log = arg
		case *Error:
			copy := *arg
			e.Err = &copy
		case error:
			e.Err = arg
		default:
			_, file, line, _ := runtime.Caller(1)
			log.Errorf("errors.E: bad call (type %T) from %s:%d: %v", arg, file, line, args)
			return Errorf("unknown type %T, value %v in error call", arg, arg)
		}
	}
	if e.Err == nil {
		return e
	}
	if prev, ok := e.Err.(*Error); ok {
		if prev.Kind == e.Kind {
			e.Kind = prev.Kind
			prev.Kind = Other
		} else if e.Kind == Other {
			e.Kind = prev.Kind
			prev.Kind = Other
		}
		if e.Log == nil {
			e.Log = prev.Log
			prev.Log = nil
		}
		if prev.Op == "" && prev.Kind == Other && prev.Log == nil {
			e.Err = prev.Err
		}
	}
	return e
}

func pad(b *bytes.Buffer, s string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(s)
}

// Error renders this error and its chain of underlying errors,
// separated by Separator.
func (e *Error) Error() string {
	return e.ErrorSeparator(Separator)
}

// ErrorSeparator renders this error and its chain of underlying
// errors, separated by sep.
func (e *Error) ErrorSeparator(sep string) string {
	if e == nil {
		return "<nil>"
	}
	b := new(bytes.Buffer)
	if e.Op != "" {
		b.WriteString(e.Op)
		for i := range e.Arg {
			b.WriteString(" " + e.Arg[i])
		}
	}
	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		if err, ok := e.Err.(*Error); ok {
			pad(b, sep)
			b.WriteString(err.ErrorSeparator(sep))
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	for _, line := range e.Log {
		pad(b, sep)
		b.WriteString(line)
	}
	return b.String()
}

// Unwrap returns this error's underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf is an alternate spelling of fmt.Errorf.
var Errorf = fmt.Errorf

// New is an alternate spelling of errors.New.
var New = goerrors.New

// Recover recovers any error into an *Error. If the passed-in error
// is already an *Error, it is simply returned; otherwise it is wrapped.
func Recover(err error) *Error {
	if err == nil {
		return nil
	}
	if err, ok := err.(*Error); ok {
		return err
	}
	return E(err).(*Error)
}

// Is tells whether an error has kind k. It walks the error's chain
// until a kind other than Other is found.
func Is(k Kind, err error) bool {
	if err == nil {
		return false
	}
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Kind != Other {
		return e.Kind == k
	}
	if e.Err != nil {
		return Is(k, e.Err)
	}
	return k == Other
}

// Recoverable tells whether the session may safely continue past
// error err. Language-level failures (syntax, semantic, evaluation,
// allocation, and both device kinds) discard only the offending form
// or map call; anything else indicates corrupt internal state.
func Recoverable(err error) bool {
	switch Recover(err).Kind {
	case Syntax, Semantic, Eval, Alloc, DeviceCompile, DeviceRuntime:
		return true
	default:
		return false
	}
}

// Diagnostics returns the first diagnostic log found along err's
// chain, or nil.
func Diagnostics(err error) []string {
	for err != nil {
		e, ok := err.(*Error)
		if !ok {
			return nil
		}
		if len(e.Log) > 0 {
			return e.Log
		}
		err = e.Err
	}
	return nil
}

// Match compares err1 with err2. If err1 has type Kind, Match
// reports whether err2's Kind is the same, otherwise, Match checks
// that every nonempty field in err1 has the same value in err2. If
// err1 is an *Error with a non-nil Err field, Match recurs to check
// that the two errors' chains of underlying errors also match.
func Match(err1 interface{}, err2 error) bool {
	e2 := Recover(err2)
	switch e1 := err1.(type) {
	default:
		return false
	case Kind:
		return e1 == e2.Kind
	case *Error:
		if e1.Op != "" && e2.Op != e1.Op {
			return false
		}
		if e1.Kind != Other && e2.Kind != e1.Kind {
			return false
		}
		if e1.Err != nil {
			if _, ok := e1.Err.(*Error); ok {
				return Match(e1.Err, e2.Err)
			}
			if e2.Err == nil || e2.Err.Error() != e1.Err.Error() {
				return false
			}
		}
		return true
	}
}
