package kurobako

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// ErrorKind classifies the failures that can occur while running a study.
type ErrorKind int

const (
	// InvalidInput means a recipe, domain, or params violated a declared constraint.
	InvalidInput ErrorKind = iota

	// CapabilityMismatch means the solver cannot service the problem.
	CapabilityMismatch

	// Unevaluable means an evaluator returned no values or made no progress.
	// This is the only kind the runner recovers from locally.
	Unevaluable

	// ProtocolViolation means a peer sent an unexpected message variant,
	// skipped its spec cast, or reused an ID.
	ProtocolViolation

	// TransportClosed means a peer's pipe reached EOF before a framed message.
	TransportClosed

	// IOError means a read, write, or spawn failed, or framing was malformed.
	IOError

	// Bug means an internal invariant was violated.
	Bug

	// Other is the fallback classification for errors of unknown origin.
	Other
)

var errorKindNames = map[ErrorKind]string{
	InvalidInput:       "INVALID_INPUT",
	CapabilityMismatch: "CAPABILITY_MISMATCH",
	Unevaluable:        "UNEVALUABLE",
	ProtocolViolation:  "PROTOCOL_VIOLATION",
	TransportClosed:    "TRANSPORT_CLOSED",
	IOError:            "IO_ERROR",
	Bug:                "BUG",
	Other:              "OTHER",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a classified error. The wrapped cause carries a stack trace from
// its construction site, and message context accumulates as the error crosses
// component boundaries.
type Error struct {
	Kind ErrorKind
	Err  error
}

// NewError returns a new classified error with a stack trace.
func NewError(kind ErrorKind, message string) error {
	return &Error{Kind: kind, Err: errors.New(message)}
}

// NewErrorf returns a new classified error with a formatted message and a
// stack trace.
func NewErrorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// WrapError classifies err under kind and adds message context.
func WrapError(kind ErrorKind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.Wrap(err, message)}
}

// Wrap adds message context to err, preserving its existing classification.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Err: errors.Wrap(err, message)}
}

// Wrapf is like Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Err: errors.Wrapf(err, format, args...)}
}

// KindOf reports the classification of err. Unclassified I/O conditions map
// to TransportClosed (EOF) or Other.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return TransportClosed
	}
	return Other
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Format renders the full cause chain, including the stack trace of the
// innermost error under %+v.
func (e *Error) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "%s: %+v", e.Kind, e.Err)
			return
		}
		fallthrough
	case 's':
		io.WriteString(f, e.Error())
	case 'q':
		fmt.Fprintf(f, "%q", e.Error())
	}
}
