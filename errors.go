package iio

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

/*ErrorKind enumerates the abstract error kinds of the iiod wire protocol and
its transports. A Cancelled error is mapped to BadFileDescriptor on the wire
per the protocol's convention; Go callers see Cancelled directly.*/
type ErrorKind int

const (
	//Io is the catch-all: something went wrong at the transport layer that
	//does not map to a more specific kind below.
	Io ErrorKind = iota
	InvalidArgument
	AccessDenied
	NotFound
	NoDevice
	Busy
	Timeout
	BrokenPipe
	Interrupted
	OutOfMemory
	Unsupported
	Cancelled
	ProtocolViolation
	EndOfStream
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case AccessDenied:
		return "access denied"
	case NotFound:
		return "not found"
	case NoDevice:
		return "no device"
	case Busy:
		return "busy"
	case Timeout:
		return "timeout"
	case BrokenPipe:
		return "broken pipe"
	case Interrupted:
		return "interrupted"
	case OutOfMemory:
		return "out of memory"
	case Unsupported:
		return "unsupported"
	case Cancelled:
		return "cancelled"
	case ProtocolViolation:
		return "protocol violation"
	case EndOfStream:
		return "end of stream"
	default:
		return "io error"
	}
}

/*Error is the package's error type. It is always castable to net.Error, the
way every error returned by an IDoIO-shaped transport should be:
Timeout() reports ErrorKind == Timeout, Temporary() reports a small set of
kinds worth a caller retrying (Busy, Interrupted, Timeout).*/
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

var _ net.Error = (*Error)(nil)

func newErr(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

//Timeout conforms to net.Error.
func (e *Error) Timeout() bool { return e.Kind == Timeout }

//Temporary conforms to net.Error. Busy, Interrupted and Timeout are worth a
//caller retrying; everything else indicates a dead link or a programming
//error.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case Busy, Interrupted, Timeout:
		return true
	default:
		return false
	}
}

/*kindOf classifies a generic error from a transport into an ErrorKind: an
error whose cause is a net.Error reporting Timeout() maps to Timeout,
anything else to Io. Stalled endpoints and missing devices are not
recognised here; mapUSBErr and mapNetErr classify those.*/
func kindOf(err error) ErrorKind {
	if err == nil {
		return Io
	}
	if ne, ok := errors.Cause(err).(net.Error); ok && ne.Timeout() {
		return Timeout
	}
	return Io
}

//IsTimeout reports whether err is an Error of Kind Timeout. It panics on a
//nil error, matching IsTemporary/IsCancelled's contract.
func IsTimeout(err error) bool {
	return classify(err) == Timeout
}

//IsTemporary reports whether err is an Error whose Temporary() is true. It
//panics on a nil error.
func IsTemporary(err error) bool {
	if err == nil {
		panic("IsTemporary called with a nil error")
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Temporary()
	}
	if ne, ok := err.(net.Error); ok {
		return ne.Temporary()
	}
	return false
}

//IsCancelled reports whether err is an Error of Kind Cancelled. It panics on
//a nil error.
func IsCancelled(err error) bool {
	return classify(err) == Cancelled
}

func classify(err error) ErrorKind {
	if err == nil {
		panic("error classification called with a nil error")
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Io
}
