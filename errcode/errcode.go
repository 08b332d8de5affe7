package errcode

import "errors"

// Code is a stable error identifier shared by the touch service, its HAL
// bindings and the bus payloads.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK = Code("ok")

	// Null or invalid handle, out-of-range channel id, zero duration or
	// threshold, duplicate handler registration.
	InvalidArgument Code = "invalid_argument"
	// A new channel, group or timer could not be allocated.
	ResourceExhausted Code = "resource_exhausted"
	// The channel id is already registered.
	AlreadyInUse Code = "already_in_use"
	// An underlying HAL, timer or scheduling call failed.
	PlatformFailure Code = "platform_failure"

	Unsupported Code = "unsupported"
	Timeout     Code = "timeout"

	Error Code = "error" // generic fallback
)

// E keeps the operation, a message and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.X) match a wrapped *E by code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// New builds an *E for op with a code and message.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Wrap builds an *E carrying err as the cause. A nil err yields nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}

// MapPlatformErr maps an error returned by a HAL or timer binding to a Code.
// Errors that already carry a Code keep it.
func MapPlatformErr(err error) Code {
	if err == nil {
		return OK
	}
	if c := Of(err); c != Error {
		return c
	}
	return PlatformFailure
}
