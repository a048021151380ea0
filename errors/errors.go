// Package errors provides errors that carry a stack trace, a gRPC status code
// and an optional public message. It is derived from
// `github.com/go-errors/errors`.
//
// Errors created by this package can be used anywhere the builtin error
// interface is expected. Sentinel errors should be created with NewC and then
// marked at the point they are returned, so the stack trace points at the
// caller rather than the package initializer:
//
//	var ErrNotFound = errors.NewC("record not found", codes.NotFound)
//
//	func (s *store) Read(...) error {
//	    return errors.Mark(ErrNotFound, 0)
//	}
//
// Marked errors still satisfy errors.Is against the original sentinel.
package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// The maximum number of stackframes on any error.
var MaxStackDepth = 50

// Error is an error with an attached stacktrace and status code.
type Error struct {
	Err    error
	stack  []uintptr
	frames []StackFrame
	prefix string

	// gRPC status code to associate with the error.
	code codes.Code

	// Message that is safe to show to an end user.
	publicMessage string
}

// New makes an Error from the given value. If that value is already an
// error then it will be used directly, if not, it will be passed to
// fmt.Errorf("%v").
func New(e any) *Error {
	return newError(e, codes.Unknown, 1)
}

// NewC makes an Error with a status code defined.
func NewC(e any, code codes.Code) *Error {
	return newError(e, code, 1)
}

// Codef formats a new error with the given status code.
func Codef(code codes.Code, format string, a ...any) *Error {
	return newError(fmt.Errorf(format, a...), code, 1)
}

// Errorf creates a new error with the given message. It can be used as a
// drop-in replacement for fmt.Errorf() and supports %w.
func Errorf(format string, a ...any) *Error {
	err := newError(fmt.Errorf(format, a...), codes.Unknown, 1)
	// Inherit the code of a wrapped error, if there is one.
	for _, arg := range a {
		if e, ok := arg.(error); ok {
			if c := Code(e); c != codes.Unknown && c != codes.OK {
				err.code = c
				break
			}
		}
	}
	return err
}

func newError(e any, code codes.Code, skip int) *Error {
	var err error
	switch e := e.(type) {
	case error:
		err = e
	default:
		err = fmt.Errorf("%v", e)
	}
	return &Error{
		Err:   err,
		stack: callers(2 + skip),
		code:  code,
	}
}

// Wrap makes an Error from the given value. *Error values are returned as is.
// The skip parameter indicates how far up the stack to start the stacktrace.
// 0 is from the current call, 1 from its caller, etc.
func Wrap(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		return err
	}
	return newError(e, codes.Unknown, 1+skip)
}

// MaybeWrap wraps the error if it is non-nil and returns nil otherwise. Unlike
// Wrap it returns the error interface, so it is safe to return directly.
func MaybeWrap(e error, skip int) error {
	if e == nil {
		return nil
	}
	return Wrap(e, 1+skip)
}

// WrapPrefix wraps the error and adds a prefix to its message.
func WrapPrefix(e any, prefix string, skip int) *Error {
	if e == nil {
		return nil
	}
	err := Wrap(e, 1+skip)
	if err.prefix != "" {
		prefix = prefix + ": " + err.prefix
	}
	cp := *err
	cp.frames = nil
	cp.prefix = prefix
	return &cp
}

// Mark returns a copy of the error with the stack trace reset to the point
// Mark was called. Codes and messages are preserved.
func Mark(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		cp := *err
		cp.frames = nil
		cp.stack = callers(2 + skip)
		return &cp
	}
	return Wrap(e, 1+skip)
}

// WithCode wraps the error and sets its status code.
func WithCode(err error, code codes.Code) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithCode(code)
}

// WithPublicMessage wraps the error and sets a message suitable for end users.
func WithPublicMessage(err error, format string, a ...any) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithPublicMessage(fmt.Sprintf(format, a...))
}

// Error returns the underlying error's message, with the prefix if set.
func (err *Error) Error() string {
	msg := err.Err.Error()
	if err.prefix != "" {
		msg = err.prefix + ": " + msg
	}
	return msg
}

// Append adds detail to the end of the error message. It returns a copy so
// that sentinels are never mutated.
func (err *Error) Append(detail string) *Error {
	cp := *err
	cp.Err = fmt.Errorf("%w: %s", err.Err, detail)
	return &cp
}

// Unwrap the error (implements api for As function).
func (err *Error) Unwrap() error {
	return err.Err
}

// Is reports whether target is the same error, ignoring stack and prefix.
func (err *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t == err || stderrors.Is(err.Err, t.Err)
	}
	return false
}

// Code returns the gRPC status code associated with the error.
func (err *Error) Code() codes.Code {
	return err.code
}

// WithCode sets the status code associated with the error.
func (err *Error) WithCode(code codes.Code) *Error {
	err.code = code
	return err
}

// PublicMessage returns the message that should be shown to end users.
func (err *Error) PublicMessage() string {
	if err.publicMessage != "" {
		return err.publicMessage
	}
	return err.Error()
}

// WithPublicMessage sets the message that should be shown to end users.
func (err *Error) WithPublicMessage(msg string) *Error {
	err.publicMessage = msg
	return err
}

// GRPCStatus allows the error to be returned directly from a gRPC handler.
func (err *Error) GRPCStatus() *status.Status {
	return status.New(err.Code(), err.PublicMessage())
}

// Callers returns the raw program counters of the stack.
func (err *Error) Callers() []uintptr {
	return err.stack
}

// StackFrames returns the parsed frames of the stack.
func (err *Error) StackFrames() []StackFrame {
	if err.frames == nil {
		err.frames = make([]StackFrame, 0, len(err.stack))
		if len(err.stack) == 0 {
			return err.frames
		}
		// CallersFrames expands inlined calls.
		frames := runtime.CallersFrames(err.stack)
		for {
			f, more := frames.Next()
			err.frames = append(err.frames, frameFromRuntime(f))
			if !more {
				break
			}
		}
	}
	return err.frames
}

// Stack returns the callstack formatted the same way that go does in
// runtime/debug.Stack().
func (err *Error) Stack() []byte {
	buf := bytes.Buffer{}
	for _, frame := range err.StackFrames() {
		buf.WriteString(frame.String())
	}
	return buf.Bytes()
}

// ErrorStack returns the error message followed by the callstack.
func (err *Error) ErrorStack() string {
	return err.TypeName() + " " + err.Error() + "\n" + string(err.Stack())
}

// TypeName returns the type of the underlying error, e.g. *errors.errorString.
func (err *Error) TypeName() string {
	return reflect.TypeOf(err.Err).String()
}

// Code returns the status code for an error. nil errors are codes.OK, errors
// without a code in their chain are codes.Unknown.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var c codedError
	if As(err, &c) {
		return c.Code()
	}
	return codes.Unknown
}

type codedError interface {
	Code() codes.Code
}

func callers(skip int) []uintptr {
	stack := make([]uintptr, MaxStackDepth)
	length := runtime.Callers(1+skip, stack)
	return stack[:length]
}

// StackFrame contains the information for a single line of a stack trace.
type StackFrame struct {
	File           string
	LineNumber     int
	Name           string
	Package        string
	ProgramCounter uintptr
}

func frameFromRuntime(f runtime.Frame) StackFrame {
	frame := StackFrame{
		File:           f.File,
		LineNumber:     f.Line,
		ProgramCounter: f.PC,
	}
	frame.Package, frame.Name = packageAndName(f.Function)
	return frame
}

// String returns the stackframe formatted in the same way as go does in
// runtime/debug.Stack().
func (frame *StackFrame) String() string {
	return fmt.Sprintf("%s:%d (0x%x)\n\t%s\n", frame.File, frame.LineNumber, frame.ProgramCounter, frame.Name)
}

func packageAndName(name string) (string, string) {
	pkg := ""
	// The name includes the path name to the package, which is unnecessary
	// since the file name is already included. Plus, it has center dots.
	if lastslash := strings.LastIndex(name, "/"); lastslash >= 0 {
		pkg += name[:lastslash] + "/"
		name = name[lastslash+1:]
	}
	if period := strings.Index(name, "."); period >= 0 {
		pkg += name[:period]
		name = name[period+1:]
	}
	name = strings.ReplaceAll(name, "·", ".")
	return pkg, name
}
