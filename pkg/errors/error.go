package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Error carries an ErrorCode through the call chain. Message and Err stay
// server side; clients only ever see Code.Message().
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.Message()
	}
	if e.Err != nil && e.Err.Error() != msg {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the code's default message.
func New(code ErrorCode) *Error {
	return &Error{Code: code, Message: code.Message(), Stack: callers(2)}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Stack: callers(2)}
}

// Wrap attaches code to err. A nil err stays nil.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: code.Message(), Err: err, Stack: callers(2)}
}

// Wrapf attaches code and a formatted message to err. A nil err stays nil.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err, Stack: callers(2)}
}

// PublicMessage returns the fixed message for the code.
func (e *Error) PublicMessage() string {
	return e.Code.Message()
}

// LogFields describes the error for a zap log line.
func (e *Error) LogFields() []zap.Field {
	fields := []zap.Field{
		zap.Int("code", int(e.Code)),
		zap.String("error", e.Error()),
	}
	if e.Stack != "" {
		fields = append(fields, zap.String("stack", e.Stack))
	}
	return fields
}

// As finds the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the outermost *Error in err's chain,
// Success for nil and InternalServerError for plain errors.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the *Error in err's chain, wrapping plain errors as
// InternalServerError.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return &Error{Code: InternalServerError, Message: InternalServerError.Message(), Err: err, Stack: callers(2)}
}

// Is reports whether err carries code.
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

func callers(skip int) string {
	const maxDepth = 10
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	if n == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			break
		}
	}
	return b.String()
}
