package candesc

import "fmt"

// Code enumerates the CAN codec error taxonomy.
type Code int

const (
	None Code = iota
	InvalidFrame
	UnsupportedFrameFormat
	Decoding
	Encoding
)

func (c Code) String() string {
	switch c {
	case None:
		return "none"
	case InvalidFrame:
		return "invalid frame"
	case UnsupportedFrameFormat:
		return "unsupported frame format"
	case Decoding:
		return "decoding"
	case Encoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// Error is the typed error carried by CAN codec operations.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("candesc: %s: %s", e.Code, e.Message)
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
