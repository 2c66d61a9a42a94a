package errs

import "fmt"

// Kind classifies an error for callers that need to distinguish
// caller mistakes from business-rule rejections and storage faults.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindNotFound
	KindOutOfRange
	KindInsufficientBalance
	KindConflict
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindOutOfRange:
		return "out_of_range"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage_failure"
	default:
		return "unknown"
	}
}

// Error carries a machine-readable kind and a human-readable message.
// Internal causes are wrapped for logging and never exposed in Msg.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so errors.Is(err, errs.ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrOutOfRange          = &Error{Kind: KindOutOfRange}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrStorage             = &Error{Kind: KindStorage}
)

func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func OutOfRange(format string, args ...any) *Error {
	return &Error{Kind: KindOutOfRange, Msg: fmt.Sprintf(format, args...)}
}

func InsufficientBalance(format string, args ...any) *Error {
	return &Error{Kind: KindInsufficientBalance, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Storage wraps a storage fault. The message shown to callers stays generic,
// the cause is kept for logs.
func Storage(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindStorage, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf extracts the kind from any error produced by this package,
// unwrapping as needed. Unrecognized errors report KindUnknown.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
