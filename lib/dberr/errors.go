// Package dberr defines the error kinds reported by mapdb.
//
// Every error returned by the library that is not a plain context error is
// (or wraps) an *Error carrying one of the Ret codes below. Callers check the
// kind with errors.Is against the exported sentinels:
//
//	if errors.Is(err, dberr.ErrClosed) { ... }
//
// or extract the full error with errors.As to read the message and cause.
package dberr

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type Code uint64

const (
	CodeUnknown      Code = iota // 0: Unclassified failure.
	CodeStorageOpen              // 1: Database could not be opened (locked, unreadable, unsupported version).
	CodePersistence              // 2: A disk write or flush failed.
	CodeCorruptData              // 3: Checksum mismatch or malformed bytes.
	CodeFormat                   // 4: Unknown encoding version.
	CodeTypeMismatch             // 5: Map reopened with different key or value types.
	CodeClosed                   // 6: Operation after Close.
	CodeOutOfMemory              // 7: Memory budget exhausted.
)

// String returns the name of the code
func (c Code) String() string {
	switch c {
	case CodeStorageOpen:
		return "StorageOpenError"
	case CodePersistence:
		return "PersistenceError"
	case CodeCorruptData:
		return "CorruptDataError"
	case CodeFormat:
		return "FormatError"
	case CodeTypeMismatch:
		return "TypeMismatchError"
	case CodeClosed:
		return "ClosedError"
	case CodeOutOfMemory:
		return "OutOfMemoryError"
	default:
		return "UnknownError"
	}
}

// --------------------------------------------------------------------------
// Error type
// --------------------------------------------------------------------------

// Error wraps a return code, a message and an optional cause.
type Error struct {
	Code Code   // The kind of failure
	Msg  string // Human readable message
	Err  error  // Underlying cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Code.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code. This makes the
// sentinels below match any error of their kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Msg == "" && t.Err == nil
}

// New creates a new error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a new error with the given code that wraps err.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// --------------------------------------------------------------------------
// Sentinels
// --------------------------------------------------------------------------

var (
	ErrStorageOpen  = &Error{Code: CodeStorageOpen}
	ErrPersistence  = &Error{Code: CodePersistence}
	ErrCorruptData  = &Error{Code: CodeCorruptData}
	ErrFormat       = &Error{Code: CodeFormat}
	ErrTypeMismatch = &Error{Code: CodeTypeMismatch}
	ErrClosed       = &Error{Code: CodeClosed}
	ErrOutOfMemory  = &Error{Code: CodeOutOfMemory}
)
