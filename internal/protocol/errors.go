package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure crossing the engine boundary. Raw
// protocol errors never leak to the caller; they are wrapped here.
type ErrorKind string

const (
	KindAuthentication         ErrorKind = "authentication"
	KindUnreachable            ErrorKind = "unreachable"
	KindRootFolderNotFound     ErrorKind = "root-folder-not-found"
	KindCancelled              ErrorKind = "cancelled"
	KindUnsupportedAccountKind ErrorKind = "unsupported-account-kind"
)

// Error is a structured failure with a machine-readable kind and a
// human-readable detail string.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and detail.
func NewError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the error kind, if err carries one.
func KindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
