package auth

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies gateway failures so callers can branch without string
// matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindInvalidCredentials
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is the tagged error returned by Gateway implementations and by
// the explicit actions of a role context.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError builds an *Error.  cause may be nil.
func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err.  Context cancellation and deadline
// errors count as network failures; anything untagged is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	return KindUnknown
}

// IsKind reports whether err is tagged with k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

var errProfileNotFound = NewError(KindNotFound, "profile not found", nil)
