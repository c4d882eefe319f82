package vault

import (
	"errors"
	"fmt"
)

// Request errors. Each aborts the request with no partial effect.
var (
	// ErrTargetNotReached is returned when the price is below the vault target.
	ErrTargetNotReached = errors.New("target price not reached")

	// ErrUnauthorized is returned when the caller is not the vault owner.
	ErrUnauthorized = errors.New("unauthorized action")

	// ErrAlreadyExists is returned when a vault already exists for the owner.
	ErrAlreadyExists = errors.New("vault already exists")

	// ErrNotFound is returned when no vault exists for the owner.
	ErrNotFound = errors.New("vault not found")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Program error codes reported by the on-chain program.
const (
	CodeTargetNotReached = 6000
	CodeUnauthorized     = 6001
)

// ProgramCode returns the on-chain numeric code for err, or 0 if none applies.
func ProgramCode(err error) int {
	switch {
	case errors.Is(err, ErrTargetNotReached):
		return CodeTargetNotReached
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return 0
	}
}

// DecodeError reports a malformed vault record.
type DecodeError struct {
	Kind error
	Msg  string
}

// ErrMalformedRecord is the Kind of every DecodeError.
var ErrMalformedRecord = errors.New("malformed vault record")

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *DecodeError) Unwrap() error { return e.Kind }

func malformedf(format string, args ...any) error {
	return &DecodeError{Kind: ErrMalformedRecord, Msg: fmt.Sprintf(format, args...)}
}
