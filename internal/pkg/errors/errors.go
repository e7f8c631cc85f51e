// Package errors holds the sentinel errors shared by storage, the read API and auth.
// Callers wrap them with detail and match with errors.Is.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Invalid reports a malformed caller input such as a bad hash, query or limit.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the missing key.
func NotFound(what, key string) error {
	return fmt.Errorf("%s %s: %w", what, key, ErrNotFound)
}

// Unauthorized wraps ErrUnauthorized with the rejection reason.
func Unauthorized(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
}
