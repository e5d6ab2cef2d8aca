package rpc

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrTimeout          = errors.New("operation timeout")
	ErrClosed           = errors.New("client closed")
	ErrRetriesExhausted = errors.New("batch retries exhausted")
	ErrDuplicateID      = errors.New("id already pending")
	ErrAuth             = errors.New("authentication rejected")
)

// AuthError is a rejected login. It is fatal for the client: no reconnect
// is attempted and every later send returns it.
type AuthError struct {
	Reply *Error
}

func (e *AuthError) Error() string {
	if e.Reply == nil {
		return ErrAuth.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAuth, e.Reply)
}

// Is reports ErrAuth as a match.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}

// Unwrap returns the peer's error payload.
func (e *AuthError) Unwrap() error {
	if e.Reply == nil {
		return nil
	}
	return e.Reply
}

// transportError marks failures that a batch retry can recover from:
// dial failures and writes on a closed or broken socket.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransportError(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}
