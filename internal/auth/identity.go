package auth

import "errors"

// Identity is the authenticated user record carried inside a bearer token.
// It is immutable for the lifetime of a session.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ErrInvalidCredential is returned when a bearer token is malformed,
// expired, or signed with the wrong key.
var ErrInvalidCredential = errors.New("invalid credential")

// Verifier validates a bearer credential and extracts the identity it
// carries. Implementations must be pure: no side effects, same answer for
// the same token and key.
type Verifier interface {
	Verify(credential string) (Identity, error)
}
