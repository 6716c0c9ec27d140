package domain

import "errors"

var (
	// ErrNoActiveToken signals that no usable grant exists for the
	// requested identity. Surfaced to callers as a not-found condition,
	// not a server fault.
	ErrNoActiveToken = errors.New("token: no active token")
	// ErrTokenNotFound signals a lookup by id that matched no row.
	ErrTokenNotFound = errors.New("token: not found")
	// ErrValidation indicates missing or malformed caller input.
	ErrValidation = errors.New("token: invalid request")
	// ErrCrypto indicates secret encryption or decryption failure. It is
	// fatal for the operation; the store never falls back to plaintext.
	ErrCrypto = errors.New("token: secret cipher failure")
	// ErrUserNotFound signals a local account lookup that matched no row.
	ErrUserNotFound = errors.New("user: not found")
	// ErrInvalidState indicates the authorization state is unknown or expired.
	ErrInvalidState = errors.New("token: invalid authorization state")
)
