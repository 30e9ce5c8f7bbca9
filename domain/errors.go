package domain

import "errors"

// Broker error kinds. Handlers classify with errors.Is; everything that is not
// one of these is treated as an internal error and not exposed to the caller.
var (
	// ErrNotFound covers unknown realms, providers, users and sessions.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned for an unknown, expired or already consumed
	// CSRF state token.
	ErrInvalidState = errors.New("invalid or expired auth state")

	// ErrInvalidRealm is returned when a session created for one realm is
	// presented under another.
	ErrInvalidRealm = errors.New("session does not belong to this realm")

	// ErrInvalidUser is returned when a directory search matches zero or more
	// than one entry for the supplied username.
	ErrInvalidUser = errors.New("invalid user")

	// ErrInvalidPassword is returned when the directory rejects the user bind.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrUpstreamUnavailable marks transport or timeout failures talking to an
	// external provider or directory.
	ErrUpstreamUnavailable = errors.New("upstream identity source unavailable")

	// ErrUpstreamRejected marks a reachable external system that returned an
	// error or denial.
	ErrUpstreamRejected = errors.New("upstream identity source rejected the request")

	// ErrInvalidToken covers every token verification failure: bad signature,
	// expired, malformed. Verification fails closed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrDuplicateLink signals a violation of the identity link uniqueness
	// invariants. Callers racing a first login re-read the winning link.
	ErrDuplicateLink = errors.New("identity link already exists")

	// ErrDuplicateUser signals an email collision during provisioning.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrInternal hides storage and invariant failures from callers.
	ErrInternal = errors.New("internal server error")
)
