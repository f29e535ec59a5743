// Package pkg holds small shared helpers: domain errors and the HTTP response
// envelope.
//
// Errors are plain sentinel values. Services wrap them with detail
// (fmt.Errorf("%w: ...", pkg.ErrNotAMember)) and callers match with errors.Is,
// so the wrapped chain survives every layer up to the handler.
package pkg

import "errors"

// Domain errors. Handlers translate them to HTTP status codes in response.go.
var (
	// ErrUnauthorized: the actor lacks the role or ownership an operation needs.
	// Never retried automatically.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnauthenticated: no verified identity on the request.
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrNotFound = errors.New("not found")

	// ErrAlreadyMember and ErrNotAMember are benign membership conflicts.
	// The caller may retry after refreshing the roster.
	ErrAlreadyMember = errors.New("already a member")
	ErrNotAMember    = errors.New("not a member")

	ErrInvalidContent = errors.New("invalid content")

	// ErrDeliveryTransient is internal to the fan-out bus. It is retried a
	// bounded number of times and then logged; it never reaches a caller.
	ErrDeliveryTransient = errors.New("delivery transient failure")

	ErrAlreadyExists = errors.New("already exists")
	ErrBadRequest    = errors.New("bad request")
	ErrRateLimited   = errors.New("rate limited")
	ErrInternal      = errors.New("internal error")
)
