package relay

import "errors"

var (
	// ErrNotConfigured means no upstream credential is set; no upstream call is made.
	ErrNotConfigured = errors.New("upstream credential not configured")
	// ErrUpstream wraps failures reported by the generation API.
	ErrUpstream = errors.New("upstream call failed")
	// ErrInvalidRequest marks bodies that could not be decoded.
	ErrInvalidRequest = errors.New("invalid chat request")
)
