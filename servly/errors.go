package servly

import (
	"errors"

	"github.com/keksclan/goServly/internal/refresh"
)

var (
	// ErrSessionExpired wraps a failed token refresh after an auth status:
	// the request cannot be replayed and the caller should re-authenticate.
	ErrSessionExpired = errors.New("session expired")
	// ErrMockUnmatched is returned in strict mock mode for requests with no
	// registered mock.
	ErrMockUnmatched = errors.New("no mock registered for request")

	// ErrNoRefreshToken and ErrRefreshRejected surface the refresh
	// coordinator's failure modes.
	ErrNoRefreshToken  = refresh.ErrNoRefreshToken
	ErrRefreshRejected = refresh.ErrRefreshRejected
)
