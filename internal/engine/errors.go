package engine

import "errors"

var (
	// ErrNoAuth is returned by Run when IsLoggedOn reports false after
	// Authenticator.Logon, whether or not Logon returned an error.
	ErrNoAuth = errors.New("engine: not authenticated")
)
