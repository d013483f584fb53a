package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// Gateway failures. A query that hits one of these is treated as "no data"
	// by callers; an execute that hits one becomes a failed OrderResult.
	ErrTransport  = errors.New("transport failure")
	ErrHTTPStatus = errors.New("unexpected http status")
	ErrMalformed  = errors.New("malformed response")
	ErrNoData     = errors.New("no data")

	ErrEngineRunning = errors.New("engine already running")
	ErrEngineStopped = errors.New("engine not running")
	ErrNoSession     = errors.New("no session config")
	ErrInvalidConfig = errors.New("invalid session config")
)
