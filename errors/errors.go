package errors

import (
	"errors"
	"fmt"
)

var (
	ErrLoginInFlight      = fmt.Errorf("a login is already in flight")
	ErrNotLoggedIn        = fmt.Errorf("not logged in")
	ErrNotReady           = fmt.Errorf("session is not ready")
	ErrLoginRejected      = fmt.Errorf("login rejected")
	ErrSessionInvalid     = fmt.Errorf("session invalidated by server")
	ErrTransportTransient = fmt.Errorf("transient transport failure")
	ErrMalformedEvent     = fmt.Errorf("malformed event payload")
	ErrUnknownContact     = fmt.Errorf("contact is not known yet")
	ErrWorkerPanic        = fmt.Errorf("worker panic")
)

// TransportClass is the severity assigned to a transport error by the sync loop.
type TransportClass int

const (
	// Transient keeps the loop alive, the poll is reissued after a backoff.
	Transient TransportClass = iota
	// SessionInvalid means the server dropped the session ("wrong domain").
	// A re-handshake is required but the error is recoverable.
	SessionInvalid
	// Rejected is a definitive auth failure surfaced to the caller.
	Rejected
)

// ClassifyTransport maps an error returned by the web client to the class
// the sync loop and the login handshake act on. Anything not explicitly
// marked is treated as transient: losing one poll cycle is cheaper than
// tearing down a live session.
func ClassifyTransport(err error) TransportClass {
	switch {
	case errors.Is(err, ErrLoginRejected):
		return Rejected
	case errors.Is(err, ErrSessionInvalid):
		return SessionInvalid
	default:
		return Transient
	}
}
