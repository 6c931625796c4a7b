package domain

import "time"

// Phase is the login state machine position of the current Session.
type Phase string

const (
	Idle               Phase = "IDLE"
	AwaitingScan       Phase = "AWAITING_SCAN"
	SessionInit        Phase = "SESSION_INIT"
	ContactFetch       Phase = "CONTACT_FETCH"
	IdentityResolution Phase = "IDENTITY_RESOLUTION"
	Ready              Phase = "READY"
	Failed             Phase = "FAILED"
	LoggedOut          Phase = "LOGGED_OUT"
)

// SessionToken is the opaque credential the server hands out after init.
// It is owned exclusively by the session service.
type SessionToken string

// Challenge is the login challenge (QR payload) the caller must surface
// out-of-band for the user to scan.
type Challenge struct {
	ID       string
	QRData   string
	IssuedAt time.Time
}

// SessionPrecursor is the result of a confirmed scan, exchanged for a
// session token during init.
type SessionPrecursor struct {
	RedirectURI   string
	SelfSessionID SessionID
	// AlternateHost is set when the server redirected the handshake to
	// the alternate login domain.
	AlternateHost bool
}

// Session is one login attempt. Never reused: logout or an unrecoverable
// failure destroys it and the next login builds a fresh one.
type Session struct {
	SelfStableID  StableID
	SelfSessionID SessionID
	Token         SessionToken
	Precursor     SessionPrecursor
	Phase         Phase
	CreatedAt     time.Time
}

type LoginOptions struct {
	AgentName string `validate:"required"`
	// RememberLoginVariant keeps the alternate-host flag across sessions.
	RememberLoginVariant bool
}
