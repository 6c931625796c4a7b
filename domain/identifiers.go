package domain

import "strings"

// StableID is the protocol's persistent identifier for a user or a
// chat-group. It survives across login sessions.
type StableID string

// SessionID is the identifier the server assigns for the current login
// session only. It is the addressing key for sending, and it changes on
// every re-login.
type SessionID string

// The web protocol reserves this prefix for chat-group identifiers.
const groupIDPrefix = "@@"

func (s SessionID) IsGroup() bool {
	return strings.HasPrefix(string(s), groupIDPrefix)
}
