package event

import (
	"time"

	"wechat-bridge/domain"
)

// Type names one notification emitted over the sink boundary. The names
// are part of the public contract with the host layer.
type Type string

const (
	PresenceChangedType     Type = "presence-changed"
	ProfileChangedType      Type = "profile-changed"
	MessageReceivedType     Type = "message-received"
	LoginChallengeReadyType Type = "login-challenge-ready"
	SyncFailedType          Type = "sync-failed"
)

// Notification is one unit delivered to the event sinks. Within one
// poll-cycle dispatch, delivery order matches generation order.
type Notification struct {
	Type    Type
	Payload any
	At      time.Time
}

type PresenceChanged struct {
	Record domain.PresenceRecord
}

type ProfileChanged struct {
	Profile domain.ProfileRecord
}

type MessageReceived struct {
	From    domain.PresenceRecord
	Message domain.Message
}

type LoginChallengeReady struct {
	Challenge domain.Challenge
}

// SyncFailed is the side-channel report for loop-internal failures that
// are not surfaced synchronously to any caller.
type SyncFailed struct {
	Reason    string
	Recovered bool
}

func New(t Type, payload any) Notification {
	return Notification{Type: t, Payload: payload, At: time.Now()}
}
