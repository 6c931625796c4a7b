package domain

import "time"

type Status string

const (
	Online         Status = "ONLINE"
	OnlineOtherApp Status = "ONLINE_WITH_OTHER_APP"
	Offline        Status = "OFFLINE"
)

// PresenceRecord tracks what we believe about one session identifier.
// StableID stays empty until the identity batch resolving it arrives.
type PresenceRecord struct {
	StableID    StableID
	SessionID   SessionID
	Status      Status
	LastUpdated time.Time
	LastSeen    time.Time
}

// ProfileRecord is the durable-identity view of a contact. Records are
// mutated in place once created so references handed out stay valid.
type ProfileRecord struct {
	StableID    StableID
	DisplayName string
	AvatarURL   string
	ImageData   string
	LastUpdated time.Time
}

// RawContact is one entry of the roster returned by the contact fetch,
// or announced later through a group-metadata event. Only the session
// identifier is known at this point.
type RawContact struct {
	SessionID   SessionID
	DisplayName string
	AvatarPath  string
}
