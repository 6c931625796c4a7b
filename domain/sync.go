package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind is the wire-level message type. Hidden messages are not
// rendered by the regular chat clients and carry invite control payloads.
type MessageKind string

const (
	TextMessage   MessageKind = "TEXT"
	HiddenMessage MessageKind = "HIDDEN"
)

// Message is a chat message as seen by this side, incoming or outgoing.
type Message struct {
	ID      uuid.UUID
	From    SessionID
	To      SessionID
	Kind    MessageKind
	Content string
	At      time.Time
}

// RawMessage is the outgoing shape handed to the web client.
type RawMessage struct {
	Kind      MessageKind
	Content   string
	Recipient SessionID
}

type SyncEventKind string

const (
	MessageEvent       SyncEventKind = "MESSAGE"
	PresenceDeltaEvent SyncEventKind = "PRESENCE_DELTA"
	GroupMetadataEvent SyncEventKind = "GROUP_METADATA"
	IdentityBatchEvent SyncEventKind = "IDENTITY_BATCH"
	AvatarEvent        SyncEventKind = "AVATAR"
)

// SyncEvent is one event delivered by a long-poll cycle. Exactly one of
// the payload fields is set, selected by Kind.
type SyncEvent struct {
	Kind     SyncEventKind
	Message  *Message
	Presence *PresenceDelta
	Group    *RawContact
	Identity map[SessionID]StableID
	Avatar   *AvatarPayload
}

type PresenceDelta struct {
	SessionID SessionID
	Status    Status
}

// AvatarPayload carries icon data for a contact. It always arrives after
// the roster entry, sometimes before the identity of the contact resolved.
type AvatarPayload struct {
	SessionID SessionID
	URL       string
	ImageData string
}

// EventBatch is what one long-poll cycle returns. Events must be
// dispatched in slice order.
type EventBatch struct {
	Events []SyncEvent
}
