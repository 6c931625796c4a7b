package invite

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"wechat-bridge/domain"
	"wechat-bridge/errors"
)

// Direction of a control message inside the handshake.
type Direction string

const (
	Invite       Direction = "INVITE"
	ReturnInvite Direction = "RETURN_INVITE"
)

// controlMarker prefixes every control payload so hidden messages that
// are not ours can be told apart cheaply.
const controlMarker = "uproxy-invite:"

// Control is the payload carried by a hidden message over the invite
// channel.
type Control struct {
	Direction Direction `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// EncodeControl renders a control message for the wire.
func EncodeControl(c Control) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return controlMarker + string(data), nil
}

// DecodeControl parses a hidden-message body. ok is false when the body
// is not an invite control at all; a body that claims to be one but does
// not parse returns ErrMalformedEvent.
func DecodeControl(body string) (Control, bool, error) {
	if !strings.HasPrefix(body, controlMarker) {
		return Control{}, false, nil
	}
	var c Control
	if err := json.Unmarshal([]byte(strings.TrimPrefix(body, controlMarker)), &c); err != nil {
		return Control{}, true, fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
	}
	if c.Direction != Invite && c.Direction != ReturnInvite {
		return Control{}, true, fmt.Errorf("%w: direction %q", errors.ErrMalformedEvent, c.Direction)
	}
	return c, true, nil
}

// channelNameLen keeps group names well under the protocol's rename
// limit while staying low-collision.
const channelNameLen = 24

// ChannelName derives the name of the private invite group for a pair
// of stable ids. Order independent: both sides derive the same name no
// matter who initiates.
func ChannelName(a, b domain.StableID) string {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	sum := blake2b.Sum256([]byte(string(lo) + "|" + string(hi)))
	return "up-" + hex.EncodeToString(sum[:])[:channelNameLen]
}
