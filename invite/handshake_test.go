package invite

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wechat-bridge/errors"
)

func Test_ChannelName_Is_Order_Independent(t *testing.T) {
	req := require.New(t)

	ab := ChannelName("U1", "U2")
	ba := ChannelName("U2", "U1")

	req.Equal(ab, ba)
	req.NotEqual(ab, ChannelName("U1", "U3"))
	req.Len(ab, len("up-")+channelNameLen)
}

func Test_Control_Roundtrip(t *testing.T) {
	req := require.New(t)

	stamp := time.Now().UTC().Truncate(time.Millisecond)
	body, err := EncodeControl(Control{Direction: Invite, Timestamp: stamp})
	req.NoError(err)

	control, isControl, err := DecodeControl(body)
	req.NoError(err)
	req.True(isControl)
	req.Equal(Invite, control.Direction)
	req.True(stamp.Equal(control.Timestamp))
}

func Test_Decode_Ignores_Foreign_Hidden_Messages(t *testing.T) {
	req := require.New(t)

	_, isControl, err := DecodeControl("some unrelated hidden payload")
	req.NoError(err)
	req.False(isControl)
}

func Test_Decode_Flags_Malformed_Controls(t *testing.T) {
	req := require.New(t)

	_, isControl, err := DecodeControl("uproxy-invite:{not json")
	req.True(isControl)
	req.True(stderrors.Is(err, errors.ErrMalformedEvent))

	_, isControl, err = DecodeControl(`uproxy-invite:{"direction":"WAVE","timestamp":"2016-01-01T00:00:00Z"}`)
	req.True(isControl)
	req.True(stderrors.Is(err, errors.ErrMalformedEvent))
}
