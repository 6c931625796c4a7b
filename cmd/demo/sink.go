package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"

	"wechat-bridge/domain"
	"wechat-bridge/domain/event"
	"wechat-bridge/invite"
)

// ConsoleSink renders the notification feed the way the original demo
// UI did, one colored line per event.
type ConsoleSink struct{}

func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{}
}

func (c *ConsoleSink) Consume(ctx context.Context, n event.Notification) error {
	stamp := n.At.Format("15:04:05")
	switch payload := n.Payload.(type) {
	case event.LoginChallengeReady:
		header := color.New(color.BgBlack, color.FgYellow).Render("SCAN")
		fmt.Printf("%s %s scan to login: %s\n", stamp, header, payload.Challenge.QRData)
	case event.PresenceChanged:
		header := color.New(color.BgBlack, color.FgGreen).Render("PRESENCE")
		fmt.Printf("%s %s %s is now %s\n", stamp, header, payload.Record.SessionID, payload.Record.Status)
	case event.ProfileChanged:
		header := color.New(color.BgBlack, color.FgCyan).Render("PROFILE")
		fmt.Printf("%s %s %s (%s)\n", stamp, header, payload.Profile.DisplayName, payload.Profile.StableID)
	case event.MessageReceived:
		header := color.New(color.BgBlack, color.FgWhite).Render("MESSAGE")
		fmt.Printf("%s %s <%s> %s\n", stamp, header, payload.From.SessionID, payload.Message.Content)
	case event.SyncFailed:
		header := color.New(color.BgBlack, color.FgRed).Render("SYNC")
		fmt.Printf("%s %s %s (recovered=%t)\n", stamp, header, payload.Reason, payload.Recovered)
	default:
		fmt.Printf("%s [%s]\n", stamp, n.Type)
	}
	return nil
}

// aliceAnswers scripts the peer side of the handshake: a RETURN_INVITE
// control message followed by a plain chat message.
func aliceAnswers() domain.EventBatch {
	control, _ := invite.EncodeControl(invite.Control{
		Direction: invite.ReturnInvite,
		Timestamp: time.Now(),
	})
	return domain.EventBatch{Events: []domain.SyncEvent{
		{Kind: domain.MessageEvent, Message: &domain.Message{
			ID:      uuid.New(),
			From:    "@alice",
			Kind:    domain.HiddenMessage,
			Content: control,
			At:      time.Now(),
		}},
		{Kind: domain.MessageEvent, Message: &domain.Message{
			ID:      uuid.New(),
			From:    "@alice",
			Kind:    domain.TextMessage,
			Content: "hey, got your invite",
			At:      time.Now(),
		}},
	}}
}
