package services

import (
	"context"
	"fmt"

	"wechat-bridge/domain"
	"wechat-bridge/errors"
	"wechat-bridge/invite"
)

// InviteContact runs the sending half of the invite handshake: make
// sure the private pair channel exists, push an INVITE control message
// over it, and record the intent in the ledger. The ledger record is
// never rolled back on a transport failure, which is what makes a later
// retry carry the same invite identity.
func (s *SessionService) InviteContact(ctx context.Context, target domain.StableID) error {
	token, resolver, err := s.readyState()
	if err != nil {
		return err
	}
	peer, ok := resolver.Reverse(target)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownContact, target)
	}

	firstInvite := !s.ledger.HasSent(target)

	if err := s.sendControl(ctx, target, invite.Invite); err != nil {
		return err
	}

	// One plain-text courtesy message per contact, human-readable, only
	// while no mutual record exists. Cosmetic: failures are logged, not
	// retried, and the ledger does not track it.
	if firstInvite && !s.ledger.IsMutual(target) {
		courtesy := domain.RawMessage{
			Kind:      domain.TextMessage,
			Content:   s.opts.CourtesyText,
			Recipient: peer,
		}
		if err := s.client.SendRaw(ctx, token, courtesy); err != nil {
			s.log.Warn("Courtesy message failed", "stable_id", target, "error", err)
		}
	}
	return nil
}

// sendControl records the SENT half in the ledger and pushes a control
// message over the pair channel. RecordSent is idempotent, so a re-send
// reuses the original timestamp and the protocol-visible invite identity
// never changes.
func (s *SessionService) sendControl(ctx context.Context, target domain.StableID, direction invite.Direction) error {
	token, resolver, err := s.readyState()
	if err != nil {
		return err
	}
	peer, ok := resolver.Reverse(target)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownContact, target)
	}

	stamp, err := s.ledger.RecordSent(target)
	if err != nil {
		return err
	}

	channel, err := s.ensureChannel(ctx, token, target, peer)
	if err != nil {
		// Intent is recorded; the send itself failed and can be retried
		// with identical semantics.
		return fmt.Errorf("invite channel unavailable: %w", err)
	}

	body, err := invite.EncodeControl(invite.Control{Direction: direction, Timestamp: stamp})
	if err != nil {
		return err
	}
	return s.client.SendRaw(ctx, token, domain.RawMessage{
		Kind:      domain.HiddenMessage,
		Content:   body,
		Recipient: channel,
	})
}

// ensureChannel finds or creates the private invite group for us and
// target. The name is derived order-independently from the pair of
// stable ids, so whichever side initiates lands on the same group. The
// protocol requires a third filler participant to keep a group alive
// with only two real members.
func (s *SessionService) ensureChannel(ctx context.Context, token domain.SessionToken, target domain.StableID, peer domain.SessionID) (domain.SessionID, error) {
	s.mu.Lock()
	selfStableID := s.sess.SelfStableID
	s.mu.Unlock()

	name := invite.ChannelName(selfStableID, target)

	s.mu.Lock()
	channel, ok := s.groupsByName[name]
	s.mu.Unlock()
	if ok {
		return channel, nil
	}

	channel, err := s.client.CreateGroup(ctx, token, []domain.SessionID{peer, s.opts.FillerAccount})
	if err != nil {
		return "", err
	}
	if err := s.client.RenameGroup(ctx, token, channel, name); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.groupsByName[name] = channel
	s.roster[channel] = domain.RawContact{SessionID: channel, DisplayName: name}
	resolver := s.resolver
	s.mu.Unlock()
	if resolver != nil {
		resolver.Track(channel)
		// A group we created ourselves never shows up in an identity
		// batch; resolve it locally so the DONE predicate stays honest.
		resolver.Observe(map[domain.SessionID]domain.StableID{channel: domain.StableID(name)})
	}
	return channel, nil
}

// flushPendingInvites re-sends the control message for every SENT-only
// ledger record whose contact resolved in this session. Timestamps are
// reused, so the flush is invisible to the peer's de-duplication.
func (s *SessionService) flushPendingInvites(ctx context.Context) {
	s.mu.Lock()
	resolver := s.resolver
	s.mu.Unlock()
	if resolver == nil {
		return
	}

	for _, stableID := range s.ledger.SentOnly() {
		if _, ok := resolver.Reverse(stableID); !ok {
			continue
		}
		if err := s.sendControl(ctx, stableID, invite.Invite); err != nil {
			s.log.Warn("Pending invite flush failed", "stable_id", stableID, "error", err)
		}
	}
}
