package services

import (
	"context"

	"wechat-bridge/domain"
	"wechat-bridge/domain/event"
	"wechat-bridge/errors"
	"wechat-bridge/identity"
	"wechat-bridge/invite"
	"wechat-bridge/runtime/workers"
)

func (s *SessionService) startSyncLoop(token domain.SessionToken) {
	loopCtx, cancel := context.WithCancel(context.Background())

	worker := workers.NewSyncWorker(
		s.log, s.client, token, s.opts.PollBackoff,
		s.handleBatch, s.onSyncFatal, s.monitoring,
	)
	supervisor := workers.NewSupervisor(s.log, s.opts.RestartInterval)
	done := make(chan struct{})

	s.mu.Lock()
	s.syncCancel = cancel
	s.supervisor = supervisor
	s.syncDone = done
	s.mu.Unlock()

	go func() {
		supervisor.Add(worker).Run(loopCtx)
		close(done)
	}()
}

// cancelSyncLoop signals the loop to stop and hands back its completion
// channel. Safe to call from the worker goroutine itself.
func (s *SessionService) cancelSyncLoop() <-chan struct{} {
	s.mu.Lock()
	cancel := s.syncCancel
	done := s.syncDone
	s.syncCancel = nil
	s.supervisor = nil
	s.syncDone = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return done
}

// stopSyncLoop cancels the loop and waits for the worker goroutine to
// drain, so no in-flight dispatch can mutate the registries afterwards.
func (s *SessionService) stopSyncLoop() {
	if done := s.cancelSyncLoop(); done != nil {
		<-done
	}
}

// handleBatch is the single entry point for asynchronous incoming
// events. It runs on the sync worker's goroutine only, and a batch is
// fully dispatched, in generation order, before the next poll is issued.
func (s *SessionService) handleBatch(ctx context.Context, batch domain.EventBatch) {
	for _, ev := range batch.Events {
		switch ev.Kind {
		case domain.IdentityBatchEvent:
			s.handleIdentityBatch(ev.Identity)
		case domain.MessageEvent:
			s.handleMessage(ctx, ev.Message)
		case domain.PresenceDeltaEvent:
			s.handlePresenceDelta(ev.Presence)
		case domain.GroupMetadataEvent:
			s.handleGroupMetadata(ev.Group)
		case domain.AvatarEvent:
			s.handleAvatar(ev.Avatar)
		default:
			s.monitoring.IncrMalformedEvents()
			s.log.Warn("Unknown sync event kind", "kind", ev.Kind)
		}
	}

	s.maybeCompleteResolution(ctx)
}

// maybeCompleteResolution moves the session to READY once every tracked
// session identifier has resolved. The predicate is recomputed against
// the full tracked roster on every batch because the roster can grow
// between batches.
func (s *SessionService) maybeCompleteResolution(ctx context.Context) {
	s.mu.Lock()
	resolver := s.resolver
	inResolution := s.sess != nil && s.sess.Phase == domain.IdentityResolution
	once := s.resolveOnce
	done := s.resolved
	s.mu.Unlock()

	if !inResolution || resolver == nil || !resolver.Done() {
		return
	}

	s.setPhase(domain.Ready)
	once.Do(func() { close(done) })
	s.flushPendingInvites(ctx)
}

func (s *SessionService) handleIdentityBatch(pairs map[domain.SessionID]domain.StableID) {
	s.mu.Lock()
	resolver := s.resolver
	var selfSessionID domain.SessionID
	if s.sess != nil {
		selfSessionID = s.sess.SelfSessionID
	}
	s.mu.Unlock()
	if resolver == nil {
		return
	}

	for _, link := range resolver.Observe(pairs) {
		s.applyLink(link, selfSessionID)
	}
}

func (s *SessionService) applyLink(link identity.Link, selfSessionID domain.SessionID) {
	if link.SessionID == selfSessionID {
		// Our own session identifier resolving is how we learn our
		// stable id; it never becomes a third-party profile.
		s.mu.Lock()
		if s.sess != nil {
			s.sess.SelfStableID = link.StableID
		}
		s.mu.Unlock()
		s.registry.Upsert(link.SessionID, link.StableID, domain.Online)
		return
	}

	s.mu.Lock()
	raw := s.roster[link.SessionID]
	if link.IsGroup && raw.DisplayName != "" {
		s.groupsByName[raw.DisplayName] = link.SessionID
	}
	s.mu.Unlock()

	if link.IsGroup {
		return
	}
	s.directory.UpsertProfile(link.StableID, raw)
	s.registry.Upsert(link.SessionID, link.StableID, domain.Online)
}

func (s *SessionService) handleMessage(ctx context.Context, msg *domain.Message) {
	if msg == nil {
		s.monitoring.IncrMalformedEvents()
		return
	}

	switch msg.Kind {
	case domain.HiddenMessage:
		s.handleHiddenMessage(ctx, msg)
	case domain.TextMessage:
		s.handleTextMessage(msg)
	default:
		s.monitoring.IncrMalformedEvents()
		s.log.Warn("Message with unknown kind dropped", "kind", msg.Kind)
	}
}

func (s *SessionService) handleTextMessage(msg *domain.Message) {
	s.mu.Lock()
	resolver := s.resolver
	s.mu.Unlock()
	if resolver == nil {
		return
	}

	stableID, ok := resolver.Lookup(msg.From)
	if !ok {
		// Soft failure: skip this event's side effect, keep the batch.
		s.monitoring.IncrUnknownContacts()
		s.log.Debug("Text message from unresolved contact skipped", "from", msg.From)
		return
	}

	from := s.registry.Upsert(msg.From, stableID, domain.Online)
	s.monitoring.AddRecent(string(domain.MessageEvent), string(msg.From))
	s.emit(event.New(event.MessageReceivedType, event.MessageReceived{From: *from, Message: *msg}))
}

// handleHiddenMessage runs the receiving half of the invite handshake.
func (s *SessionService) handleHiddenMessage(ctx context.Context, msg *domain.Message) {
	control, isControl, err := invite.DecodeControl(msg.Content)
	if !isControl {
		s.log.Debug("Hidden message without control payload ignored")
		return
	}
	if err != nil {
		// Must never crash the loop: count, log, move on.
		s.monitoring.IncrMalformedEvents()
		s.log.Warn("Malformed control message dropped", "error", err)
		return
	}

	s.mu.Lock()
	resolver := s.resolver
	s.mu.Unlock()
	if resolver == nil {
		return
	}

	stableID, ok := resolver.Lookup(msg.From)
	if !ok {
		s.monitoring.IncrUnknownContacts()
		s.log.Debug("Control message from unresolved contact skipped", "from", msg.From)
		return
	}

	if err := s.ledger.RecordReceived(stableID, control.Timestamp); err != nil {
		s.log.Error("Ledger write failed for received invite", "stable_id", stableID, "error", err)
	}

	if !s.ledger.HasSent(stableID) {
		// One-sided: remember it, do not promote. Mutuality is the sole
		// promotion trigger for the handshake.
		s.log.Info("Invite received, awaiting our side", "stable_id", stableID)
		return
	}

	s.registry.Upsert(msg.From, stableID, domain.Online)
	if control.Direction == invite.Invite {
		if err := s.sendControl(ctx, stableID, invite.ReturnInvite); err != nil {
			s.log.Warn("Return invite failed, will retry on next session", "stable_id", stableID, "error", err)
		}
	}
}

func (s *SessionService) handlePresenceDelta(delta *domain.PresenceDelta) {
	if delta == nil {
		s.monitoring.IncrMalformedEvents()
		return
	}
	s.mu.Lock()
	resolver := s.resolver
	s.mu.Unlock()

	var stableID domain.StableID
	if resolver != nil {
		stableID, _ = resolver.Lookup(delta.SessionID)
	}
	s.registry.Upsert(delta.SessionID, stableID, delta.Status)
	s.monitoring.AddRecent(string(domain.PresenceDeltaEvent), string(delta.SessionID))
}

func (s *SessionService) handleGroupMetadata(raw *domain.RawContact) {
	if raw == nil {
		s.monitoring.IncrMalformedEvents()
		return
	}
	s.mu.Lock()
	if s.roster == nil {
		s.mu.Unlock()
		return
	}
	s.roster[raw.SessionID] = *raw
	if raw.SessionID.IsGroup() && raw.DisplayName != "" {
		s.groupsByName[raw.DisplayName] = raw.SessionID
	}
	resolver := s.resolver
	s.mu.Unlock()

	if resolver != nil {
		resolver.Track(raw.SessionID)
	}
}

func (s *SessionService) handleAvatar(avatar *domain.AvatarPayload) {
	if avatar == nil {
		s.monitoring.IncrMalformedEvents()
		return
	}
	s.mu.Lock()
	resolver := s.resolver
	s.mu.Unlock()
	if resolver == nil {
		return
	}

	stableID, ok := resolver.Lookup(avatar.SessionID)
	if !ok {
		// Icon arrived before the identity batch. Soft miss, the
		// directory queue catches the resolved case; this one is simply
		// retried by the server on the next roster change.
		s.monitoring.IncrUnknownContacts()
		s.log.Debug("Avatar for unresolved contact skipped", "session_id", avatar.SessionID)
		return
	}
	s.directory.AttachAvatar(stableID, *avatar)
}

// onSyncFatal is called by the worker when the loop ended for good. A
// server-side session invalidation re-enters the handshake; anything
// else tears the session down and is reported on the side channel.
func (s *SessionService) onSyncFatal(err error) {
	if errors.ClassifyTransport(err) == errors.SessionInvalid {
		s.emit(event.New(event.SyncFailedType, event.SyncFailed{Reason: err.Error(), Recovered: true}))
		go s.rehandshake()
		return
	}

	s.log.Error("Sync loop ended, tearing session down", "error", err)
	s.setPhase(domain.Failed)
	// Running on the worker goroutine: cancel only, joining here would
	// wait on ourselves.
	s.cancelSyncLoop()
	s.emit(event.New(event.SyncFailedType, event.SyncFailed{Reason: err.Error(), Recovered: false}))
}

// rehandshake re-enters the state machine after a wrong-domain bounce.
// With a usable precursor the session re-inits without a new scan; when
// the precursor is gone too, the host has to run Login again and is told
// so through the side channel.
func (s *SessionService) rehandshake() {
	s.mu.Lock()
	if s.rehandshakes >= maxRehandshakes {
		s.mu.Unlock()
		s.log.Error("Too many re-handshakes, giving up")
		s.setPhase(domain.Failed)
		s.stopSyncLoop()
		return
	}
	s.rehandshakes++
	sess := s.sess
	precursor := sess.Precursor
	s.mu.Unlock()

	s.stopSyncLoop()

	if precursor.SelfSessionID == "" {
		s.setPhase(domain.AwaitingScan)
		s.emit(event.New(event.SyncFailedType, event.SyncFailed{
			Reason:    "session invalidated, new scan required",
			Recovered: false,
		}))
		return
	}

	s.setPhase(domain.SessionInit)
	ctx := context.Background()

	token, err := s.client.InitSession(ctx, precursor)
	if err != nil {
		s.log.Error("Re-handshake init failed", "error", err)
		s.setPhase(domain.Failed)
		return
	}

	s.mu.Lock()
	sess.Token = token
	s.mu.Unlock()

	s.setPhase(domain.ContactFetch)
	contacts, err := s.client.FetchContacts(ctx, token)
	if err != nil {
		s.log.Error("Re-handshake contact fetch failed", "error", err)
		s.setPhase(domain.Failed)
		return
	}

	s.mu.Lock()
	s.resolver = identity.NewResolver(s.log)
	s.roster = make(map[domain.SessionID]domain.RawContact)
	for _, contact := range contacts {
		s.roster[contact.SessionID] = contact
	}
	resolver := s.resolver
	// The resolved/resolveOnce pair is NOT replaced here: a Login still
	// blocked in identity resolution waits on the original channel, and
	// the recovered loop must be the one to close it.
	s.mu.Unlock()
	resolver.Track(sessionIDs(contacts)...)

	s.setPhase(domain.IdentityResolution)
	s.startSyncLoop(token)
	s.registry.Upsert(sess.SelfSessionID, sess.SelfStableID, domain.Online)
	s.maybeCompleteResolution(ctx)
	s.log.Info("Re-handshake complete, waiting for identity resolution")
}
