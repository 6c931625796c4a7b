package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"wechat-bridge/contract"
	"wechat-bridge/directory"
	"wechat-bridge/domain"
	"wechat-bridge/domain/event"
	"wechat-bridge/errors"
	"wechat-bridge/identity"
	"wechat-bridge/invite"
	"wechat-bridge/observability"
	"wechat-bridge/presence"
	"wechat-bridge/repositories"
	"wechat-bridge/runtime/workers"
)

// AlternateLoginFlag is the host-lifetime marker remembering that the
// server bounced us to the alternate login domain.
const AlternateLoginFlag = "was-alternate-login-variant"

const maxRehandshakes = 3

var validate = validator.New()

type ISessionService interface {
	Login(ctx context.Context, opts domain.LoginOptions) (domain.PresenceRecord, error)
	Logout(ctx context.Context) error
	SendMessage(ctx context.Context, target domain.StableID, text string) error
	InviteContact(ctx context.Context, target domain.StableID) error
	GetContacts() []domain.ProfileRecord
	GetPresences() []domain.PresenceRecord
	Phase() domain.Phase
}

// Options carries the tunables the session service needs from config.
type Options struct {
	PollBackoff     time.Duration
	SinkTimeout     time.Duration
	RestartInterval time.Duration
	FillerAccount   domain.SessionID
	CourtesyText    string
}

// SessionService owns the Session and drives every phase transition of
// the login state machine. All incoming asynchronous events funnel
// through handleBatch on the sync worker's goroutine, one batch at a
// time, which is what lets the shared registries get away with plain
// single-writer discipline.
type SessionService struct {
	log        *slog.Logger
	client     contract.WebProtocolClient
	store      contract.KeyValueStore
	sinks      []contract.EventSink
	monitoring *observability.MonitoringManager
	opts       Options

	registry  *presence.Registry
	directory *directory.Directory
	ledger    *invite.Ledger

	mu           sync.Mutex
	sess         *domain.Session
	resolver     *identity.Resolver
	roster       map[domain.SessionID]domain.RawContact
	groupsByName map[string]domain.SessionID
	supervisor   *workers.Supervisor
	syncCancel   context.CancelFunc
	syncDone     chan struct{}
	resolved     chan struct{}
	resolveOnce  *sync.Once
	rehandshakes int
}

func NewSessionService(
	log *slog.Logger,
	client contract.WebProtocolClient,
	store contract.KeyValueStore,
	monitoring *observability.MonitoringManager,
	opts Options,
	sinks ...contract.EventSink,
) *SessionService {
	s := &SessionService{
		log:        log,
		client:     client,
		store:      store,
		sinks:      sinks,
		monitoring: monitoring,
		opts:       opts,
	}
	s.registry = presence.NewRegistry(func(record domain.PresenceRecord) {
		s.emit(event.New(event.PresenceChangedType, event.PresenceChanged{Record: record}))
	})
	s.directory = directory.NewDirectory(func(profile domain.ProfileRecord) {
		s.emit(event.New(event.ProfileChangedType, event.ProfileChanged{Profile: profile}))
	})
	s.ledger = invite.NewLedger(log, store)
	return s
}

// Login drives the whole handshake: challenge, scan, init, contact
// fetch, identity resolution. It blocks until the session is READY and
// returns the operator's own presence record. A second call while a
// login is in flight (or while logged in) fails fast.
func (s *SessionService) Login(ctx context.Context, opts domain.LoginOptions) (domain.PresenceRecord, error) {
	if err := validate.Struct(opts); err != nil {
		return domain.PresenceRecord{}, fmt.Errorf("invalid login options: %w", err)
	}

	s.mu.Lock()
	if s.sess != nil && s.sess.Phase != domain.Failed && s.sess.Phase != domain.LoggedOut {
		s.mu.Unlock()
		return domain.PresenceRecord{}, errors.ErrLoginInFlight
	}
	sess := &domain.Session{Phase: domain.AwaitingScan, CreatedAt: time.Now()}
	s.sess = sess
	s.resolver = identity.NewResolver(s.log)
	s.roster = make(map[domain.SessionID]domain.RawContact)
	s.groupsByName = make(map[string]domain.SessionID)
	resolved := make(chan struct{})
	s.resolved = resolved
	s.resolveOnce = &sync.Once{}
	s.rehandshakes = 0
	s.mu.Unlock()

	// The ledger is durable across sessions and loaded exactly once per
	// login attempt.
	if err := s.ledger.Load(); err != nil {
		return domain.PresenceRecord{}, s.failLogin(err)
	}

	token, err := s.handshake(ctx, opts, sess)
	if err != nil {
		return domain.PresenceRecord{}, err
	}

	contacts, err := s.client.FetchContacts(ctx, token)
	if err != nil {
		return domain.PresenceRecord{}, s.failLogin(err)
	}
	s.mu.Lock()
	for _, contact := range contacts {
		s.roster[contact.SessionID] = contact
		if contact.SessionID.IsGroup() && contact.DisplayName != "" {
			s.groupsByName[contact.DisplayName] = contact.SessionID
		}
	}
	s.mu.Unlock()
	s.resolver.Track(sessionIDs(contacts)...)

	s.setPhase(domain.IdentityResolution)
	s.startSyncLoop(token)
	s.registry.Upsert(sess.SelfSessionID, sess.SelfStableID, domain.Online)
	// An empty roster resolves trivially, without a single batch.
	s.maybeCompleteResolution(ctx)

	select {
	case <-resolved:
	case <-ctx.Done():
		s.stopSyncLoop()
		s.setPhase(domain.Failed)
		return domain.PresenceRecord{}, ctx.Err()
	}

	self, _ := s.registry.Get(s.selfSessionID())
	return self, nil
}

// handshake performs challenge → scan → init, re-entering on a
// wrong-domain bounce instead of failing outright. A bounce with a
// usable precursor restarts from SESSION_INIT; without one, from
// AWAITING_SCAN.
func (s *SessionService) handshake(ctx context.Context, opts domain.LoginOptions, sess *domain.Session) (domain.SessionToken, error) {
	for attempt := 0; ; attempt++ {
		if attempt > maxRehandshakes {
			return "", s.failLogin(fmt.Errorf("%w: handshake bounced %d times", errors.ErrLoginRejected, attempt))
		}

		challenge, err := s.client.GetChallenge(ctx)
		if err != nil {
			return "", s.failLogin(err)
		}
		s.emit(event.New(event.LoginChallengeReadyType, event.LoginChallengeReady{Challenge: challenge}))

		precursor, err := s.client.AwaitScan(ctx, challenge)
		if err != nil {
			if errors.ClassifyTransport(err) == errors.SessionInvalid {
				s.rememberAlternateVariant(opts)
				continue
			}
			return "", s.failLogin(err)
		}
		s.mu.Lock()
		sess.Precursor = precursor
		sess.SelfSessionID = precursor.SelfSessionID
		s.mu.Unlock()
		if precursor.AlternateHost {
			s.rememberAlternateVariant(opts)
		}

		s.setPhase(domain.SessionInit)
		token, err := s.client.InitSession(ctx, sess.Precursor)
		if err != nil {
			if errors.ClassifyTransport(err) == errors.SessionInvalid {
				// Precursor went stale with the session: a new scan is
				// needed before the next init.
				s.rememberAlternateVariant(opts)
				s.setPhase(domain.AwaitingScan)
				continue
			}
			return "", s.failLogin(err)
		}

		s.mu.Lock()
		sess.Token = token
		s.mu.Unlock()
		s.setPhase(domain.ContactFetch)
		return token, nil
	}
}

// Logout leaves the session. Self goes OFFLINE first so the sink sees
// the transition, then the loop is canceled together with any pending
// backoff timer. Transient state resets; the invite ledger stays, it is
// durable by design.
func (s *SessionService) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.sess == nil || s.sess.Phase != domain.Ready {
		s.mu.Unlock()
		return errors.ErrNotLoggedIn
	}
	sess := s.sess
	s.mu.Unlock()

	s.registry.Upsert(sess.SelfSessionID, sess.SelfStableID, domain.Offline)
	s.stopSyncLoop()

	// Best effort: the server-side logout may race a dying session.
	if err := s.client.LogoutRaw(ctx, sess.Token); err != nil {
		s.log.Warn("Raw logout failed", "error", err)
	}

	s.registry.Reset()
	s.directory.Reset()

	s.mu.Lock()
	s.roster = nil
	s.groupsByName = nil
	s.resolver = nil
	s.sess.Phase = domain.LoggedOut
	s.mu.Unlock()
	return nil
}

// SendMessage sends plain text to a contact, addressed by stable id.
func (s *SessionService) SendMessage(ctx context.Context, target domain.StableID, text string) error {
	token, resolver, err := s.readyState()
	if err != nil {
		return err
	}
	sessionID, ok := resolver.Reverse(target)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrUnknownContact, target)
	}
	return s.client.SendRaw(ctx, token, domain.RawMessage{
		Kind:      domain.TextMessage,
		Content:   text,
		Recipient: sessionID,
	})
}

// GetContacts returns the current profile snapshot. Never fails.
func (s *SessionService) GetContacts() []domain.ProfileRecord {
	return s.directory.Snapshot()
}

// GetPresences returns the current presence snapshot. Never fails.
func (s *SessionService) GetPresences() []domain.PresenceRecord {
	return s.registry.Snapshot()
}

func (s *SessionService) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return domain.Idle
	}
	return s.sess.Phase
}

func (s *SessionService) Stats() observability.SyncStats {
	return s.monitoring.Snapshot()
}

func (s *SessionService) setPhase(phase domain.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess != nil {
		s.sess.Phase = phase
	}
}

func (s *SessionService) selfSessionID() domain.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return ""
	}
	return s.sess.SelfSessionID
}

// readyState snapshots what a READY-gated operation needs in one lock.
func (s *SessionService) readyState() (domain.SessionToken, *identity.Resolver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil || s.sess.Phase != domain.Ready {
		return "", nil, errors.ErrNotReady
	}
	return s.sess.Token, s.resolver, nil
}

func (s *SessionService) failLogin(err error) error {
	s.setPhase(domain.Failed)
	s.stopSyncLoop()
	if errors.ClassifyTransport(err) == errors.Rejected {
		return err
	}
	return fmt.Errorf("%w: %v", errors.ErrLoginRejected, err)
}

func (s *SessionService) rememberAlternateVariant(opts domain.LoginOptions) {
	if !opts.RememberLoginVariant {
		return
	}
	if err := s.store.Set(repositories.FlagKey(AlternateLoginFlag), "true"); err != nil {
		s.log.Warn("Could not persist login-variant flag", "error", err)
	}
}

func (s *SessionService) emit(n event.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SinkTimeout)
	defer cancel()
	for _, sink := range s.sinks {
		if err := sink.Consume(ctx, n); err != nil {
			s.log.Warn("Sink rejected notification", "type", n.Type, "error", err)
		}
	}
}

func sessionIDs(contacts []domain.RawContact) []domain.SessionID {
	ids := make([]domain.SessionID, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.SessionID)
	}
	return ids
}
