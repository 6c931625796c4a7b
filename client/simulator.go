package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"wechat-bridge/domain"
)

// Simulator is an in-memory WebProtocolClient with a scripted roster.
// The demo binary and the end-to-end tests drive the full session
// life-cycle against it: scans confirm instantly, identity batches are
// queued by the script, and outgoing traffic is captured for assertions.
type Simulator struct {
	mu       sync.Mutex
	roster   []domain.RawContact
	identity map[domain.SessionID]domain.StableID
	batches  chan domain.EventBatch
	sent     []domain.RawMessage
	groups   int

	// PollErr, when set, is returned by the next LongPoll call and then
	// cleared. Used to script transient and fatal loop failures.
	PollErr error
	// AutoResolve queues the full identity batch right after the
	// contact fetch, the way the real server answers a batched
	// webwxbatchgetcontact.
	AutoResolve bool
}

func NewSimulator(contacts []domain.RawContact, identity map[domain.SessionID]domain.StableID) *Simulator {
	return &Simulator{
		roster:      contacts,
		identity:    identity,
		batches:     make(chan domain.EventBatch, 64),
		AutoResolve: true,
	}
}

// FailNextPoll scripts an error for the next LongPoll call.
func (s *Simulator) FailNextPoll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PollErr = err
}

// Queue schedules one event batch for the next long poll.
func (s *Simulator) Queue(batch domain.EventBatch) {
	s.batches <- batch
}

// Sent returns a copy of every raw message pushed so far.
func (s *Simulator) Sent() []domain.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RawMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *Simulator) GetChallenge(ctx context.Context) (domain.Challenge, error) {
	return domain.Challenge{
		ID:       uuid.New().String(),
		QRData:   "https://login.weixin.qq.com/l/" + uuid.New().String(),
		IssuedAt: time.Now(),
	}, nil
}

func (s *Simulator) AwaitScan(ctx context.Context, challenge domain.Challenge) (domain.SessionPrecursor, error) {
	return domain.SessionPrecursor{
		RedirectURI:   "https://wx.qq.com/cgi-bin/mmwebwx-bin/webwxnewloginpage",
		SelfSessionID: "@self",
	}, nil
}

func (s *Simulator) InitSession(ctx context.Context, precursor domain.SessionPrecursor) (domain.SessionToken, error) {
	return domain.SessionToken("sim-" + uuid.New().String()), nil
}

func (s *Simulator) FetchContacts(ctx context.Context, token domain.SessionToken) ([]domain.RawContact, error) {
	if s.AutoResolve {
		pairs := make(map[domain.SessionID]domain.StableID, len(s.identity))
		for k, v := range s.identity {
			pairs[k] = v
		}
		s.Queue(domain.EventBatch{Events: []domain.SyncEvent{
			{Kind: domain.IdentityBatchEvent, Identity: pairs},
		}})
	}
	out := make([]domain.RawContact, len(s.roster))
	copy(out, s.roster)
	return out, nil
}

func (s *Simulator) LongPoll(ctx context.Context, token domain.SessionToken) (domain.EventBatch, error) {
	s.mu.Lock()
	err := s.PollErr
	s.PollErr = nil
	s.mu.Unlock()
	if err != nil {
		return domain.EventBatch{}, err
	}

	select {
	case <-ctx.Done():
		return domain.EventBatch{}, ctx.Err()
	case batch := <-s.batches:
		return batch, nil
	}
}

func (s *Simulator) SendRaw(ctx context.Context, token domain.SessionToken, msg domain.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *Simulator) CreateGroup(ctx context.Context, token domain.SessionToken, members []domain.SessionID) (domain.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups++
	return domain.SessionID(fmt.Sprintf("@@simgroup%d", s.groups)), nil
}

func (s *Simulator) RenameGroup(ctx context.Context, token domain.SessionToken, group domain.SessionID, name string) error {
	return nil
}

func (s *Simulator) LogoutRaw(ctx context.Context, token domain.SessionToken) error {
	return nil
}
