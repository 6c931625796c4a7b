package invite

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wechat-bridge/contract"
	"wechat-bridge/domain"
)

const recordPrefix = "invite:"

// record is the persisted shape. Both halves of the handshake live in
// one entry so mutuality is a single lookup.
type record struct {
	SentAt     *time.Time `json:"sent_at,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// Ledger is the durable memory of the invite handshake, keyed by stable
// id. It survives logins: a retry after a restart must reuse the
// original SENT timestamp so the protocol-visible invite identity never
// changes. Every mutation is written through to the store.
type Ledger struct {
	mu      sync.Mutex
	log     *slog.Logger
	store   contract.KeyValueStore
	records map[domain.StableID]*record
	now     func() time.Time
}

func NewLedger(log *slog.Logger, store contract.KeyValueStore) *Ledger {
	return &Ledger{
		log:     log,
		store:   store,
		records: make(map[domain.StableID]*record),
		now:     time.Now,
	}
}

// Load reads all persisted records. Called once at session start;
// calling it again replaces the in-memory view with the stored one.
func (l *Ledger) Load() error {
	values, err := l.store.Scan(recordPrefix)
	if err != nil {
		return fmt.Errorf("ledger scan failed: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[domain.StableID]*record, len(values))
	for key, value := range values {
		stableID := domain.StableID(strings.TrimPrefix(key, recordPrefix))
		var rec record
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			l.log.Warn("Dropping unreadable invite record", "key", key, "error", err)
			continue
		}
		l.records[stableID] = &rec
	}
	return nil
}

// RecordSent marks an invite as sent to stableID and returns its
// timestamp. Idempotent: a second call returns the original timestamp
// unchanged, so retries carry the same invite identity on the wire.
func (l *Ledger) RecordSent(stableID domain.StableID) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.ensure(stableID)
	if rec.SentAt != nil {
		return *rec.SentAt, nil
	}
	stamp := l.now()
	rec.SentAt = &stamp
	return stamp, l.persist(stableID, rec)
}

// HasSent reports whether an invite was ever sent to stableID.
func (l *Ledger) HasSent(stableID domain.StableID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[stableID]
	return ok && rec.SentAt != nil
}

// HasReceived reports whether an invite from stableID was ever recorded.
func (l *Ledger) HasReceived(stableID domain.StableID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[stableID]
	return ok && rec.ReceivedAt != nil
}

// RecordReceived stores the timestamp of an inbound invite. Monotonic:
// an earlier timestamp never overwrites a later one, which keeps
// mutuality stable when control messages are redelivered out of order.
func (l *Ledger) RecordReceived(stableID domain.StableID, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.ensure(stableID)
	if rec.ReceivedAt != nil && at.Before(*rec.ReceivedAt) {
		return nil
	}
	rec.ReceivedAt = &at
	return l.persist(stableID, rec)
}

// IsMutual reports whether both halves of the handshake exist for
// stableID. Mutuality is the sole trigger for promoting a contact's
// presence as a result of the invite protocol.
func (l *Ledger) IsMutual(stableID domain.StableID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[stableID]
	return ok && rec.SentAt != nil && rec.ReceivedAt != nil
}

// SentOnly returns the ids with a SENT record and no RECEIVED one: the
// invites still awaiting an answer, re-sent when a session turns ready.
func (l *Ledger) SentOnly() []domain.StableID {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []domain.StableID
	for stableID, rec := range l.records {
		if rec.SentAt != nil && rec.ReceivedAt == nil {
			ids = append(ids, stableID)
		}
	}
	return ids
}

func (l *Ledger) ensure(stableID domain.StableID) *record {
	rec, ok := l.records[stableID]
	if !ok {
		rec = &record{}
		l.records[stableID] = rec
	}
	return rec
}

func (l *Ledger) persist(stableID domain.StableID, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := l.store.Set(recordPrefix+string(stableID), string(data)); err != nil {
		return fmt.Errorf("ledger write failed: %w", err)
	}
	return nil
}
