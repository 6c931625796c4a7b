package presence

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"wechat-bridge/domain"
)

// OnChange receives every mutated record. This is the observable
// boundary into the host event layer.
type OnChange func(record domain.PresenceRecord)

// Registry is the source of truth for "who do we think is online",
// keyed by session identifier. Records are mutated in place so that
// references handed out stay valid, and their timestamps never move
// backwards.
type Registry struct {
	mu       sync.Mutex
	records  map[domain.SessionID]*domain.PresenceRecord
	onChange OnChange
	now      func() time.Time
}

func NewRegistry(onChange OnChange) *Registry {
	return &Registry{
		records:  make(map[domain.SessionID]*domain.PresenceRecord),
		onChange: onChange,
		now:      time.Now,
	}
}

// Upsert creates or updates the record for sessionID and returns it.
// An empty stableID leaves any previously resolved id untouched. A
// freshly discovered contact starts ONLINE: optimism here is corrected
// only by explicit OFFLINE or other-app evidence, never by silence.
func (g *Registry) Upsert(sessionID domain.SessionID, stableID domain.StableID, status domain.Status) *domain.PresenceRecord {
	g.mu.Lock()
	now := g.now()

	record, ok := g.records[sessionID]
	if !ok {
		record = &domain.PresenceRecord{
			SessionID:   sessionID,
			StableID:    stableID,
			Status:      status,
			LastUpdated: now,
			LastSeen:    now,
		}
		g.records[sessionID] = record
	} else {
		if stableID != "" {
			record.StableID = stableID
		}
		record.Status = status
		if now.After(record.LastUpdated) {
			record.LastUpdated = now
		}
		if now.After(record.LastSeen) {
			record.LastSeen = now
		}
	}

	snapshot := *record
	g.mu.Unlock()

	if g.onChange != nil {
		g.onChange(snapshot)
	}
	return record
}

// Get returns a copy of the record for sessionID.
func (g *Registry) Get(sessionID domain.SessionID) (domain.PresenceRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	record, ok := g.records[sessionID]
	if !ok {
		return domain.PresenceRecord{}, false
	}
	return *record, true
}

// Snapshot returns copies of all records. Never fails, never blocks on I/O.
func (g *Registry) Snapshot() []domain.PresenceRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo.Map(lo.Values(g.records), func(r *domain.PresenceRecord, _ int) domain.PresenceRecord {
		return *r
	})
}

// Reset drops all records. Used on logout: presence is transient state.
func (g *Registry) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = make(map[domain.SessionID]*domain.PresenceRecord)
}
