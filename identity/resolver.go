package identity

import (
	"fmt"
	"log/slog"
	"sync"

	"wechat-bridge/domain"
)

// Link is one freshly established sessionId→stableId association.
type Link struct {
	SessionID domain.SessionID
	StableID  domain.StableID
	IsGroup   bool
}

// Resolver reconciles the two identifier namespaces of the protocol.
// The roster announces session identifiers first; stable ids trickle in
// later through identity batches on the sync loop. Resolution is
// monotonic within one session: a session identifier never re-links to a
// different stable id.
type Resolver struct {
	mu       sync.Mutex
	log      *slog.Logger
	contacts map[domain.SessionID]domain.StableID
	groups   map[domain.SessionID]domain.StableID
	reverse  map[domain.StableID]domain.SessionID
	// tracked is every session identifier known to exist, resolved or
	// not. The DONE predicate is recomputed against it on every batch
	// because group-metadata events keep growing it.
	tracked map[domain.SessionID]struct{}
}

func NewResolver(log *slog.Logger) *Resolver {
	return &Resolver{
		log:      log,
		contacts: make(map[domain.SessionID]domain.StableID),
		groups:   make(map[domain.SessionID]domain.StableID),
		reverse:  make(map[domain.StableID]domain.SessionID),
		tracked:  make(map[domain.SessionID]struct{}),
	}
}

// Track registers session identifiers awaiting resolution. Called with
// the full roster after the contact fetch and again for every contact or
// group announced later.
func (r *Resolver) Track(ids ...domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.tracked[id] = struct{}{}
	}
}

// Observe ingests one identity batch and returns the links that were not
// known before. Re-observing a pair is a no-op; a conflicting pair is
// logged and ignored.
func (r *Resolver) Observe(batch map[domain.SessionID]domain.StableID) []Link {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fresh []Link
	for sessionID, stableID := range batch {
		namespace := r.contacts
		isGroup := sessionID.IsGroup()
		if isGroup {
			namespace = r.groups
		}

		if known, ok := namespace[sessionID]; ok {
			if known != stableID {
				r.log.Warn("Conflicting identity pair ignored",
					"session_id", sessionID, "kept", known, "ignored", stableID)
			}
			continue
		}

		namespace[sessionID] = stableID
		r.reverse[stableID] = sessionID
		r.tracked[sessionID] = struct{}{}
		fresh = append(fresh, Link{SessionID: sessionID, StableID: stableID, IsGroup: isGroup})
	}
	return fresh
}

// Done reports whether every tracked session identifier has resolved.
func (r *Resolver) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contacts)+len(r.groups) == len(r.tracked)
}

func (r *Resolver) ResolvedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contacts) + len(r.groups)
}

// Lookup returns the stable id linked to a session identifier.
func (r *Resolver) Lookup(sessionID domain.SessionID) (domain.StableID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stableID, ok := r.contacts[sessionID]; ok {
		return stableID, true
	}
	stableID, ok := r.groups[sessionID]
	return stableID, ok
}

// Reverse returns the session identifier a stable id is addressed by.
func (r *Resolver) Reverse(stableID domain.StableID) (domain.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessionID, ok := r.reverse[stableID]
	return sessionID, ok
}

func (r *Resolver) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("resolved %d/%d", len(r.contacts)+len(r.groups), len(r.tracked))
}
