package directory

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"wechat-bridge/domain"
)

type OnChange func(profile domain.ProfileRecord)

// Directory holds one profile per stable id. Profiles are created on
// first sighting and mutated in place afterwards, never recreated, so
// outstanding references remain valid. Avatar data always arrives later
// than the profile and sometimes earlier than the identity resolution
// that would create it: attaches for unknown ids are queued, not failed.
type Directory struct {
	mu       sync.Mutex
	profiles map[domain.StableID]*domain.ProfileRecord
	// pending holds avatar payloads seen before their profile existed.
	pending  map[domain.StableID]domain.AvatarPayload
	onChange OnChange
}

func NewDirectory(onChange OnChange) *Directory {
	return &Directory{
		profiles: make(map[domain.StableID]*domain.ProfileRecord),
		pending:  make(map[domain.StableID]domain.AvatarPayload),
		onChange: onChange,
	}
}

// UpsertProfile creates or refreshes the profile for stableID from a
// roster entry. A queued avatar is applied on creation.
func (d *Directory) UpsertProfile(stableID domain.StableID, raw domain.RawContact) *domain.ProfileRecord {
	d.mu.Lock()
	now := time.Now()

	profile, ok := d.profiles[stableID]
	if !ok {
		profile = &domain.ProfileRecord{StableID: stableID}
		d.profiles[stableID] = profile
	}
	if raw.DisplayName != "" {
		profile.DisplayName = raw.DisplayName
	}
	profile.LastUpdated = now

	if queued, ok := d.pending[stableID]; ok {
		profile.AvatarURL = queued.URL
		profile.ImageData = queued.ImageData
		delete(d.pending, stableID)
	}

	snapshot := *profile
	d.mu.Unlock()

	if d.onChange != nil {
		d.onChange(snapshot)
	}
	return profile
}

// AttachAvatar sets avatar data on the profile for stableID. If the
// profile does not exist yet this is a soft miss: the payload is queued
// and applied when the profile appears.
func (d *Directory) AttachAvatar(stableID domain.StableID, avatar domain.AvatarPayload) {
	d.mu.Lock()

	profile, ok := d.profiles[stableID]
	if !ok {
		d.pending[stableID] = avatar
		d.mu.Unlock()
		return
	}

	profile.AvatarURL = avatar.URL
	profile.ImageData = avatar.ImageData
	profile.LastUpdated = time.Now()

	snapshot := *profile
	d.mu.Unlock()

	if d.onChange != nil {
		d.onChange(snapshot)
	}
}

func (d *Directory) Get(stableID domain.StableID) (domain.ProfileRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	profile, ok := d.profiles[stableID]
	if !ok {
		return domain.ProfileRecord{}, false
	}
	return *profile, true
}

// Snapshot returns copies of all profiles. Never fails, never blocks on I/O.
func (d *Directory) Snapshot() []domain.ProfileRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lo.Map(lo.Values(d.profiles), func(p *domain.ProfileRecord, _ int) domain.ProfileRecord {
		return *p
	})
}

func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.profiles)
}

// Reset drops all profiles and queued avatars. Used on logout.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles = make(map[domain.StableID]*domain.ProfileRecord)
	d.pending = make(map[domain.StableID]domain.AvatarPayload)
}
