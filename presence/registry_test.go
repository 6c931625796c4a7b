package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wechat-bridge/domain"
)

func Test_Upsert_Single_Record_Per_Session(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(nil)

	registry.Upsert("@alice", "", domain.Online)
	registry.Upsert("@alice", "U1", domain.Offline)
	registry.Upsert("@alice", "", domain.Online)
	registry.Upsert("@bob", "U2", domain.Online)

	records := registry.Snapshot()
	req.Len(records, 2)

	record, ok := registry.Get("@alice")
	req.True(ok)
	req.Equal(domain.Online, record.Status)
	// Resolved id survives an upsert with an empty stable id
	req.Equal(domain.StableID("U1"), record.StableID)
}

func Test_Upsert_Keeps_Record_Identity(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(nil)

	first := registry.Upsert("@alice", "U1", domain.Online)
	second := registry.Upsert("@alice", "U1", domain.Offline)

	req.Same(first, second)
	req.Equal(domain.Offline, first.Status)
}

func Test_Timestamps_Never_Decrease(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(nil)

	clock := time.Now()
	registry.now = func() time.Time { return clock }

	registry.Upsert("@alice", "U1", domain.Online)
	first, _ := registry.Get("@alice")

	// Clock jumping backwards must not move the record backwards
	registry.now = func() time.Time { return clock.Add(-1 * time.Hour) }
	registry.Upsert("@alice", "U1", domain.Offline)

	second, _ := registry.Get("@alice")
	req.False(second.LastUpdated.Before(first.LastUpdated))
	req.False(second.LastSeen.Before(first.LastSeen))
}

func Test_Every_Upsert_Notifies(t *testing.T) {
	req := require.New(t)

	var notified []domain.PresenceRecord
	registry := NewRegistry(func(record domain.PresenceRecord) {
		notified = append(notified, record)
	})

	registry.Upsert("@alice", "U1", domain.Online)
	registry.Upsert("@alice", "U1", domain.OnlineOtherApp)

	req.Len(notified, 2)
	req.Equal(domain.Online, notified[0].Status)
	req.Equal(domain.OnlineOtherApp, notified[1].Status)
}

func Test_Reset_Drops_All_Records(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry(nil)

	registry.Upsert("@alice", "U1", domain.Online)
	registry.Reset()

	req.Empty(registry.Snapshot())
}
