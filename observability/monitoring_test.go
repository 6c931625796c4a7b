package observability

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Snapshot_Reflects_Counters(t *testing.T) {
	req := require.New(t)
	monitoring := NewMonitoringManager(slog.Default())

	monitoring.IncrPollCycles()
	monitoring.IncrPollCycles()
	monitoring.IncrEventsDispatched(3)
	monitoring.IncrTransientErrors()
	monitoring.IncrMalformedEvents()
	monitoring.IncrUnknownContacts()

	stats := monitoring.Snapshot()
	req.Equal(uint64(2), stats.PollCycles)
	req.Equal(uint64(3), stats.EventsDispatched)
	req.Equal(uint64(1), stats.TransientErrors)
	req.Equal(uint64(0), stats.FatalTeardowns)
	req.Equal(uint64(1), stats.MalformedEvents)
	req.Equal(uint64(1), stats.UnknownContacts)
}

func Test_Recent_Keeps_Newest_First_And_Bounded(t *testing.T) {
	req := require.New(t)
	monitoring := NewMonitoringManager(slog.Default())

	for i := 0; i < recentEventsKept+5; i++ {
		monitoring.AddRecent("MESSAGE", fmt.Sprintf("@contact%d", i))
	}

	recent := monitoring.Recent()
	req.Len(recent, recentEventsKept)
	req.Equal(fmt.Sprintf("@contact%d", recentEventsKept+4), recent[0].Detail)
}
