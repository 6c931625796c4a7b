package observability

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SyncStats is the aggregated counter snapshot for one session's loop.
type SyncStats struct {
	PollCycles       uint64 `json:"poll_cycles"`
	EventsDispatched uint64 `json:"events_dispatched"`
	TransientErrors  uint64 `json:"transient_errors"`
	FatalTeardowns   uint64 `json:"fatal_teardowns"`
	MalformedEvents  uint64 `json:"malformed_events"`
	UnknownContacts  uint64 `json:"unknown_contacts"`
}

// RecentEventInfo is one entry of the rolling dispatch feed.
type RecentEventInfo struct {
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
	Timestamp string `json:"timestamp"`
}

const recentEventsKept = 20

// MonitoringManager collects loop telemetry. Counters are atomic so the
// sync worker never blocks on a stats reader.
type MonitoringManager struct {
	log *slog.Logger
	mu  sync.RWMutex

	pollCycles       uint64
	eventsDispatched uint64
	transientErrors  uint64
	fatalTeardowns   uint64
	malformedEvents  uint64
	unknownContacts  uint64

	recent []RecentEventInfo
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log, recent: make([]RecentEventInfo, 0)}
}

func (mm *MonitoringManager) IncrPollCycles() {
	atomic.AddUint64(&mm.pollCycles, 1)
}

func (mm *MonitoringManager) IncrEventsDispatched(n uint64) {
	atomic.AddUint64(&mm.eventsDispatched, n)
}

func (mm *MonitoringManager) IncrTransientErrors() {
	atomic.AddUint64(&mm.transientErrors, 1)
}

func (mm *MonitoringManager) IncrFatalTeardowns() {
	atomic.AddUint64(&mm.fatalTeardowns, 1)
}

func (mm *MonitoringManager) IncrMalformedEvents() {
	atomic.AddUint64(&mm.malformedEvents, 1)
}

func (mm *MonitoringManager) IncrUnknownContacts() {
	atomic.AddUint64(&mm.unknownContacts, 1)
}

// AddRecent records one dispatched event in the rolling feed (thread-safe).
func (mm *MonitoringManager) AddRecent(kind, detail string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	entry := RecentEventInfo{
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().Format("15:04:05"),
	}
	mm.recent = append([]RecentEventInfo{entry}, mm.recent...)
	if len(mm.recent) > recentEventsKept {
		mm.recent = mm.recent[:recentEventsKept]
	}
}

func (mm *MonitoringManager) Snapshot() SyncStats {
	return SyncStats{
		PollCycles:       atomic.LoadUint64(&mm.pollCycles),
		EventsDispatched: atomic.LoadUint64(&mm.eventsDispatched),
		TransientErrors:  atomic.LoadUint64(&mm.transientErrors),
		FatalTeardowns:   atomic.LoadUint64(&mm.fatalTeardowns),
		MalformedEvents:  atomic.LoadUint64(&mm.malformedEvents),
		UnknownContacts:  atomic.LoadUint64(&mm.unknownContacts),
	}
}

func (mm *MonitoringManager) Recent() []RecentEventInfo {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	out := make([]RecentEventInfo, len(mm.recent))
	copy(out, mm.recent)
	return out
}
