package workers

import (
	"context"
	"log/slog"
	"time"

	"wechat-bridge/contract"
	"wechat-bridge/domain"
	"wechat-bridge/errors"
	"wechat-bridge/observability"
)

// Dispatch consumes one event batch. The worker calls it synchronously,
// so a batch is fully processed before the next poll goes out. That is
// the single-writer guarantee the shared registries rely on.
type Dispatch func(ctx context.Context, batch domain.EventBatch)

// FatalReport tells the session layer the loop is over and why. The
// loop itself never decides between teardown and re-handshake.
type FatalReport func(err error)

// SyncWorker drives the continuous long-poll cycle for one session.
// Transient transport errors reissue the poll after a fixed backoff;
// fatal ones are reported upward and terminate the worker properly.
// Every exit path either reschedules or reports, never both, never
// neither.
type SyncWorker struct {
	log        *slog.Logger
	client     contract.WebProtocolClient
	token      domain.SessionToken
	backoff    time.Duration
	dispatch   Dispatch
	fatal      FatalReport
	monitoring *observability.MonitoringManager
}

func NewSyncWorker(
	log *slog.Logger,
	client contract.WebProtocolClient,
	token domain.SessionToken,
	backoff time.Duration,
	dispatch Dispatch,
	fatal FatalReport,
	monitoring *observability.MonitoringManager,
) *SyncWorker {
	return &SyncWorker{
		log:        log,
		client:     client,
		token:      token,
		backoff:    backoff,
		dispatch:   dispatch,
		fatal:      fatal,
		monitoring: monitoring,
	}
}

// Run executes the poll loop until the context is canceled or a fatal
// transport error ends the session. A fatal error returns nil on
// purpose: the supervisor must not restart a loop whose session is gone,
// the session layer owns what happens next.
func (w *SyncWorker) Run(ctx context.Context) error {
	w.log.Info("Starting sync worker")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := w.client.LongPoll(ctx, w.token)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch errors.ClassifyTransport(err) {
			case errors.Transient:
				w.monitoring.IncrTransientErrors()
				w.log.Warn("Transient poll failure, backing off", "error", err, "backoff", w.backoff)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(w.backoff):
				}
				continue
			default:
				w.monitoring.IncrFatalTeardowns()
				w.log.Error("Fatal poll failure, reporting upward", "error", err)
				w.fatal(err)
				return nil
			}
		}

		w.monitoring.IncrPollCycles()
		w.monitoring.IncrEventsDispatched(uint64(len(batch.Events)))
		w.dispatch(ctx, batch)
	}
}
