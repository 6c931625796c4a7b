package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"wechat-bridge/domain"
	"wechat-bridge/errors"
	"wechat-bridge/mocks"
	"wechat-bridge/observability"
)

func TestSyncWorker_TransientErrorKeepsLoopAlive(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockWebProtocolClient(ctrl)
	monitoring := observability.NewMonitoringManager(slog.Default())

	var polls int32
	client.EXPECT().
		LongPoll(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ domain.SessionToken) (domain.EventBatch, error) {
			if atomic.AddInt32(&polls, 1) == 1 {
				return domain.EventBatch{}, fmt.Errorf("read tcp: connection reset")
			}
			return domain.EventBatch{Events: []domain.SyncEvent{{Kind: domain.PresenceDeltaEvent}}}, nil
		}).
		MinTimes(2)

	var dispatched int32
	worker := NewSyncWorker(slog.Default(), client, "token", 10*time.Millisecond,
		func(ctx context.Context, batch domain.EventBatch) {
			atomic.AddInt32(&dispatched, 1)
		},
		func(err error) {
			t.Errorf("transient error must not report fatal: %v", err)
		},
		monitoring,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := worker.Run(ctx)

	req.ErrorIs(err, context.DeadlineExceeded)
	req.GreaterOrEqual(atomic.LoadInt32(&dispatched), int32(1))
	req.GreaterOrEqual(monitoring.Snapshot().TransientErrors, uint64(1))
}

func TestSyncWorker_FatalErrorReportsAndTerminates(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockWebProtocolClient(ctrl)
	monitoring := observability.NewMonitoringManager(slog.Default())

	client.EXPECT().
		LongPoll(gomock.Any(), gomock.Any()).
		Return(domain.EventBatch{}, errors.ErrSessionInvalid).
		Times(1)

	var reported error
	worker := NewSyncWorker(slog.Default(), client, "token", 10*time.Millisecond,
		func(ctx context.Context, batch domain.EventBatch) {
			t.Error("nothing to dispatch on a fatal poll")
		},
		func(err error) { reported = err },
		monitoring,
	)

	// nil return: the supervisor must not restart a torn-down session
	err := worker.Run(context.Background())
	req.NoError(err)
	req.ErrorIs(reported, errors.ErrSessionInvalid)
	req.Equal(uint64(1), monitoring.Snapshot().FatalTeardowns)
}

func TestSyncWorker_CancelStopsBackoffWait(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockWebProtocolClient(ctrl)
	monitoring := observability.NewMonitoringManager(slog.Default())

	client.EXPECT().
		LongPoll(gomock.Any(), gomock.Any()).
		Return(domain.EventBatch{}, fmt.Errorf("timeout")).
		Times(1)

	worker := NewSyncWorker(slog.Default(), client, "token", 10*time.Second,
		func(ctx context.Context, batch domain.EventBatch) {},
		func(err error) {},
		monitoring,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		req.ErrorIs(err, context.Canceled)
	case <-time.After(1 * time.Second):
		req.Fail("worker must leave the backoff wait on cancel")
	}
}
