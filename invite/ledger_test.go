package invite

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"wechat-bridge/contract"
	"wechat-bridge/repositories"
)

func openStore(t *testing.T) contract.KeyValueStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repositories.NewKeyValueRepository(db)
}

func Test_RecordSent_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	ledger := NewLedger(slog.Default(), openStore(t))
	req.NoError(ledger.Load())

	first, err := ledger.RecordSent("U1")
	req.NoError(err)
	second, err := ledger.RecordSent("U1")
	req.NoError(err)

	req.Equal(first, second)
}

func Test_Mutuality_Requires_Both_Halves(t *testing.T) {
	req := require.New(t)
	ledger := NewLedger(slog.Default(), openStore(t))
	req.NoError(ledger.Load())

	req.False(ledger.IsMutual("U1"))

	_, err := ledger.RecordSent("U1")
	req.NoError(err)
	req.False(ledger.IsMutual("U1"))

	req.NoError(ledger.RecordReceived("U1", time.Now()))
	req.True(ledger.IsMutual("U1"))
}

func Test_Received_Is_Monotonic(t *testing.T) {
	req := require.New(t)
	store := openStore(t)
	ledger := NewLedger(slog.Default(), store)
	req.NoError(ledger.Load())

	later := time.Now()
	earlier := later.Add(-1 * time.Minute)

	req.NoError(ledger.RecordReceived("U1", later))
	// Redelivered earlier control message must not move the record back
	req.NoError(ledger.RecordReceived("U1", earlier))

	reloaded := NewLedger(slog.Default(), store)
	req.NoError(reloaded.Load())
	req.NoError(reloaded.RecordReceived("U1", earlier))

	_, err := reloaded.RecordSent("U1")
	req.NoError(err)
	req.True(reloaded.IsMutual("U1"))
}

func Test_Ledger_Survives_Restart(t *testing.T) {
	req := require.New(t)
	store := openStore(t)

	ledger := NewLedger(slog.Default(), store)
	req.NoError(ledger.Load())
	stamp, err := ledger.RecordSent("U1")
	req.NoError(err)

	// A fresh ledger over the same store sees the same record
	reloaded := NewLedger(slog.Default(), store)
	req.NoError(reloaded.Load())
	req.True(reloaded.HasSent("U1"))

	again, err := reloaded.RecordSent("U1")
	req.NoError(err)
	req.True(stamp.Equal(again))
}

func Test_SentOnly_Lists_Unanswered_Invites(t *testing.T) {
	req := require.New(t)
	ledger := NewLedger(slog.Default(), openStore(t))
	req.NoError(ledger.Load())

	_, err := ledger.RecordSent("U1")
	req.NoError(err)
	_, err = ledger.RecordSent("U2")
	req.NoError(err)
	req.NoError(ledger.RecordReceived("U2", time.Now()))

	pending := ledger.SentOnly()
	req.Len(pending, 1)
	req.Equal("U1", string(pending[0]))
}
