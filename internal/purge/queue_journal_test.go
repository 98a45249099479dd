package purge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralfs/coralfs/internal/datapool"
	"github.com/coralfs/coralfs/internal/finisher"
	"github.com/coralfs/coralfs/internal/journal"
	"github.com/coralfs/coralfs/internal/metadata"
	"github.com/coralfs/coralfs/internal/objectstore"
	"github.com/coralfs/coralfs/internal/striper"
)

// These tests run the engine against the real object-store-backed journal
// instead of the in-memory mock, exercising the full append / flush /
// segment / head path.

type journalFixture struct {
	meta  *metadata.MockStore
	store *objectstore.MockStore
}

func (jf *journalFixture) newQueue(t *testing.T, client datapool.Client) (*Queue, *journal.Log, *finisher.Finisher) {
	t.Helper()
	exec := finisher.NewFinisher()
	log := journal.NewLog(journal.Config{
		Name:             "pq.0",
		SegmentSizeBytes: 1 << 20,
		Compression:      "snappy",
	}, jf.meta, jf.store, exec, nil)
	q := NewQueue(Config{}, log, client, exec)
	q.Init()
	return q, log, exec
}

func TestQueueOverRealJournal(t *testing.T) {
	jf := &journalFixture{meta: metadata.NewMockStore(), store: objectstore.NewMockStore()}
	client := datapool.NewMockClient()
	q, _, _ := jf.newQueue(t, client)

	created := make(chan error, 1)
	q.OpenOrCreate(func(err error) { created <- err })
	require.NoError(t, waitErr(t, created))

	item := PurgeItem{Ino: 0x42, Size: 0, Layout: striper.Default(3), OldPools: []int64{9}}
	push(t, q, item)

	require.Eventually(t, func() bool { return q.InFlight() == 0 && len(client.Ops()) == 2 },
		5*time.Second, time.Millisecond)

	ops := client.Ops()
	assert.Equal(t, striper.BacktraceName(0x42), ops[0].Name)
	assert.Equal(t, int64(3), ops[0].Loc.Pool)
	assert.Equal(t, int64(9), ops[1].Loc.Pool)

	q.Shutdown()
}

func TestQueueRestartResumesFromJournal(t *testing.T) {
	jf := &journalFixture{meta: metadata.NewMockStore(), store: objectstore.NewMockStore()}

	// First incarnation: items become durable but never execute (the
	// client holds completions), then the server "crashes".
	blocked := datapool.NewMockClient()
	blocked.Manual = true
	q1, _, _ := jf.newQueue(t, blocked)

	created := make(chan error, 1)
	q1.OpenOrCreate(func(err error) { created <- err })
	require.NoError(t, waitErr(t, created))

	itemA := PurgeItem{Ino: 0xA, Layout: striper.Default(1)}
	itemB := PurgeItem{Ino: 0xB, Layout: striper.Default(1)}
	push(t, q1, itemA)
	push(t, q1, itemB)
	q1.Shutdown()

	// Second incarnation: Open recovers and executes both, in order.
	client := datapool.NewMockClient()
	q2, log2, _ := jf.newQueue(t, client)

	opened := make(chan error, 1)
	q2.Open(func(err error) { opened <- err })
	require.NoError(t, waitErr(t, opened))

	require.Eventually(t, func() bool {
		return q2.InFlight() == 0 && !log2.IsReadable() && len(client.Ops()) == 2
	}, 5*time.Second, time.Millisecond)

	ops := client.Ops()
	assert.Equal(t, striper.BacktraceName(0xA), ops[0].Name)
	assert.Equal(t, striper.BacktraceName(0xB), ops[1].Name)

	// Both completions advanced the expire frontier to the log end.
	assert.Equal(t, log2.WritePos(), log2.ExpirePos())
	q2.Shutdown()
}

func TestQueueCreateThenReopenEmpty(t *testing.T) {
	jf := &journalFixture{meta: metadata.NewMockStore(), store: objectstore.NewMockStore()}
	q1, _, _ := jf.newQueue(t, datapool.NewMockClient())

	created := make(chan error, 1)
	q1.OpenOrCreate(func(err error) { created <- err })
	require.NoError(t, waitErr(t, created))
	q1.Shutdown()

	// Reopening finds the head this time; no second Create happens.
	q2, log2, _ := jf.newQueue(t, datapool.NewMockClient())
	opened := make(chan error, 1)
	q2.Open(func(err error) { opened <- err })
	require.NoError(t, waitErr(t, opened))
	assert.Equal(t, uint64(0), log2.WritePos())
	q2.Shutdown()
}
