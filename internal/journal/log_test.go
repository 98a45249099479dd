package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coralfs/coralfs/internal/finisher"
	"github.com/coralfs/coralfs/internal/metadata"
	"github.com/coralfs/coralfs/internal/objectstore"
	"github.com/coralfs/coralfs/internal/striper"
)

type logFixture struct {
	meta  *metadata.MockStore
	store *objectstore.MockStore
	exec  *finisher.Finisher
	log   *Log
}

func newLogFixture(t *testing.T, cfg Config) *logFixture {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "pq.0"
	}
	if cfg.SegmentSizeBytes == 0 {
		cfg.SegmentSizeBytes = 1 << 20
	}

	f := &logFixture{
		meta:  metadata.NewMockStore(),
		store: objectstore.NewMockStore(),
		exec:  finisher.NewFinisher(),
	}
	f.exec.Start()
	t.Cleanup(f.exec.Stop)
	f.log = NewLog(cfg, f.meta, f.store, f.exec, nil)
	return f
}

// reopen builds a second Log over the same backing stores, as a restarted
// server instance would.
func (f *logFixture) reopen(t *testing.T, cfg Config) *Log {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "pq.0"
	}
	if cfg.SegmentSizeBytes == 0 {
		cfg.SegmentSizeBytes = 1 << 20
	}
	return NewLog(cfg, f.meta, f.store, f.exec, nil)
}

func createLog(t *testing.T, f *logFixture) {
	t.Helper()
	f.log.Create(striper.Default(0), FormatResilient)
	done := make(chan error, 1)
	f.log.WriteHead(func(err error) { done <- err })
	require.NoError(t, waitErr(t, done))
	f.log.SetWriteable()
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
		return nil
	}
}

func appendAndFlush(t *testing.T, l *Log, payloads ...[]byte) {
	t.Helper()
	for _, p := range payloads {
		require.NoError(t, l.AppendEntry(p))
	}
	done := make(chan error, 1)
	l.Flush(func(err error) { done <- err })
	require.NoError(t, waitErr(t, done))
}

func TestLogAppendFlushRead(t *testing.T) {
	f := newLogFixture(t, Config{})
	createLog(t, f)

	assert.False(t, f.log.IsReadable())
	appendAndFlush(t, f.log, []byte("one"), []byte("two"))

	require.True(t, f.log.IsReadable())

	data, ok := f.log.TryReadEntry()
	require.True(t, ok)
	assert.Equal(t, []byte("one"), data)
	posAfterFirst := f.log.ReadPos()
	assert.Equal(t, FrameSize(3), posAfterFirst)

	data, ok = f.log.TryReadEntry()
	require.True(t, ok)
	assert.Equal(t, []byte("two"), data)
	assert.Equal(t, 2*FrameSize(3), f.log.ReadPos())

	assert.False(t, f.log.IsReadable())
	_, ok = f.log.TryReadEntry()
	assert.False(t, ok)
}

func TestLogAppendRequiresWriteable(t *testing.T) {
	f := newLogFixture(t, Config{})
	f.log.Create(striper.Default(0), FormatResilient)

	err := f.log.AppendEntry([]byte("x"))
	assert.ErrorIs(t, err, ErrNotWriteable)
}

func TestLogReadableWaiterFiresOnFlush(t *testing.T) {
	f := newLogFixture(t, Config{})
	createLog(t, f)

	fired := make(chan error, 1)
	f.log.WaitForReadable(func(err error) { fired <- err })
	require.True(t, f.log.HaveWaiter())

	appendAndFlush(t, f.log, []byte("entry"))

	require.NoError(t, waitErr(t, fired))
	assert.False(t, f.log.HaveWaiter())
	assert.True(t, f.log.IsReadable())
}

func TestLogWaiterFiresImmediatelyWhenReadable(t *testing.T) {
	f := newLogFixture(t, Config{})
	createLog(t, f)
	appendAndFlush(t, f.log, []byte("entry"))

	fired := make(chan error, 1)
	f.log.WaitForReadable(func(err error) { fired <- err })
	require.NoError(t, waitErr(t, fired))
}

func TestLogFlushWithoutPendingCompletes(t *testing.T) {
	f := newLogFixture(t, Config{})
	createLog(t, f)

	done := make(chan error, 1)
	f.log.Flush(func(err error) { done <- err })
	require.NoError(t, waitErr(t, done))
}

func TestLogRecoverNoHead(t *testing.T) {
	f := newLogFixture(t, Config{})

	done := make(chan error, 1)
	f.log.Recover(func(err error) { done <- err })
	assert.ErrorIs(t, waitErr(t, done), ErrHeadNotFound)
}

func TestLogRecoverReplaysUnexecutedEntries(t *testing.T) {
	f := newLogFixture(t, Config{})
	createLog(t, f)
	appendAndFlush(t, f.log, []byte("a"), []byte("b"), []byte("c"))

	// Consume the first entry and expire up to it.
	data, ok := f.log.TryReadEntry()
	require.True(t, ok)
	assert.Equal(t, []byte("a"), data)
	f.log.SetExpirePos(f.log.ReadPos())

	// Persist the expire position the way a trim would.
	done := make(chan error, 1)
	f.log.WriteHead(func(err error) { done <- err })
	require.NoError(t, waitErr(t, done))
	f.log.Shutdown()

	// A restarted instance replays only b and c.
	l2 := f.reopen(t, Config{})
	recovered := make(chan error, 1)
	l2.Recover(func(err error) { recovered <- err })
	require.NoError(t, waitErr(t, recovered))
	l2.SetWriteable()

	assert.Equal(t, FrameSize(1), l2.ReadPos())
	assert.Equal(t, 3*FrameSize(1), l2.WritePos())

	data, ok = l2.TryReadEntry()
	require.True(t, ok)
	assert.Equal(t, []byte("b"), data)
	data, ok = l2.TryReadEntry()
	require.True(t, ok)
	assert.Equal(t, []byte("c"), data)
	assert.False(t, l2.IsReadable())

	// The recovered journal can keep appending.
	appendAndFlush(t, l2, []byte("d"))
	data, ok = l2.TryReadEntry()
	require.True(t, ok)
	assert.Equal(t, []byte("d"), data)
}

func TestLogRecoverWithCompression(t *testing.T) {
	for _, codec := range []string{"snappy", "lz4", "zstd"} {
		t.Run(codec, func(t *testing.T) {
			f := newLogFixture(t, Config{Name: "pq.1", Rank: 1, Compression: codec})
			createLog(t, f)
			appendAndFlush(t, f.log, []byte("payload-"+codec))
			f.log.Shutdown()

			l2 := f.reopen(t, Config{Name: "pq.1", Rank: 1})
			recovered := make(chan error, 1)
			l2.Recover(func(err error) { recovered <- err })
			require.NoError(t, waitErr(t, recovered))

			data, ok := l2.TryReadEntry()
			require.True(t, ok)
			assert.Equal(t, []byte("payload-"+codec), data)
		})
	}
}

func TestLogSegmentSealingAndTrim(t *testing.T) {
	// Tiny segments force a seal on every flush.
	f := newLogFixture(t, Config{SegmentSizeBytes: 1})
	createLog(t, f)

	appendAndFlush(t, f.log, []byte("first"))
	appendAndFlush(t, f.log, []byte("second"))

	segs, err := f.store.List(t.Context(), SegmentPrefix("pq.0"))
	require.NoError(t, err)
	require.Len(t, segs, 2)

	// Consume and expire past the first entry; trim drops its segment.
	f.log.TryReadEntry()
	f.log.SetExpirePos(f.log.ReadPos())
	f.log.Trim()

	require.Eventually(t, func() bool {
		segs, err := f.store.List(t.Context(), SegmentPrefix("pq.0"))
		return err == nil && len(segs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The remaining entry is still readable.
	data, ok := f.log.TryReadEntry()
	require.True(t, ok)
	assert.Equal(t, []byte("second"), data)
}

func TestLogExpirePosMonotone(t *testing.T) {
	f := newLogFixture(t, Config{})
	createLog(t, f)
	appendAndFlush(t, f.log, []byte("x"), []byte("y"))

	f.log.SetExpirePos(100)
	f.log.SetExpirePos(50)
	assert.Equal(t, uint64(100), f.log.ExpirePos())
}

func TestLogStaleHeadStopsWrites(t *testing.T) {
	f := newLogFixture(t, Config{})
	createLog(t, f)

	// Another instance rewrites the head behind our back.
	_, err := f.meta.Put(t.Context(), HeadKey(0), []byte(`{"format":1}`))
	require.NoError(t, err)

	require.NoError(t, f.log.AppendEntry([]byte("doomed")))
	done := make(chan error, 1)
	f.log.Flush(func(err error) { done <- err })
	assert.ErrorIs(t, waitErr(t, done), ErrStaleHead)
	assert.False(t, f.log.IsWriteable())
}

func TestLogShutdownDropsCallbacks(t *testing.T) {
	f := newLogFixture(t, Config{})
	createLog(t, f)
	f.log.Shutdown()

	assert.ErrorIs(t, f.log.AppendEntry([]byte("x")), ErrShutdown)

	// Flush after shutdown never fires its callback.
	fired := make(chan error, 1)
	f.log.Flush(func(err error) { fired <- err })
	select {
	case <-fired:
		t.Error("flush callback fired after shutdown")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLogSecondWaiterPanics(t *testing.T) {
	f := newLogFixture(t, Config{})
	createLog(t, f)

	f.log.WaitForReadable(func(error) {})
	assert.Panics(t, func() {
		f.log.WaitForReadable(func(error) {})
	})
}

func TestLogAutoFlushTimer(t *testing.T) {
	f := newLogFixture(t, Config{FlushInterval: 10 * time.Millisecond})
	createLog(t, f)

	require.NoError(t, f.log.AppendEntry([]byte("timed")))

	require.Eventually(t, f.log.IsReadable, 5*time.Second, 5*time.Millisecond)
}

func TestLogRecoverBadHead(t *testing.T) {
	f := newLogFixture(t, Config{})
	_, err := f.meta.Put(t.Context(), HeadKey(0), []byte("not json"))
	require.NoError(t, err)

	done := make(chan error, 1)
	f.log.Recover(func(err error) { done <- err })
	assert.True(t, errors.Is(waitErr(t, done), ErrBadHeadRecord))
}
