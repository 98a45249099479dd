package journal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coralfs/coralfs/internal/finisher"
	"github.com/coralfs/coralfs/internal/logging"
	"github.com/coralfs/coralfs/internal/metadata"
	"github.com/coralfs/coralfs/internal/metrics"
	"github.com/coralfs/coralfs/internal/objectstore"
	"github.com/coralfs/coralfs/internal/striper"
)

// Config configures a Log.
type Config struct {
	// Name is the journal's object name prefix, e.g. "pq.0".
	Name string

	// Rank selects the head record key.
	Rank int32

	// SegmentSizeBytes is the target size of a segment object. Once the
	// open segment's body reaches it, the segment is sealed and a new
	// one started.
	SegmentSizeBytes int64

	// FlushInterval bounds how long appended entries may sit unflushed.
	// Zero disables the automatic flush timer.
	FlushInterval time.Duration

	// Compression selects the segment codec for newly created journals.
	// Recovered journals keep the codec recorded in their head.
	Compression string
}

type entry struct {
	payload []byte
	end     uint64
}

type segmentState struct {
	start  uint64
	end    uint64
	sealed bool
}

// Log implements Journal on top of an object store (segment objects) and
// a metadata store (head record).
type Log struct {
	cfg     Config
	meta    metadata.Store
	store   objectstore.Store
	exec    *finisher.Finisher
	metrics *metrics.JournalMetrics
	log     *logging.Logger

	mu    sync.Mutex
	timer *finisher.Timer

	head        *Head
	headVersion metadata.Version
	codec       uint8

	recovered bool
	writeable bool
	stopped   bool

	writePos   uint64 // after last appended entry, including unflushed
	flushedPos uint64 // durable up to here
	readPos    uint64
	expirePos  uint64

	pending  []entry // appended, awaiting flush
	readable []entry // durable, awaiting TryReadEntry

	segments []segmentState
	openBody []byte // accumulated frames of the unsealed segment

	flushing     bool
	flushWaiters []func(error)
	autoFlushID  uint64

	waiter func(error)

	// ioMu serialises segment and head writes so head CAS versions
	// advance in order.
	ioMu sync.Mutex
}

// NewLog creates a Log. m may be nil to disable metrics.
func NewLog(cfg Config, meta metadata.Store, store objectstore.Store,
	exec *finisher.Finisher, m *metrics.JournalMetrics) *Log {

	l := &Log{
		cfg:     cfg,
		meta:    meta,
		store:   store,
		exec:    exec,
		metrics: m,
		log:     logging.Subsystem("journal").WithRank(cfg.Rank),
	}
	l.timer = finisher.NewTimer(&l.mu)
	return l
}

// Recover loads the head record and replays the log.
func (l *Log) Recover(onDone func(error)) {
	go func() {
		err := l.recover()
		l.exec.Queue(func() { onDone(err) })
	}()
}

func (l *Log) recover() error {
	ctx := context.Background()

	result, err := l.meta.Get(ctx, HeadKey(l.cfg.Rank))
	if err != nil {
		return err
	}
	if !result.Exists {
		return ErrHeadNotFound
	}

	head, err := DecodeHead(result.Value)
	if err != nil {
		return err
	}

	codec, err := ParseCompression(head.Compression)
	if err != nil {
		return err
	}

	// Replay entries in [ExpirePos, WritePos): everything below the
	// expire position has already completed.
	var readable []entry
	var openBody []byte
	segments := make([]segmentState, 0, len(head.Segments))

	for _, seg := range head.Segments {
		segments = append(segments, segmentState{start: seg.Start, end: seg.End, sealed: seg.Sealed})

		needReplay := seg.End > head.ExpirePos && seg.End > seg.Start
		if !needReplay && seg.Sealed {
			continue
		}

		var body []byte
		if seg.End > seg.Start {
			rc, err := l.store.Get(ctx, SegmentKey(l.cfg.Name, seg.Start))
			if err != nil {
				return err
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return err
			}
			body, err = DecodeSegment(data)
			if err != nil {
				return err
			}
		}

		if !seg.Sealed {
			openBody = append([]byte(nil), body...)
		}

		frames, err := ParseFrames(body)
		if err != nil {
			return err
		}
		off := seg.Start
		for _, frame := range frames {
			off += FrameSize(len(frame))
			if off <= head.ExpirePos {
				continue
			}
			payload := append([]byte(nil), frame...)
			readable = append(readable, entry{payload: payload, end: off})
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrShutdown
	}

	l.head = head
	l.headVersion = result.Version
	l.codec = codec
	l.writePos = head.WritePos
	l.flushedPos = head.WritePos
	l.readPos = head.ExpirePos
	l.expirePos = head.ExpirePos
	l.readable = readable
	l.segments = segments
	l.openBody = openBody
	l.recovered = true
	l.timer.Init()

	l.log.Infof("recovered", map[string]any{
		"writePos":  head.WritePos,
		"expirePos": head.ExpirePos,
		"entries":   len(readable),
		"segments":  len(segments),
	})
	return nil
}

// Create initialises a fresh, empty journal.
func (l *Log) Create(layout striper.Layout, format uint32) {
	codec, err := ParseCompression(l.cfg.Compression)
	if err != nil {
		codec = CompressionNone
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.head = &Head{
		JournalID:   uuid.New(),
		Format:      format,
		Layout:      layout,
		Compression: CompressionName(codec),
	}
	l.headVersion = 0
	l.codec = codec
	l.writePos = 0
	l.flushedPos = 0
	l.readPos = 0
	l.expirePos = 0
	l.recovered = true
	l.timer.Init()

	l.log.Infof("created", map[string]any{
		"journalId":   l.head.JournalID.String(),
		"compression": l.head.Compression,
	})
}

// WriteHead persists the head record.
func (l *Log) WriteHead(onDone func(error)) {
	go func() {
		err := l.persistHead()
		l.exec.Queue(func() { onDone(err) })
	}()
}

// SetWriteable marks the journal writable.
func (l *Log) SetWriteable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeable = true
}

// IsWriteable reports whether appends are currently allowed.
func (l *Log) IsWriteable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeable && !l.stopped
}

// IsReadable reports whether TryReadEntry would return an entry.
func (l *Log) IsReadable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.readable) > 0
}

// AppendEntry buffers an entry for durable write.
func (l *Log) AppendEntry(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrShutdown
	}
	if !l.writeable {
		return ErrNotWriteable
	}

	payload := append([]byte(nil), data...)
	l.writePos += FrameSize(len(payload))
	l.pending = append(l.pending, entry{payload: payload, end: l.writePos})

	if l.metrics != nil {
		l.metrics.AppendsTotal.Inc()
		l.metrics.AppendedBytes.Add(float64(len(payload)))
	}

	if l.cfg.FlushInterval > 0 && l.autoFlushID == 0 {
		l.autoFlushID = l.timer.Schedule(l.cfg.FlushInterval, func() {
			// Runs with l.mu held (timer is coupled to it).
			l.autoFlushID = 0
			l.flushLocked(nil)
		})
	}
	return nil
}

// Flush makes all prior appends durable, then invokes onDone.
func (l *Log) Flush(onDone func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked(onDone)
}

// flushLocked is called with l.mu held.
func (l *Log) flushLocked(onDone func(error)) {
	if l.stopped {
		return
	}
	if onDone != nil {
		l.flushWaiters = append(l.flushWaiters, onDone)
	}
	if l.flushing {
		return
	}
	if len(l.pending) == 0 {
		// Everything already durable.
		waiters := l.flushWaiters
		l.flushWaiters = nil
		for _, w := range waiters {
			w := w
			l.exec.Queue(func() { w(nil) })
		}
		return
	}
	l.flushing = true
	go l.flushLoop()
}

func (l *Log) flushLoop() {
	for {
		l.mu.Lock()
		if l.stopped {
			l.flushing = false
			l.mu.Unlock()
			return
		}
		if len(l.pending) == 0 {
			waiters := l.flushWaiters
			l.flushWaiters = nil
			l.flushing = false
			l.mu.Unlock()
			l.deliver(waiters, nil)
			return
		}

		batch := l.pending
		l.pending = nil
		waiters := l.flushWaiters
		l.flushWaiters = nil
		l.mu.Unlock()

		start := time.Now()
		err := l.writeBatch(batch)
		if l.metrics != nil {
			l.metrics.RecordFlush(time.Since(start).Seconds(), err == nil)
		}

		if err != nil {
			l.log.Errorf("flush failed", map[string]any{"error": err.Error()})
			l.mu.Lock()
			if errors.Is(err, ErrStaleHead) {
				l.writeable = false
			}
			// Put the batch back so a later flush retries it.
			l.pending = append(batch, l.pending...)
			l.flushing = false
			l.mu.Unlock()
			l.deliver(waiters, err)
			return
		}

		l.mu.Lock()
		l.flushedPos = batch[len(batch)-1].end
		l.readable = append(l.readable, batch...)
		l.fireWaiterLocked()
		l.mu.Unlock()

		l.deliver(waiters, nil)
	}
}

// writeBatch appends a batch of entries to the open segment, writes the
// segment object and persists the head. Sealing happens when the open
// segment reaches the target size.
func (l *Log) writeBatch(batch []entry) error {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()

	ctx := context.Background()

	l.mu.Lock()
	// Open a segment if none is open.
	if len(l.segments) == 0 || l.segments[len(l.segments)-1].sealed {
		segStart := batch[0].end - FrameSize(len(batch[0].payload))
		l.segments = append(l.segments, segmentState{start: segStart, end: segStart})
		l.openBody = nil
	}
	seg := &l.segments[len(l.segments)-1]

	body := make([]byte, len(l.openBody))
	copy(body, l.openBody)
	for _, e := range batch {
		body = append(body, FrameEntry(e.payload)...)
	}
	segStart := seg.start
	batchEnd := batch[len(batch)-1].end
	codec := l.codec
	l.mu.Unlock()

	encoded, err := EncodeSegment(body, codec)
	if err != nil {
		return err
	}
	key := SegmentKey(l.cfg.Name, segStart)
	if err := l.store.Put(ctx, key, bytes.NewReader(encoded), int64(len(encoded))); err != nil {
		return err
	}
	if l.metrics != nil {
		l.metrics.SegmentsWritten.Inc()
	}

	// Commit the segment state, then persist the head.
	l.mu.Lock()
	seg = &l.segments[len(l.segments)-1]
	seg.end = batchEnd
	if int64(len(body)) >= l.cfg.SegmentSizeBytes {
		seg.sealed = true
		l.openBody = nil
	} else {
		l.openBody = body
	}
	l.head.WritePos = batchEnd
	l.mu.Unlock()

	return l.persistHeadLockedIO()
}

// persistHead writes the head record under the I/O mutex.
func (l *Log) persistHead() error {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	return l.persistHeadLockedIO()
}

// persistHeadLockedIO writes the head record. Caller holds ioMu.
func (l *Log) persistHeadLockedIO() error {
	l.mu.Lock()
	if l.head == nil {
		l.mu.Unlock()
		return ErrBadHeadRecord
	}
	head := *l.head
	head.ExpirePos = l.expirePos
	head.Segments = make([]SegmentInfo, len(l.segments))
	for i, s := range l.segments {
		head.Segments[i] = SegmentInfo{Start: s.start, End: s.end, Sealed: s.sealed}
	}
	version := l.headVersion
	l.mu.Unlock()

	data, err := EncodeHead(&head)
	if err != nil {
		return err
	}

	newVersion, err := l.meta.Put(context.Background(), HeadKey(l.cfg.Rank), data,
		metadata.WithExpectedVersion(version))
	if err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			return ErrStaleHead
		}
		return err
	}

	l.mu.Lock()
	l.headVersion = newVersion
	l.mu.Unlock()
	return nil
}

func (l *Log) deliver(waiters []func(error), err error) {
	for _, w := range waiters {
		w := w
		l.exec.Queue(func() { w(err) })
	}
}

// fireWaiterLocked fires the readable-waiter if entries are available.
// Caller holds l.mu.
func (l *Log) fireWaiterLocked() {
	if l.waiter == nil || len(l.readable) == 0 {
		return
	}
	w := l.waiter
	l.waiter = nil
	l.exec.Queue(func() { w(nil) })
}

// WaitForReadable registers the readable-waiter.
func (l *Log) WaitForReadable(onDone func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waiter != nil {
		panic("journal: readable waiter already registered")
	}
	l.waiter = onDone
	l.fireWaiterLocked()
}

// HaveWaiter reports whether a readable-waiter is registered.
func (l *Log) HaveWaiter() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiter != nil
}

// TryReadEntry returns the next entry without blocking.
func (l *Log) TryReadEntry() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.readable) == 0 {
		return nil, false
	}
	e := l.readable[0]
	l.readable = l.readable[1:]
	l.readPos = e.end
	return e.payload, true
}

// ReadPos returns where the next read will begin.
func (l *Log) ReadPos() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readPos
}

// WritePos returns the offset after the last appended entry.
func (l *Log) WritePos() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writePos
}

// ExpirePos returns the current expire position.
func (l *Log) ExpirePos() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expirePos
}

// SetExpirePos advances the expire position. It never moves backwards.
func (l *Log) SetExpirePos(pos uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos > l.expirePos {
		l.expirePos = pos
	}
}

// Trim deletes sealed segments entirely below the expire position and
// persists the head.
func (l *Log) Trim() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}

	var removed []segmentState
	kept := l.segments[:0]
	for _, seg := range l.segments {
		if seg.sealed && seg.end <= l.expirePos {
			removed = append(removed, seg)
		} else {
			kept = append(kept, seg)
		}
	}
	l.segments = kept
	l.mu.Unlock()

	go func() {
		ctx := context.Background()
		for _, seg := range removed {
			key := SegmentKey(l.cfg.Name, seg.start)
			if err := l.store.Delete(ctx, key); err != nil {
				l.log.Warnf("trim delete failed", map[string]any{
					"key":   key,
					"error": err.Error(),
				})
			} else if l.metrics != nil {
				l.metrics.SegmentsTrimmed.Inc()
			}
		}
		if err := l.persistHead(); err != nil {
			l.log.Warnf("trim head write failed", map[string]any{"error": err.Error()})
		}
	}()
}

// Shutdown tears the journal down. Pending callbacks are dropped.
func (l *Log) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	l.writeable = false
	l.waiter = nil
	l.flushWaiters = nil
	l.pending = nil
	l.timer.Shutdown()
}

var _ Journal = (*Log)(nil)
