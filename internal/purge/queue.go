package purge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coralfs/coralfs/internal/datapool"
	"github.com/coralfs/coralfs/internal/finisher"
	"github.com/coralfs/coralfs/internal/journal"
	"github.com/coralfs/coralfs/internal/logging"
	"github.com/coralfs/coralfs/internal/metrics"
	"github.com/coralfs/coralfs/internal/striper"
)

// ErrNotWriteable is returned by Push before Open or Create has
// succeeded.
var ErrNotWriteable = errors.New("purge: queue not writeable")

// ErrHalted is returned by Push after a malformed journal entry has
// halted consumption.
var ErrHalted = errors.New("purge: queue halted on malformed entry")

// Config configures a Queue.
type Config struct {
	// Rank is this MDS's rank; it names the journal.
	Rank int32

	// MetadataPool holds the journal for a freshly created queue.
	MetadataPool int64

	// MaxInFlight bounds concurrent purge item executions. Values below
	// 1 are treated as 1. The bound is lifted while draining.
	MaxInFlight int
}

// Option customises a Queue.
type Option func(*Queue)

// WithMetrics attaches purge metrics.
func WithMetrics(m *metrics.PurgeMetrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithOnFatal installs a handler invoked (on the executor) when the queue
// halts on a malformed entry. The server surfaces this to the operator.
func WithOnFatal(fn func(error)) Option {
	return func(q *Queue) { q.onFatal = fn }
}

// Queue is the purge queue: a single-lock state machine that journals
// deletion intents, executes them against the object store with bounded
// concurrency, and advances the journal's expire position as the oldest
// in-flight items complete.
//
// All entry points take the queue lock; nothing blocks while holding it.
// Completion callbacks are delivered on the queue's executor and re-enter
// by taking the lock again.
type Queue struct {
	mu      sync.Mutex
	journal journal.Journal
	client  datapool.Client
	exec    *finisher.Finisher
	metrics *metrics.PurgeMetrics
	onFatal func(error)
	log     *logging.Logger

	cfg Config

	// inFlight maps post-read journal offsets to executing items. Keys
	// are strictly increasing with consumption order, so insertion
	// appends to inFlightKeys and the minimum is inFlightKeys[0].
	inFlight     map[uint64]PurgeItem
	inFlightKeys []uint64

	// completedAhead holds offsets that completed while an older item
	// was still in flight, sorted ascending. The expire frontier sweeps
	// them up when the oldest item finishes.
	completedAhead []uint64

	draining bool
	halted   bool
}

// NewQueue creates a purge queue over the given journal and data pool
// client. Callbacks are delivered on exec, which Init starts.
func NewQueue(cfg Config, j journal.Journal, client datapool.Client,
	exec *finisher.Finisher, opts ...Option) *Queue {

	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}

	q := &Queue{
		journal:  j,
		client:   client,
		exec:     exec,
		cfg:      cfg,
		inFlight: make(map[uint64]PurgeItem),
		log:      logging.Subsystem("purge").WithRank(cfg.Rank),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Init starts the callback executor. Call before Open or Create.
func (q *Queue) Init() {
	q.exec.Start()
}

// Open recovers the journal. On success the queue becomes writeable and
// resumes consuming any entries recovered from the log.
func (q *Queue) Open(onDone func(error)) {
	q.log.Info("opening")
	q.mu.Lock()
	defer q.mu.Unlock()

	q.journal.Recover(func(err error) {
		q.mu.Lock()
		q.log.Debug("open complete")
		if err == nil {
			q.journal.SetWriteable()
			q.consume()
		}
		q.mu.Unlock()
		onDone(err)
	})
}

// Create initialises a fresh journal in the metadata pool and persists
// its head. Used when the filesystem predates purge queues or on first
// start.
func (q *Queue) Create(onDone func(error)) {
	q.log.Info("creating")
	q.mu.Lock()
	defer q.mu.Unlock()

	layout := striper.Default(q.cfg.MetadataPool)
	q.journal.Create(layout, journal.FormatResilient)
	q.journal.SetWriteable()
	q.journal.WriteHead(onDone)
}

// OpenOrCreate opens the queue, falling back to Create when no journal
// head exists yet.
func (q *Queue) OpenOrCreate(onDone func(error)) {
	q.Open(func(err error) {
		if errors.Is(err, journal.ErrHeadNotFound) {
			q.log.Info("no journal head, creating fresh queue")
			q.Create(onDone)
			return
		}
		onDone(err)
	})
}

// Push encodes the item, appends it to the journal and schedules a
// flush. onAppended fires once the item is durable (or the flush
// failed). Push returns immediately; consumption proceeds
// opportunistically.
//
// Callers must wait for Open or Create to succeed before pushing.
func (q *Queue) Push(item PurgeItem, onAppended func(error)) error {
	q.log.Debugf("pushing inode", map[string]any{"ino": fmt.Sprintf("0x%x", item.Ino)})
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.halted {
		return ErrHalted
	}
	if !q.journal.IsWriteable() {
		return ErrNotWriteable
	}

	if err := q.journal.AppendEntry(item.Encode()); err != nil {
		return err
	}

	// Flush calls are not 1:1 with writes; the journal batches appends
	// internally. So we just call every time.
	q.journal.Flush(func(err error) {
		if err == nil && q.metrics != nil {
			q.metrics.ItemsEnqueued.Inc()
		}
		onAppended(err)
	})

	// Maybe go ahead and do something with it right away.
	q.consume()
	return nil
}

// canConsume applies the admission policy. The in-flight bound is lifted
// while draining so the queue races through its backlog.
func (q *Queue) canConsume() bool {
	if q.halted {
		return false
	}
	if q.draining {
		return true
	}
	return len(q.inFlight) < q.cfg.MaxInFlight
}

// consume drives the state machine: while admission allows and the
// journal has a readable entry, decode it and execute it. Called with
// q.mu held.
func (q *Queue) consume() {
	for {
		if !q.canConsume() {
			q.log.Debug("cannot consume right now")
			return
		}

		if !q.journal.IsReadable() {
			q.log.Debug("not readable right now")
			if !q.journal.HaveWaiter() {
				q.journal.WaitForReadable(func(err error) {
					q.mu.Lock()
					defer q.mu.Unlock()
					if err == nil {
						q.consume()
					}
				})
			}
			return
		}

		data, ok := q.journal.TryReadEntry()
		if !ok {
			// Checked readable above.
			panic("purge: journal readable but TryReadEntry returned nothing")
		}

		item, err := DecodePurgeItem(data)
		if err != nil {
			q.haltLocked(err)
			return
		}
		q.executeItem(item, q.journal.ReadPos())
	}
}

// haltLocked stops consumption permanently after a malformed entry.
// Operator intervention is required; in-flight items still complete.
func (q *Queue) haltLocked(err error) {
	q.halted = true
	if q.metrics != nil {
		q.metrics.MalformedEntries.Inc()
	}
	q.log.Errorf("halting on malformed journal entry", map[string]any{"error": err.Error()})
	if q.onFatal != nil {
		fn := q.onFatal
		q.exec.Queue(func() { fn(err) })
	}
}

// executeItem dispatches the removal operations for one item. expireTo is
// the journal read position just after the item, which becomes its
// in-flight key: advancing the expire position to it reclaims the log
// inclusive of this entry. Called with q.mu held.
func (q *Queue) executeItem(item PurgeItem, expireTo uint64) {
	if _, exists := q.inFlight[expireTo]; exists {
		panic(fmt.Sprintf("purge: duplicate in-flight offset 0x%x", expireTo))
	}
	if n := len(q.inFlightKeys); n > 0 && q.inFlightKeys[n-1] >= expireTo {
		panic(fmt.Sprintf("purge: in-flight offset 0x%x not increasing", expireTo))
	}
	q.inFlight[expireTo] = item
	q.inFlightKeys = append(q.inFlightKeys, expireTo)
	if q.metrics != nil {
		q.metrics.InFlight.Set(float64(len(q.inFlight)))
	}

	now := time.Now()
	gather := finisher.NewGather(q.exec)

	if item.Size > 0 {
		num := striper.NumObjects(item.Layout, item.Size)
		q.log.Debugf("purging data objects", map[string]any{
			"ino":     fmt.Sprintf("0x%x", item.Ino),
			"objects": num,
			"snapSeq": item.Snapc.Seq,
		})
		q.client.PurgeRange(item.Ino, item.Layout, item.Snapc, 0, num, now, datapool.FlagNone,
			q.subOp(gather.NewSub(), metrics.RemoveKindRange))
	}

	// Remove the backtrace object unless the ranged purge already covers
	// it: a namespaced layout keeps the backtrace in the pool's default
	// namespace, so it needs its own removal.
	backtrace := striper.BacktraceName(item.Ino)
	if !gather.HasSubs() || item.Layout.Namespace != "" {
		q.log.Debugf("removing backtrace object", map[string]any{
			"object": backtrace,
			"pool":   item.Layout.PoolID,
		})
		q.client.Remove(backtrace, datapool.Locator{Pool: item.Layout.PoolID}, item.Snapc, now, datapool.FlagNone,
			q.subOp(gather.NewSub(), metrics.RemoveKindBacktrace))
	}

	// Remove stale backtrace objects left in previous pools.
	for _, pool := range item.OldPools {
		q.log.Debugf("removing old backtrace object", map[string]any{
			"object": backtrace,
			"pool":   pool,
		})
		q.client.Remove(backtrace, datapool.Locator{Pool: pool}, item.Snapc, now, datapool.FlagNone,
			q.subOp(gather.NewSub(), metrics.RemoveKindOldPool))
	}

	if !gather.HasSubs() {
		// Every item must issue at least one removal; an empty gather
		// would complete the item without doing anything.
		panic(fmt.Sprintf("purge: no removal ops for inode 0x%x", item.Ino))
	}

	gather.OnFinish(func(err error) {
		if err != nil {
			// The client has exhausted its retries. Advancing anyway
			// matches the journal's expire semantics; the counter is the
			// operator's signal that objects may have been leaked.
			if q.metrics != nil {
				q.metrics.PermanentFailures.Inc()
			}
			q.log.Warnf("removal failed permanently, treating as purged", map[string]any{
				"ino":   fmt.Sprintf("0x%x", item.Ino),
				"error": err.Error(),
			})
		}
		q.executeItemComplete(expireTo)
	})
	gather.Activate()
}

// subOp wraps a gather sub-completion with per-operation accounting.
func (q *Queue) subOp(sub func(error), kind string) func(error) {
	return func(err error) {
		if q.metrics != nil {
			q.metrics.RecordRemoveOp(kind, err == nil)
		}
		sub(err)
	}
}

// executeItemComplete runs on the executor when all of an item's removal
// operations have completed.
func (q *Queue) executeItemComplete(expireTo uint64) {
	q.log.Debugf("complete", map[string]any{"expireTo": fmt.Sprintf("0x%x", expireTo)})
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.inFlight[expireTo]
	if !ok {
		panic(fmt.Sprintf("purge: completion for unknown offset 0x%x", expireTo))
	}

	if q.inFlightKeys[0] == expireTo {
		// This was the lowest journal position in flight, so the journal
		// can now safely expire up to here, and past any younger items
		// that already completed while this one was outstanding.
		q.inFlightKeys = q.inFlightKeys[1:]
		frontier := expireTo
		for len(q.completedAhead) > 0 {
			next := q.completedAhead[0]
			if len(q.inFlightKeys) > 0 && next > q.inFlightKeys[0] {
				break
			}
			frontier = next
			q.completedAhead = q.completedAhead[1:]
		}
		q.journal.SetExpirePos(frontier)
		q.journal.Trim()
		if q.metrics != nil {
			q.metrics.ExpirePos.Set(float64(frontier))
		}
	} else {
		// Out of order: the expire frontier stays put until the oldest
		// item finishes.
		for n, key := range q.inFlightKeys {
			if key == expireTo {
				q.inFlightKeys = append(q.inFlightKeys[:n], q.inFlightKeys[n+1:]...)
				break
			}
		}
		n := sort.Search(len(q.completedAhead), func(i int) bool {
			return q.completedAhead[i] >= expireTo
		})
		q.completedAhead = append(q.completedAhead, 0)
		copy(q.completedAhead[n+1:], q.completedAhead[n:])
		q.completedAhead[n] = expireTo
	}

	q.log.Debugf("completed item", map[string]any{"ino": fmt.Sprintf("0x%x", item.Ino)})
	delete(q.inFlight, expireTo)
	if q.metrics != nil {
		q.metrics.InFlight.Set(float64(len(q.inFlight)))
		q.metrics.ItemsExecuted.Inc()
	}

	q.consume()
}

// InFlight returns the number of items currently executing.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Halted reports whether consumption has stopped on a malformed entry.
func (q *Queue) Halted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.halted
}

// Drain lifts the admission bound and waits until every journaled item
// has executed. Used by a deactivating rank before it finishes.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	q.draining = true
	q.consume()
	q.mu.Unlock()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		q.mu.Lock()
		idle := len(q.inFlight) == 0 && !q.journal.IsReadable() && !q.halted
		halted := q.halted
		q.mu.Unlock()

		if halted {
			return ErrHalted
		}
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown tears down the journal, its timer and the executor, in that
// order. In-flight removals are not cancelled; callers that need a clean
// drain call Drain first.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.journal.Shutdown()
	q.mu.Unlock()

	q.exec.Stop()
}
