// Package journal provides the purge queue's durable, replayable log.
//
// The Journal interface is the contract the purge engine consumes:
// buffered appends with explicit flush, ordered non-blocking reads, a
// registered readable-waiter, and an expire position that bounds how much
// of the log prefix may be physically reclaimed.
//
// Log implements the contract on top of an object store and a metadata
// store. Entries are framed into segment objects; a head record tracks
// the journal's positions and segment list and is updated with
// compare-and-set so a stale server instance cannot clobber a newer one.
package journal

import (
	"errors"

	"github.com/coralfs/coralfs/internal/striper"
)

// FormatResilient is the journal on-disk format written by this
// implementation.
const FormatResilient uint32 = 1

// Common errors returned by journal implementations.
var (
	// ErrHeadNotFound is returned by Recover when no head record exists;
	// the caller should create a fresh journal.
	ErrHeadNotFound = errors.New("journal: head record not found")

	// ErrNotWriteable is returned when appending to a journal that has
	// not been marked writeable.
	ErrNotWriteable = errors.New("journal: not writeable")

	// ErrStaleHead is returned when the head record was modified by
	// another instance; this journal must not write further.
	ErrStaleHead = errors.New("journal: head record owned by another instance")

	// ErrShutdown is returned for operations after Shutdown.
	ErrShutdown = errors.New("journal: shut down")

	// ErrBadHeadRecord is returned when the head record cannot be parsed.
	ErrBadHeadRecord = errors.New("journal: malformed head record")

	// ErrBadSegment is returned when a segment object fails to decode.
	ErrBadSegment = errors.New("journal: malformed segment")
)

// Journal is the contract between the purge engine and the log layer.
//
// All methods are non-blocking: completion callbacks are delivered later
// on the journal's executor. Methods are safe to call while holding the
// caller's own lock; callbacks re-enter the caller by taking that lock
// themselves.
type Journal interface {
	// Recover loads the head record and replays the log so the read
	// position sits at the first unexecuted entry. onDone fires with
	// ErrHeadNotFound if the journal has never been created.
	Recover(onDone func(error))

	// Create initialises a fresh, empty journal with the given layout
	// and format. It does not persist anything; call WriteHead.
	Create(layout striper.Layout, format uint32)

	// WriteHead persists the head record. Used after Create.
	WriteHead(onDone func(error))

	// SetWriteable marks the journal writable after a successful
	// Recover or Create.
	SetWriteable()

	// IsWriteable reports whether appends are currently allowed.
	IsWriteable() bool

	// IsReadable reports whether TryReadEntry would return an entry.
	IsReadable() bool

	// AppendEntry buffers an entry for durable write and returns
	// immediately. The entry is durable once a subsequent Flush
	// completes successfully.
	AppendEntry(data []byte) error

	// Flush makes all prior appends durable, then invokes onDone.
	Flush(onDone func(error))

	// WaitForReadable invokes onDone the next time IsReadable becomes
	// true. At most one waiter may be registered at a time.
	WaitForReadable(onDone func(error))

	// HaveWaiter reports whether a readable-waiter is registered.
	HaveWaiter() bool

	// TryReadEntry returns the next entry without blocking. It must only
	// be called when IsReadable reports true.
	TryReadEntry() ([]byte, bool)

	// ReadPos returns the offset of the entry after the last successful
	// TryReadEntry, i.e. where the next read will begin.
	ReadPos() uint64

	// WritePos returns the offset after the last appended entry.
	WritePos() uint64

	// ExpirePos returns the current expire position.
	ExpirePos() uint64

	// SetExpirePos advances the expire position. Entries below it are
	// complete and their log space may be reclaimed.
	SetExpirePos(pos uint64)

	// Trim physically reclaims log space below the expire position.
	Trim()

	// Shutdown tears the journal down. Pending callbacks are dropped.
	Shutdown()
}
