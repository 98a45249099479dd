// Package datapool provides the client used to remove file data and
// backtrace objects from pool-addressed object storage. Operations are
// asynchronous: each takes a completion callback that fires exactly once.
//
// Removal is idempotent by contract: removing an object that does not
// exist reports success. The purge queue may therefore safely re-issue
// operations replayed from its journal after a restart.
package datapool

import (
	"errors"
	"time"

	"github.com/coralfs/coralfs/internal/striper"
)

// ErrInvalidSnapContext is returned when a snapshot context's sequence is
// older than one of its snapshot ids.
var ErrInvalidSnapContext = errors.New("datapool: snap context sequence predates a snapshot id")

// SnapContext carries the snapshot state attached to destructive
// operations so snapshotted data is preserved correctly.
type SnapContext struct {
	// Seq is the snapshot sequence number.
	Seq uint64

	// Snaps lists the ids of the snapshots that currently exist.
	Snaps []uint64
}

// Validate checks that the sequence is at least as new as every listed
// snapshot id.
func (c SnapContext) Validate() error {
	for _, snap := range c.Snaps {
		if snap > c.Seq {
			return ErrInvalidSnapContext
		}
	}
	return nil
}

// Locator addresses a pool (and optional namespace) holding an object.
type Locator struct {
	// Pool is the pool id.
	Pool int64

	// Namespace is the pool namespace. Empty means the default namespace.
	Namespace string
}

// Op flags passed through to the object store. None are defined yet; the
// parameter keeps the wire contract stable.
const FlagNone uint32 = 0

// Client is the interface for asynchronous object removal.
//
// Implementations retry transient failures internally. onDone receives
// the terminal status and fires exactly once per operation.
type Client interface {
	// PurgeRange removes count striped data objects of the inode,
	// starting at object index firstObj, in the layout's pool and
	// namespace.
	PurgeRange(ino uint64, layout striper.Layout, snapc SnapContext,
		firstObj, count uint64, mtime time.Time, flags uint32, onDone func(error))

	// Remove removes the single named object from the located pool.
	Remove(name string, loc Locator, snapc SnapContext,
		mtime time.Time, flags uint32, onDone func(error))
}
