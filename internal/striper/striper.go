// Package striper maps file byte ranges to the striped data objects that
// back them. A file's layout describes how its bytes are spread across
// fixed-size objects in a pool; the purge path uses the reverse mapping to
// know how many objects must be removed for a file of a given size.
package striper

import (
	"errors"
	"fmt"
)

// Default layout parameters: 4 MiB objects, no striping.
const (
	DefaultStripeUnit  = 4 * 1024 * 1024
	DefaultStripeCount = 1
	DefaultObjectSize  = 4 * 1024 * 1024
)

// Common errors returned by layout validation.
var (
	ErrInvalidStripeUnit  = errors.New("striper: stripe unit must be positive and divide object size")
	ErrInvalidStripeCount = errors.New("striper: stripe count must be positive")
	ErrInvalidObjectSize  = errors.New("striper: object size must be positive")
	ErrInvalidPool        = errors.New("striper: pool id must be non-negative")
)

// Layout describes how a file's bytes are striped across data objects.
type Layout struct {
	// StripeUnit is the number of contiguous bytes written to one object
	// before moving to the next object in the stripe set.
	StripeUnit uint32

	// StripeCount is the number of objects a stripe period spans.
	StripeCount uint32

	// ObjectSize is the maximum size of each data object in bytes.
	ObjectSize uint32

	// PoolID is the pool holding the file's data objects.
	PoolID int64

	// Namespace is the pool namespace for the data objects. Empty means
	// the pool's default namespace.
	Namespace string
}

// Default returns the default layout targeting the given pool.
func Default(poolID int64) Layout {
	return Layout{
		StripeUnit:  DefaultStripeUnit,
		StripeCount: DefaultStripeCount,
		ObjectSize:  DefaultObjectSize,
		PoolID:      poolID,
	}
}

// Validate checks the layout's internal consistency.
func (l Layout) Validate() error {
	if l.ObjectSize == 0 {
		return ErrInvalidObjectSize
	}
	if l.StripeCount == 0 {
		return ErrInvalidStripeCount
	}
	if l.StripeUnit == 0 || l.ObjectSize%l.StripeUnit != 0 {
		return ErrInvalidStripeUnit
	}
	if l.PoolID < 0 {
		return ErrInvalidPool
	}
	return nil
}

// Period returns the number of bytes covered by one full stripe period,
// i.e. StripeCount objects filled to ObjectSize.
func (l Layout) Period() uint64 {
	return uint64(l.ObjectSize) * uint64(l.StripeCount)
}

// NumObjects returns the number of data objects backing a file of the
// given byte size under this layout. A zero-size file has no data objects.
//
// The final, partial stripe period may leave trailing objects of the
// stripe set untouched; those are not counted.
func NumObjects(l Layout, size uint64) uint64 {
	if size == 0 {
		return 0
	}

	period := l.Period()
	su := uint64(l.StripeUnit)
	numPeriods := (size + period - 1) / period
	remainder := size % period

	var remainderObjs uint64
	if remainder > 0 && remainder < uint64(l.StripeCount)*su {
		remainderObjs = uint64(l.StripeCount) - (remainder+su-1)/su
	}

	return numPeriods*uint64(l.StripeCount) - remainderObjs
}

// ObjectName returns the canonical name of the idx'th data object of the
// inode: the inode id and object index in lowercase hex, dot separated.
func ObjectName(ino uint64, idx uint64) string {
	return fmt.Sprintf("%x.%08x", ino, idx)
}

// BacktraceName returns the name of the inode's backtrace object. The
// backtrace rides on the first data object, so this is object index zero.
func BacktraceName(ino uint64) string {
	return ObjectName(ino, 0)
}
