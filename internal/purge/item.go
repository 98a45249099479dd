// Package purge implements the metadata server's durable purge queue.
//
// When a file is deleted the MDS commits the deletion quickly and defers
// the removal of its backing objects. Each deletion intent is recorded as
// a PurgeItem in a journaled log; the queue replays the log, drives the
// object removals with bounded concurrency, and reclaims log space once
// all earlier purges have durably completed.
package purge

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/coralfs/coralfs/internal/datapool"
	"github.com/coralfs/coralfs/internal/striper"
)

// Item encoding versions. Decoders refuse frames newer than they
// understand.
const (
	itemVersion uint8 = 1
	itemCompat  uint8 = 1

	// Layouts are encoded as a nested frame at version 2, which carries
	// the pool namespace.
	layoutVersion uint8 = 2
	layoutCompat  uint8 = 2
)

// ErrMalformedEntry is returned when a journal entry cannot be decoded as
// a purge item. This is fatal for the queue: consumption halts.
var ErrMalformedEntry = errors.New("purge: malformed journal entry")

// PurgeItem is one durable deletion intent. It carries everything needed
// to remove the file's backing objects independently of live metadata.
// Items are immutable once constructed.
type PurgeItem struct {
	// Ino is the deleted file's inode id.
	Ino uint64

	// Size is the file's byte length at deletion time. Zero means the
	// file had no striped data objects.
	Size uint64

	// Layout is the striping layout of the file's data objects.
	Layout striper.Layout

	// OldPools lists pools that may hold stale backtrace objects for
	// this inode from before a layout change.
	OldPools []int64

	// Snapc is the snapshot context attached to the removal operations.
	Snapc datapool.SnapContext
}

// Encode returns the versioned binary encoding of the item: a
// (version, compat, length) header followed by the fields in declared
// order.
func (i *PurgeItem) Encode() []byte {
	body := make([]byte, 0, 64)

	body = appendUint64(body, i.Ino)
	body = appendUint64(body, i.Size)
	body = appendLayout(body, i.Layout)

	body = appendUint32(body, uint32(len(i.OldPools)))
	for _, pool := range i.OldPools {
		body = appendUint64(body, uint64(pool))
	}

	body = appendUint64(body, i.Snapc.Seq)
	body = appendUint32(body, uint32(len(i.Snapc.Snaps)))
	for _, snap := range i.Snapc.Snaps {
		body = appendUint64(body, snap)
	}

	out := make([]byte, 0, 6+len(body))
	out = append(out, itemVersion, itemCompat)
	out = appendUint32(out, uint32(len(body)))
	out = append(out, body...)
	return out
}

// DecodePurgeItem parses an item from its binary encoding. Any framing or
// field error is reported as ErrMalformedEntry.
func DecodePurgeItem(data []byte) (PurgeItem, error) {
	var item PurgeItem

	d := decoder{buf: data}
	version, compat, body, err := d.frame()
	if err != nil {
		return item, err
	}
	if version > itemVersion || compat > itemVersion {
		return item, fmt.Errorf("%w: version %d (compat %d) is newer than supported %d",
			ErrMalformedEntry, version, compat, itemVersion)
	}

	b := decoder{buf: body}
	if item.Ino, err = b.uint64(); err != nil {
		return item, err
	}
	if item.Size, err = b.uint64(); err != nil {
		return item, err
	}
	if item.Layout, err = b.layout(); err != nil {
		return item, err
	}

	poolCount, err := b.uint32()
	if err != nil {
		return item, err
	}
	if poolCount > 0 {
		if uint64(poolCount) > uint64(len(b.buf)-b.off)/8 {
			return item, fmt.Errorf("%w: old pool count %d exceeds remaining bytes", ErrMalformedEntry, poolCount)
		}
		item.OldPools = make([]int64, 0, poolCount)
		for n := uint32(0); n < poolCount; n++ {
			pool, err := b.uint64()
			if err != nil {
				return item, err
			}
			item.OldPools = append(item.OldPools, int64(pool))
		}
	}

	if item.Snapc.Seq, err = b.uint64(); err != nil {
		return item, err
	}
	snapCount, err := b.uint32()
	if err != nil {
		return item, err
	}
	if snapCount > 0 {
		if uint64(snapCount) > uint64(len(b.buf)-b.off)/8 {
			return item, fmt.Errorf("%w: snap count %d exceeds remaining bytes", ErrMalformedEntry, snapCount)
		}
		item.Snapc.Snaps = make([]uint64, 0, snapCount)
		for n := uint32(0); n < snapCount; n++ {
			snap, err := b.uint64()
			if err != nil {
				return item, err
			}
			item.Snapc.Snaps = append(item.Snapc.Snaps, snap)
		}
	}

	if b.off != len(b.buf) {
		return item, fmt.Errorf("%w: %d trailing bytes", ErrMalformedEntry, len(b.buf)-b.off)
	}
	return item, nil
}

// Equal reports whether two items are identical.
func (i *PurgeItem) Equal(other *PurgeItem) bool {
	if i.Ino != other.Ino || i.Size != other.Size || i.Layout != other.Layout {
		return false
	}
	if len(i.OldPools) != len(other.OldPools) || len(i.Snapc.Snaps) != len(other.Snapc.Snaps) {
		return false
	}
	for n := range i.OldPools {
		if i.OldPools[n] != other.OldPools[n] {
			return false
		}
	}
	if i.Snapc.Seq != other.Snapc.Seq {
		return false
	}
	for n := range i.Snapc.Snaps {
		if i.Snapc.Snaps[n] != other.Snapc.Snaps[n] {
			return false
		}
	}
	return true
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func appendUint64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

func appendLayout(buf []byte, l striper.Layout) []byte {
	body := make([]byte, 0, 32)
	body = appendUint32(body, l.StripeUnit)
	body = appendUint32(body, l.StripeCount)
	body = appendUint32(body, l.ObjectSize)
	body = appendUint64(body, uint64(l.PoolID))
	body = appendUint32(body, uint32(len(l.Namespace)))
	body = append(body, l.Namespace...)

	buf = append(buf, layoutVersion, layoutCompat)
	buf = appendUint32(buf, uint32(len(body)))
	return append(buf, body...)
}

// decoder is a bounds-checked cursor over an encoded buffer.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) need(n int) error {
	if len(d.buf)-d.off < n {
		return fmt.Errorf("%w: truncated at offset %d", ErrMalformedEntry, d.off)
	}
	return nil
}

func (d *decoder) uint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) uint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

// frame reads a (version, compat, length) header and returns the body.
func (d *decoder) frame() (version, compat uint8, body []byte, err error) {
	if err = d.need(6); err != nil {
		return 0, 0, nil, err
	}
	version = d.buf[d.off]
	compat = d.buf[d.off+1]
	d.off += 2
	length, err := d.uint32()
	if err != nil {
		return 0, 0, nil, err
	}
	if err = d.need(int(length)); err != nil {
		return 0, 0, nil, err
	}
	body = d.buf[d.off : d.off+int(length)]
	d.off += int(length)
	return version, compat, body, nil
}

func (d *decoder) layout() (striper.Layout, error) {
	var l striper.Layout

	version, compat, body, err := d.frame()
	if err != nil {
		return l, err
	}
	if compat > layoutVersion {
		return l, fmt.Errorf("%w: layout version %d (compat %d) is newer than supported %d",
			ErrMalformedEntry, version, compat, layoutVersion)
	}

	b := decoder{buf: body}
	if l.StripeUnit, err = b.uint32(); err != nil {
		return l, err
	}
	if l.StripeCount, err = b.uint32(); err != nil {
		return l, err
	}
	if l.ObjectSize, err = b.uint32(); err != nil {
		return l, err
	}
	pool, err := b.uint64()
	if err != nil {
		return l, err
	}
	l.PoolID = int64(pool)

	nsLen, err := b.uint32()
	if err != nil {
		return l, err
	}
	if err = b.need(int(nsLen)); err != nil {
		return l, err
	}
	l.Namespace = string(b.buf[b.off : b.off+int(nsLen)])
	b.off += int(nsLen)

	if b.off != len(b.buf) {
		return l, fmt.Errorf("%w: %d trailing layout bytes", ErrMalformedEntry, len(b.buf)-b.off)
	}
	return l, nil
}
