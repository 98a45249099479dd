package journal

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/coralfs/coralfs/internal/striper"
)

// SegmentInfo describes one segment object in the head record.
type SegmentInfo struct {
	// Start is the logical offset of the segment's first entry.
	Start uint64 `json:"start"`

	// End is the logical offset just past the segment's last entry.
	End uint64 `json:"end"`

	// Sealed segments are immutable; the open (unsealed) segment is
	// rewritten by each flush until it reaches the target size.
	Sealed bool `json:"sealed"`
}

// Head is the journal's checkpoint record. It is stored in the metadata
// store and updated with compare-and-set on every flush and trim.
type Head struct {
	// JournalID identifies this journal incarnation.
	JournalID uuid.UUID `json:"journalId"`

	// Format is the on-disk format version.
	Format uint32 `json:"format"`

	// Layout is the journal's own layout (metadata pool).
	Layout striper.Layout `json:"layout"`

	// WritePos is the offset after the last durably flushed entry.
	WritePos uint64 `json:"writePos"`

	// ExpirePos is the offset up to which all entries have completed.
	// Recovery resumes reading here.
	ExpirePos uint64 `json:"expirePos"`

	// Compression is the segment compression codec.
	Compression string `json:"compression"`

	// Segments lists the live segment objects in offset order.
	Segments []SegmentInfo `json:"segments"`
}

// HeadKey returns the metadata store key of the head record for a rank.
func HeadKey(rank int32) string {
	return fmt.Sprintf("/coralfs/v1/purge/head/%d", rank)
}

// SegmentKey returns the object store key of the segment starting at the
// given offset, for the journal named name (e.g. "pq.0").
func SegmentKey(name string, start uint64) string {
	return fmt.Sprintf("journal/%s/%016x.seg", name, start)
}

// SegmentPrefix returns the object store key prefix of a journal's
// segments.
func SegmentPrefix(name string) string {
	return fmt.Sprintf("journal/%s/", name)
}

// EncodeHead returns the JSON encoding of the head record.
func EncodeHead(h *Head) ([]byte, error) {
	return json.Marshal(h)
}

// DecodeHead parses a head record.
func DecodeHead(data []byte) (*Head, error) {
	var h Head
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeadRecord, err)
	}
	if h.Format != FormatResilient {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrBadHeadRecord, h.Format)
	}
	return &h, nil
}
