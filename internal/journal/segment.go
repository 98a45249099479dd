package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// SegmentMagic is the magic string that identifies a segment object.
const SegmentMagic = "CORALPJ1"

// SegmentVersion is the current segment format version.
const SegmentVersion uint16 = 1

// SegmentHeaderSize is the fixed size of the segment header in bytes:
// magic (8) + version (2) + codec (1) + uncompressed length (4).
const SegmentHeaderSize = 15

// EntryHeaderSize is the per-entry frame overhead: length (4) + CRC32C (4).
const EntryHeaderSize = 8

// Segment compression codecs. The codec byte is stored in the segment
// header so readers never depend on out-of-band configuration.
const (
	CompressionNone   uint8 = 0
	CompressionSnappy uint8 = 1
	CompressionLz4    uint8 = 2
	CompressionZstd   uint8 = 3
)

// crc32cTable is the Castagnoli polynomial table used for CRC32C.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// ParseCompression maps a config string to a codec byte.
func ParseCompression(s string) (uint8, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLz4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("journal: unknown compression %q", s)
	}
}

// CompressionName maps a codec byte back to its config string.
func CompressionName(codec uint8) string {
	switch codec {
	case CompressionSnappy:
		return "snappy"
	case CompressionLz4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// FrameEntry encodes one entry frame: length, CRC32C of the payload, then
// the payload itself.
func FrameEntry(payload []byte) []byte {
	buf := make([]byte, EntryHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.Checksum(payload, crc32cTable))
	copy(buf[EntryHeaderSize:], payload)
	return buf
}

// FrameSize returns the framed size of a payload of the given length.
func FrameSize(payloadLen int) uint64 {
	return uint64(EntryHeaderSize + payloadLen)
}

// ParseFrames slices a decompressed segment body into entry payloads.
// Frames must tile the body exactly.
func ParseFrames(body []byte) ([][]byte, error) {
	var entries [][]byte
	off := 0
	for off < len(body) {
		if len(body)-off < EntryHeaderSize {
			return nil, fmt.Errorf("%w: truncated entry header at %d", ErrBadSegment, off)
		}
		length := binary.BigEndian.Uint32(body[off : off+4])
		wantCRC := binary.BigEndian.Uint32(body[off+4 : off+8])
		off += EntryHeaderSize

		if uint32(len(body)-off) < length {
			return nil, fmt.Errorf("%w: truncated entry payload at %d", ErrBadSegment, off)
		}
		payload := body[off : off+int(length)]
		if crc32.Checksum(payload, crc32cTable) != wantCRC {
			return nil, fmt.Errorf("%w: entry checksum mismatch at %d", ErrBadSegment, off)
		}
		entries = append(entries, payload)
		off += int(length)
	}
	return entries, nil
}

// EncodeSegment wraps a body of entry frames into a segment object:
// header, then the (optionally compressed) body.
func EncodeSegment(body []byte, codec uint8) ([]byte, error) {
	var compressed []byte
	switch codec {
	case CompressionNone:
		compressed = body
	case CompressionSnappy:
		compressed = snappy.Encode(nil, body)
	case CompressionLz4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("journal: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("journal: lz4 compress: %w", err)
		}
		compressed = buf.Bytes()
	case CompressionZstd:
		compressed = zstdEncoder.EncodeAll(body, nil)
	default:
		return nil, fmt.Errorf("journal: unknown codec %d", codec)
	}

	out := make([]byte, SegmentHeaderSize+len(compressed))
	copy(out[0:8], SegmentMagic)
	binary.BigEndian.PutUint16(out[8:10], SegmentVersion)
	out[10] = codec
	binary.BigEndian.PutUint32(out[11:15], uint32(len(body)))
	copy(out[SegmentHeaderSize:], compressed)
	return out, nil
}

// DecodeSegment unwraps a segment object and returns the decompressed
// body of entry frames.
func DecodeSegment(data []byte) ([]byte, error) {
	if len(data) < SegmentHeaderSize {
		return nil, fmt.Errorf("%w: truncated header", ErrBadSegment)
	}
	if string(data[0:8]) != SegmentMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadSegment, data[0:8])
	}
	if v := binary.BigEndian.Uint16(data[8:10]); v != SegmentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSegment, v)
	}
	codec := data[10]
	uncompressedLen := binary.BigEndian.Uint32(data[11:15])
	payload := data[SegmentHeaderSize:]

	var body []byte
	var err error
	switch codec {
	case CompressionNone:
		body = payload
	case CompressionSnappy:
		body, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrBadSegment, err)
		}
	case CompressionLz4:
		body, err = io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrBadSegment, err)
		}
	case CompressionZstd:
		body, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrBadSegment, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrBadSegment, codec)
	}

	if uint32(len(body)) != uncompressedLen {
		return nil, fmt.Errorf("%w: body length %d, header says %d", ErrBadSegment, len(body), uncompressedLen)
	}
	return body, nil
}
