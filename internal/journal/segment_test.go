package journal

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("first"),
		[]byte(""),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	var body []byte
	for _, p := range payloads {
		body = append(body, FrameEntry(p)...)
	}

	frames, err := ParseFrames(body)
	if err != nil {
		t.Fatalf("ParseFrames: %v", err)
	}
	if len(frames) != len(payloads) {
		t.Fatalf("got %d frames, want %d", len(frames), len(payloads))
	}
	for i := range payloads {
		if !bytes.Equal(frames[i], payloads[i]) {
			t.Errorf("frame %d = %q, want %q", i, frames[i], payloads[i])
		}
	}
}

func TestParseFramesRejectsCorruptPayload(t *testing.T) {
	body := FrameEntry([]byte("payload"))
	body[len(body)-1] ^= 0xFF // flip a payload byte

	if _, err := ParseFrames(body); !errors.Is(err, ErrBadSegment) {
		t.Errorf("ParseFrames = %v, want ErrBadSegment", err)
	}
}

func TestParseFramesRejectsTruncation(t *testing.T) {
	body := FrameEntry([]byte("payload"))

	if _, err := ParseFrames(body[:len(body)-2]); !errors.Is(err, ErrBadSegment) {
		t.Errorf("truncated payload: ParseFrames = %v, want ErrBadSegment", err)
	}
	if _, err := ParseFrames(body[:4]); !errors.Is(err, ErrBadSegment) {
		t.Errorf("truncated header: ParseFrames = %v, want ErrBadSegment", err)
	}
}

func TestSegmentRoundTripAllCodecs(t *testing.T) {
	body := append(FrameEntry(bytes.Repeat([]byte("purge item "), 100)),
		FrameEntry([]byte("tail"))...)

	for _, codec := range []uint8{CompressionNone, CompressionSnappy, CompressionLz4, CompressionZstd} {
		encoded, err := EncodeSegment(body, codec)
		if err != nil {
			t.Fatalf("codec %d: EncodeSegment: %v", codec, err)
		}
		decoded, err := DecodeSegment(encoded)
		if err != nil {
			t.Fatalf("codec %d: DecodeSegment: %v", codec, err)
		}
		if !bytes.Equal(decoded, body) {
			t.Errorf("codec %d: round trip mismatch", codec)
		}
	}
}

func TestSegmentEmptyBody(t *testing.T) {
	encoded, err := EncodeSegment(nil, CompressionSnappy)
	if err != nil {
		t.Fatalf("EncodeSegment: %v", err)
	}
	decoded, err := DecodeSegment(encoded)
	if err != nil {
		t.Fatalf("DecodeSegment: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("decoded %d bytes, want 0", len(decoded))
	}
}

func TestDecodeSegmentRejectsBadMagic(t *testing.T) {
	encoded, _ := EncodeSegment([]byte("body"), CompressionNone)
	encoded[0] = 'X'
	if _, err := DecodeSegment(encoded); !errors.Is(err, ErrBadSegment) {
		t.Errorf("DecodeSegment = %v, want ErrBadSegment", err)
	}
}

func TestDecodeSegmentRejectsBadVersion(t *testing.T) {
	encoded, _ := EncodeSegment([]byte("body"), CompressionNone)
	encoded[8] = 0xFF
	if _, err := DecodeSegment(encoded); !errors.Is(err, ErrBadSegment) {
		t.Errorf("DecodeSegment = %v, want ErrBadSegment", err)
	}
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]uint8{
		"":       CompressionNone,
		"none":   CompressionNone,
		"snappy": CompressionSnappy,
		"lz4":    CompressionLz4,
		"zstd":   CompressionZstd,
	} {
		got, err := ParseCompression(name)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q) = %d, %v", name, got, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("unknown codec accepted")
	}
}

func TestHeadRoundTrip(t *testing.T) {
	head := &Head{
		Format:      FormatResilient,
		WritePos:    1234,
		ExpirePos:   567,
		Compression: "lz4",
		Segments: []SegmentInfo{
			{Start: 0, End: 567, Sealed: true},
			{Start: 567, End: 1234},
		},
	}

	data, err := EncodeHead(head)
	if err != nil {
		t.Fatalf("EncodeHead: %v", err)
	}
	decoded, err := DecodeHead(data)
	if err != nil {
		t.Fatalf("DecodeHead: %v", err)
	}
	if decoded.WritePos != head.WritePos || decoded.ExpirePos != head.ExpirePos {
		t.Errorf("positions = %d/%d", decoded.WritePos, decoded.ExpirePos)
	}
	if len(decoded.Segments) != 2 || !decoded.Segments[0].Sealed || decoded.Segments[1].Sealed {
		t.Errorf("segments = %+v", decoded.Segments)
	}
}

func TestDecodeHeadRejectsUnknownFormat(t *testing.T) {
	head := &Head{Format: 99}
	data, _ := EncodeHead(head)
	if _, err := DecodeHead(data); !errors.Is(err, ErrBadHeadRecord) {
		t.Errorf("DecodeHead = %v, want ErrBadHeadRecord", err)
	}

	if _, err := DecodeHead([]byte("{not json")); !errors.Is(err, ErrBadHeadRecord) {
		t.Errorf("DecodeHead = %v, want ErrBadHeadRecord", err)
	}
}
