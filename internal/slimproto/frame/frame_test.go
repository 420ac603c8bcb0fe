package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/syncbeam/slimproto/internal/bufpool"
)

func encodeClientFrame(op string, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	copy(buf[0:4], op)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	return buf
}

func TestDecoderReadFrameRoundTrip(t *testing.T) {
	t.Parallel()
	payload := []byte{1, 2, 3, 4, 5}
	raw := encodeClientFrame("STAT", payload)
	d := NewDecoder(bytes.NewReader(raw), bufpool.New())

	f, err := d.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Op != "STAT" {
		t.Fatalf("unexpected op: %q", f.Op)
	}
	if !bytes.Equal(f.Payload[:len(payload)], payload) {
		t.Fatalf("unexpected payload: %v", f.Payload)
	}
	d.Release(f)
}

func TestDecoderZeroLengthPayload(t *testing.T) {
	t.Parallel()
	raw := encodeClientFrame("BYE!", nil)
	d := NewDecoder(bytes.NewReader(raw), nil)
	f, err := d.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Op != "BYE!" || len(f.Payload) != 0 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestDecoderRejectsOversizedLength(t *testing.T) {
	t.Parallel()
	var header [8]byte
	copy(header[0:4], "STAT")
	binary.BigEndian.PutUint32(header[4:8], MaxClientPayload+1)
	d := NewDecoder(bytes.NewReader(header[:]), nil)
	_, err := d.ReadFrame()
	if err == nil {
		t.Fatalf("expected error for oversized length")
	}
}

func TestDecoderTruncatedPayloadIsFrameError(t *testing.T) {
	t.Parallel()
	raw := encodeClientFrame("STAT", []byte{1, 2, 3, 4, 5})
	truncated := raw[:len(raw)-2] // header claims 5 bytes, only 3 arrive
	d := NewDecoder(bytes.NewReader(truncated), nil)
	_, err := d.ReadFrame()
	if err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestDecoderEOFOnEmptyStream(t *testing.T) {
	t.Parallel()
	d := NewDecoder(bytes.NewReader(nil), nil)
	_, err := d.ReadFrame()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestEncoderWriteFrame(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	payload := []byte{9, 9}
	if err := e.WriteFrame("strm", payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got := buf.Bytes()
	if string(got[0:4]) != "strm" {
		t.Fatalf("unexpected op bytes: %q", got[0:4])
	}
	if binary.BigEndian.Uint16(got[4:6]) != uint16(len(payload)) {
		t.Fatalf("unexpected length field")
	}
	if !bytes.Equal(got[6:], payload) {
		t.Fatalf("unexpected payload bytes")
	}
}

func TestEncoderRejectsBadOpLength(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	if err := e.WriteFrame("bad", nil); err == nil {
		t.Fatalf("expected error for 3-byte op")
	}
}
