// Package frame implements the SlimProto wire codec: framing, endianness,
// and the raw op-tag/length/payload shape shared by every message in both
// directions. It does not interpret payload contents — that is the job of
// the session package.
package frame

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/syncbeam/slimproto/internal/bufpool"
	slimerrors "github.com/syncbeam/slimproto/internal/errors"
)

// GraceTimeout bounds how long the decoder will wait for a complete frame
// (header or payload) before giving up. A session stuck mid-frame for
// longer than this is torn down as a fatal protocol error.
const GraceTimeout = 60 * time.Second

// MaxClientPayload bounds inbound (client→server) payload size. Real
// devices never send anywhere near this; it exists to reject a corrupt or
// hostile length prefix before it drives an allocation.
const MaxClientPayload = 1 << 20

// MaxServerPayload bounds outbound (server→client) payload size: the wire
// length field is only 16 bits wide, so 65535 is a hard ceiling.
const MaxServerPayload = 1<<16 - 1

// Frame is a single decoded inbound message: a 4-character ASCII op tag
// (HELO, STAT, BYE!, ...) plus its payload.
type Frame struct {
	Op      string
	Payload []byte
}

// Decoder reads client→server frames from a stream: 4-byte ASCII op tag,
// 4-byte big-endian length, then that many payload bytes.
type Decoder struct {
	r    io.Reader
	pool *bufpool.Pool
}

// NewDecoder builds a Decoder over r. Payload buffers are drawn from pool;
// a nil pool falls back to plain allocation.
func NewDecoder(r io.Reader, pool *bufpool.Pool) *Decoder {
	return &Decoder{r: r, pool: pool}
}

// ReadFrame blocks until one complete frame has been read. A stream that
// ends cleanly before any byte of a new header returns a bare io.EOF; every
// other failure is a FrameError wrapping the underlying cause (including a
// timeout-classified error if the caller's read deadline expired).
func (d *Decoder) ReadFrame() (Frame, error) {
	var header [8]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if err == io.EOF {
			return Frame{}, err
		}
		return Frame{}, slimerrors.NewFrameError("frame.read-header", err)
	}
	op := string(header[:4])
	length := binary.BigEndian.Uint32(header[4:8])
	if length > MaxClientPayload {
		return Frame{}, slimerrors.NewFrameError("frame.length", nil)
	}

	var payload []byte
	if length == 0 {
		payload = nil
	} else if d.pool != nil {
		payload = d.pool.Get(int(length))
	} else {
		payload = make([]byte, length)
	}
	if length > 0 {
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return Frame{}, slimerrors.NewFrameError("frame.read-payload", err)
		}
	}
	return Frame{Op: op, Payload: payload}, nil
}

// Release returns f's payload buffer to the decoder's pool, if any. Callers
// that retain a reference to Payload beyond processing the frame must not
// call Release.
func (d *Decoder) Release(f Frame) {
	if d.pool != nil {
		d.pool.Put(f.Payload)
	}
}

// Encoder writes server→client frames: 4-byte ASCII op tag, 2-byte
// big-endian length, then payload.
type Encoder struct {
	w io.Writer
}

// NewEncoder builds an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteFrame renders op+payload to the wire in one Write call so that
// concurrent encoders over different connections never interleave within a
// single frame; ordering across calls on the same Encoder is the caller's
// responsibility (see session's send mutex).
func (e *Encoder) WriteFrame(op string, payload []byte) error {
	if len(op) != 4 {
		return slimerrors.NewProgrammingError("frame.write: op must be 4 bytes", nil)
	}
	if len(payload) > MaxServerPayload {
		return slimerrors.NewFrameError("frame.write: payload too large", nil)
	}
	buf := make([]byte, 6+len(payload))
	copy(buf[0:4], op)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(payload)))
	copy(buf[6:], payload)
	if _, err := e.w.Write(buf); err != nil {
		return slimerrors.NewFrameError("frame.write", err)
	}
	return nil
}
