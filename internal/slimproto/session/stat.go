package session

import (
	"encoding/binary"

	slimerrors "github.com/syncbeam/slimproto/internal/errors"
)

// HeloInfo is the decoded payload of a HELO frame.
type HeloInfo struct {
	DeviceID      byte
	Revision      byte
	MAC           [6]byte
	UUID          [16]byte
	WLANChannels  uint16
	BytesReceived uint64
	Language      [2]byte
	Capabilities  string
}

// MACString renders the MAC as the lowercase-hex stable player id used
// throughout the registry and sync group manager.
func (h HeloInfo) MACString() string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 0, 12)
	for _, b := range h.MAC {
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(out)
}

// ParseHELO decodes a HELO payload: device id byte, revision byte, 6-byte
// MAC, 16-byte UUID (may be zero), 2-byte BE wlan channel list, 8-byte BE
// bytes received, 2-byte language code, capability string (remainder).
func ParseHELO(payload []byte) (HeloInfo, error) {
	const minLen = 1 + 1 + 6 + 16 + 2 + 8 + 2
	if len(payload) < minLen {
		return HeloInfo{}, slimerrors.NewFrameError("helo.decode: short payload", nil)
	}
	var h HeloInfo
	off := 0
	h.DeviceID = payload[off]
	off++
	h.Revision = payload[off]
	off++
	copy(h.MAC[:], payload[off:off+6])
	off += 6
	copy(h.UUID[:], payload[off:off+16])
	off += 16
	h.WLANChannels = binary.BigEndian.Uint16(payload[off : off+2])
	off += 2
	h.BytesReceived = binary.BigEndian.Uint64(payload[off : off+8])
	off += 8
	copy(h.Language[:], payload[off:off+2])
	off += 2
	h.Capabilities = string(payload[off:])
	return h, nil
}

// StatEvent is the decoded payload of a STAT frame.
type StatEvent struct {
	Event                 string // STMa, STMc, STMd, STMe, STMf, STMh, STMl, STMo, STMp, STMr, STMs, STMt, STMu
	Jiffies               uint32
	OutputBufferSize      uint32
	OutputBufferFullness  uint32
	ElapsedSeconds        uint32
	ElapsedMilliseconds   uint32
	SignalStrength        uint16
	Voltage               uint16
}

// ParseSTAT decodes a STAT payload: 4-byte ASCII event code followed by the
// counters the core cares about. Fields beyond those this core consumes
// (buffer fullness history, decoder internals) are intentionally not
// modeled; only the byte offsets needed to reach the fields below are
// assumed.
func ParseSTAT(payload []byte) (StatEvent, error) {
	const minLen = 4 + 4 + 4 + 4 + 4 + 4 + 2 + 2
	if len(payload) < minLen {
		return StatEvent{}, slimerrors.NewFrameError("stat.decode: short payload", nil)
	}
	var s StatEvent
	off := 0
	s.Event = string(payload[off : off+4])
	off += 4
	s.Jiffies = binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	s.OutputBufferSize = binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	s.OutputBufferFullness = binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	s.ElapsedSeconds = binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	s.ElapsedMilliseconds = binary.BigEndian.Uint32(payload[off : off+4])
	off += 4
	s.SignalStrength = binary.BigEndian.Uint16(payload[off : off+2])
	off += 2
	s.Voltage = binary.BigEndian.Uint16(payload[off : off+2])
	return s, nil
}

// Sub-event codes carried in a STAT payload's Event field.
const (
	StatAudioReady    = "STMa"
	StatConnect       = "STMc"
	StatDecoderReady  = "STMd"
	StatConnEstab     = "STMe"
	StatConnClosed    = "STMf"
	StatHeaderReady   = "STMh"
	StatBufferReady   = "STMl"
	StatOutputUnderrun = "STMo"
	StatPause         = "STMp"
	StatResume        = "STMr"
	StatTrackStarted  = "STMs"
	StatHeartbeat     = "STMt"
	StatUnderrun      = "STMu"
)
