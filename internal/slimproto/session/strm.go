package session

import "encoding/binary"

// Transition describes the crossfade behavior requested of a play_url call.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionCrossfade
)

// strm subcommands, one ASCII byte each.
const (
	strmStart     = 's'
	strmPause     = 'p'
	strmUnpause   = 'u'
	strmStop      = 'q'
	strmFlush     = 'f'
	strmSkipAhead = 'a'
	strmStatus    = 't'
)

// strmCommand models the fixed-width strm header. ReplayGain is overloaded:
// for 'p'/'a' it is a millisecond duration, for 'u' it is an absolute
// future jiffies timestamp.
type strmCommand struct {
	Subcommand        byte
	Autostart         byte // '0' manual, '1' auto
	Format            byte // 'f' flac, 'p' pcm, 'm' mp3, 'a' aac, 'o' ogg
	PCMSampleSize     byte
	PCMSampleRate     byte
	PCMChannels       byte
	PCMEndian         byte
	Threshold         byte
	SpdifEnable       byte
	TransitionPeriod  byte
	TransitionType    byte
	Flags             byte
	OutputThreshold   byte
	ReplayGain        uint32
	ServerPort        uint16
	ServerIP          uint32
	HTTPRequestHeader string // only meaningful for 's'
}

// marshal renders the fixed 24-byte strm header followed by the optional
// HTTP request tail used when starting playback.
func (c strmCommand) marshal() []byte {
	tail := []byte(c.HTTPRequestHeader)
	buf := make([]byte, 24+len(tail))
	buf[0] = c.Subcommand
	buf[1] = c.Autostart
	buf[2] = c.Format
	buf[3] = c.PCMSampleSize
	buf[4] = c.PCMSampleRate
	buf[5] = c.PCMChannels
	buf[6] = c.PCMEndian
	buf[7] = c.Threshold
	buf[8] = c.SpdifEnable
	buf[9] = c.TransitionPeriod
	buf[10] = c.TransitionType
	buf[11] = c.Flags
	buf[12] = c.OutputThreshold
	// byte 13 reserved
	binary.BigEndian.PutUint32(buf[14:18], c.ReplayGain)
	binary.BigEndian.PutUint16(buf[18:20], c.ServerPort)
	binary.BigEndian.PutUint32(buf[20:24], c.ServerIP)
	copy(buf[24:], tail)
	return buf
}

func transitionByte(t Transition) byte {
	if t == TransitionCrossfade {
		return '1'
	}
	return '0'
}

func autostartByte(on bool) byte {
	if on {
		return '1'
	}
	return '0'
}

func formatByte(codec string) byte {
	switch codec {
	case "flc":
		return 'f'
	case "pcm":
		return 'p'
	case "mp3":
		return 'm'
	case "aac":
		return 'a'
	case "ogg":
		return 'o'
	default:
		return '?'
	}
}
