package session

import "strconv"

// deviceModels maps the HELO device id byte to a human-readable model
// name, matching the device id assignments real squeezebox-family
// hardware and software players have used on the wire.
var deviceModels = map[byte]string{
	2:  "squeezebox",
	3:  "softsqueeze",
	4:  "squeezebox2",
	5:  "transporter",
	6:  "softsqueeze3",
	7:  "receiver",
	8:  "squeezeslave",
	9:  "controller",
	10: "boom",
	11: "softboom",
	12: "squeezeplay",
}

// ModelFor returns the human-readable model name for a HELO device id
// byte, falling back to "unknown" for an unrecognized id.
func ModelFor(deviceID byte) string {
	if m, ok := deviceModels[deviceID]; ok {
		return m
	}
	return "unknown"
}

// defaultCodecsByDevice lists the codecs a device id supports when its
// capability string declares none explicitly (older clients only ever
// spoke PCM/MP3).
var defaultCodecsByDevice = map[byte][]string{
	2: {"pcm", "mp3"},
	4: {"pcm", "mp3", "flc"},
	5: {"pcm", "mp3", "flc", "aac", "ogg"},
}

var knownCodecTokens = map[string]bool{
	"pcm": true, "mp3": true, "flc": true, "aac": true, "ogg": true, "wma": true, "alc": true,
}

// Capabilities is the decoded form of a HELO capability string: a
// comma-separated list mixing bare codec tokens with Key=Value pairs,
// matching the capability-string convention real SlimProto clients use
// to advertise MaxSampleRate alongside their supported codec tokens.
type Capabilities struct {
	Codecs        []string
	MaxSampleRate int
}

// ParseCapabilities decodes the comma-separated capability string tail
// of a HELO frame. Unrecognized tokens are ignored rather than treated
// as fatal, since the capability string is expected to grow over time.
func ParseCapabilities(raw string, deviceID byte) Capabilities {
	var c Capabilities
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i < len(raw) && raw[i] != ',' {
			continue
		}
		tok := raw[start:i]
		start = i + 1
		if tok == "" {
			continue
		}
		if eq := indexByte(tok, '='); eq >= 0 {
			key, val := tok[:eq], tok[eq+1:]
			if key == "MaxSampleRate" {
				if n, err := strconv.Atoi(val); err == nil {
					c.MaxSampleRate = n
				}
			}
			continue
		}
		if knownCodecTokens[tok] {
			c.Codecs = append(c.Codecs, tok)
		}
	}
	if len(c.Codecs) == 0 {
		c.Codecs = defaultCodecsByDevice[deviceID]
	}
	if c.MaxSampleRate == 0 {
		c.MaxSampleRate = 48000
	}
	return c
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
