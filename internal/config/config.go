// Package config declares the provider-wide and per-player configuration
// surface: the slimproto port and optional CLI/discovery toggles, and,
// per player, sync offset, crossfade duration, output codec preference,
// and the growing named-preset slate.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// presetCapacities is the growth ladder: N starts at 5 and grows to 10,
// 15, then 20 as earlier slots fill.
var presetCapacities = []int{5, 10, 15, 20}

// Provider is the server-wide configuration surface.
type Provider struct {
	SlimprotoPort   int
	EnableTelnet    bool
	EnableJSONRPC   bool
	EnableDiscovery bool
	ServerName      string
	ServerID        string
	BindIP          string
	CLIPort         int
	CLIJSONPort     int
}

// Player is the per-player configuration surface.
type Player struct {
	ID                 string
	SyncOffsetMS       int // 0..1500
	CrossfadeDurationS int
	OutputCodec        string // auto-defaulted from the client's supported codecs if empty
	Presets            []string
}

// DefaultOutputCodec picks flc → pcm → mp3 among the supplied supported
// codecs, matching the Command Orchestrator's own preference order.
func DefaultOutputCodec(supported []string) string {
	for _, pref := range []string{"flc", "pcm", "mp3"} {
		for _, c := range supported {
			if c == pref {
				return pref
			}
		}
	}
	if len(supported) > 0 {
		return supported[0]
	}
	return "mp3"
}

// PresetCapacity returns the number of preset slots available given the
// count of slots currently filled, growing 5→10→15→20 as earlier slots
// are used up.
func PresetCapacity(filled int) int {
	for _, c := range presetCapacities {
		if filled < c {
			return c
		}
	}
	return presetCapacities[len(presetCapacities)-1]
}

// SetPreset places uri at index, growing the slate's reported capacity as
// needed. It returns an error if index would exceed the capacity the
// current fill level allows.
func (p *Player) SetPreset(index int, uri string) error {
	if index < 0 {
		return fmt.Errorf("config: preset index must be non-negative, got %d", index)
	}
	capacity := PresetCapacity(len(p.Presets))
	if index >= capacity {
		return fmt.Errorf("config: preset index %d exceeds capacity %d for %d filled slots", index, capacity, len(p.Presets))
	}
	for len(p.Presets) <= index {
		p.Presets = append(p.Presets, "")
	}
	p.Presets[index] = uri
	return nil
}

// stringSliceFlag accumulates repeated -flag=value occurrences into a
// slice, matching the ambient CLI flag-parsing convention used throughout
// this codebase's command-line entry points.
type stringSliceFlag struct {
	values *[]string
}

func (f stringSliceFlag) String() string {
	if f.values == nil {
		return ""
	}
	return strings.Join(*f.values, ",")
}

func (f stringSliceFlag) Set(v string) error {
	*f.values = append(*f.values, v)
	return nil
}

// RegisterFlags binds the provider's configuration surface onto fs,
// returning a function that must be called after fs.Parse to materialize
// per-player preset overrides supplied as repeated -preset=player:index:uri.
func RegisterFlags(fs *flag.FlagSet, prov *Provider) func() []Player {
	fs.IntVar(&prov.SlimprotoPort, "slimproto.port", 3483, "TCP port for the SlimProto wire protocol")
	fs.BoolVar(&prov.EnableTelnet, "cli.telnet", false, "enable the telnet compatibility CLI")
	fs.BoolVar(&prov.EnableJSONRPC, "cli.jsonrpc", true, "enable the JSON-RPC CLI surface")
	fs.BoolVar(&prov.EnableDiscovery, "discovery.enable", true, "enable LAN auto-discovery")
	fs.StringVar(&prov.ServerName, "server.name", "slimproto-server", "name advertised to clients and discovery")
	fs.StringVar(&prov.ServerID, "server.id", "", "stable server id advertised by discovery")
	fs.StringVar(&prov.BindIP, "bind.ip", "0.0.0.0", "bind address for the slimproto and discovery listeners")
	fs.IntVar(&prov.CLIPort, "cli.telnet.port", 9090, "TCP port for the telnet CLI")
	fs.IntVar(&prov.CLIJSONPort, "cli.jsonrpc.port", 9000, "TCP port for the JSON-RPC CLI")

	var rawPresets []string
	fs.Var(stringSliceFlag{values: &rawPresets}, "preset", "player:index:uri, may be repeated")

	return func() []Player {
		byPlayer := make(map[string]*Player)
		order := make([]string, 0)
		for _, raw := range rawPresets {
			parts := strings.SplitN(raw, ":", 3)
			if len(parts) != 3 {
				continue
			}
			playerID, idxStr, uri := parts[0], parts[1], parts[2]
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				continue
			}
			p, ok := byPlayer[playerID]
			if !ok {
				p = &Player{ID: playerID}
				byPlayer[playerID] = p
				order = append(order, playerID)
			}
			_ = p.SetPreset(idx, uri)
		}
		out := make([]Player, 0, len(order))
		for _, id := range order {
			out = append(out, *byPlayer[id])
		}
		return out
	}
}
