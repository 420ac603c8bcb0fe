package config

import (
	"flag"
	"testing"
)

func TestPresetCapacityGrowsInSteps(t *testing.T) {
	t.Parallel()
	cases := map[int]int{0: 5, 4: 5, 5: 10, 9: 10, 10: 15, 14: 15, 15: 20, 19: 20, 20: 20, 100: 20}
	for filled, want := range cases {
		if got := PresetCapacity(filled); got != want {
			t.Fatalf("PresetCapacity(%d) = %d, want %d", filled, got, want)
		}
	}
}

func TestSetPresetRejectsBeyondMaxCapacity(t *testing.T) {
	t.Parallel()
	p := &Player{Presets: make([]string, 20)}
	for i := range p.Presets {
		p.Presets[i] = "filled"
	}
	if err := p.SetPreset(20, "uri"); err == nil {
		t.Fatalf("expected index 20 to exceed the ceiling capacity of 20")
	}
}

func TestSetPresetGrowsCapacityAsSlotsFill(t *testing.T) {
	t.Parallel()
	p := &Player{Presets: make([]string, 5)}
	for i := range p.Presets {
		p.Presets[i] = "filled"
	}
	if err := p.SetPreset(5, "sixth"); err != nil {
		t.Fatalf("expected capacity to grow to 10 once 5 slots are filled: %v", err)
	}
}

func TestDefaultOutputCodecPreferenceOrder(t *testing.T) {
	t.Parallel()
	if got := DefaultOutputCodec([]string{"mp3", "pcm", "flc"}); got != "flc" {
		t.Fatalf("expected flc preferred, got %s", got)
	}
	if got := DefaultOutputCodec([]string{"mp3", "pcm"}); got != "pcm" {
		t.Fatalf("expected pcm preferred over mp3, got %s", got)
	}
	if got := DefaultOutputCodec([]string{"aac"}); got != "aac" {
		t.Fatalf("expected fallback to sole supported codec, got %s", got)
	}
}

func TestRegisterFlagsParsesRepeatedPresets(t *testing.T) {
	t.Parallel()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var prov Provider
	materialize := RegisterFlags(fs, &prov)

	args := []string{
		"-slimproto.port=3484",
		"-preset=aabbccddee01:0:http://x/a.flac",
		"-preset=aabbccddee01:1:http://x/b.flac",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if prov.SlimprotoPort != 3484 {
		t.Fatalf("unexpected port: %d", prov.SlimprotoPort)
	}
	players := materialize()
	if len(players) != 1 || players[0].ID != "aabbccddee01" {
		t.Fatalf("unexpected players: %+v", players)
	}
	if len(players[0].Presets) != 2 || players[0].Presets[0] != "http://x/a.flac" {
		t.Fatalf("unexpected presets: %+v", players[0].Presets)
	}
}
