// Package collab defines the narrow interfaces through which the core
// talks to everything explicitly out of scope for the synchronized-
// playback engine: the queue controller, streaming jobs, the last-known
// power/volume cache, metadata decoration, and LAN auto-discovery. It also
// ships small reference implementations of each so the server can run
// standalone without a full music-library deployment behind it.
package collab

import "context"

// QueueController decides what the next track is and resumes playback of
// the active queue. The core only calls into it; it never owns queue
// state itself.
type QueueController interface {
	GetActiveQueue(ctx context.Context, playerID string) (queueID string, err error)
	Resume(ctx context.Context, queueID string, fadeIn bool) error
	PreloadNextURL(ctx context.Context, playerID string) (url, mimeType string, crossfade bool, ok bool, err error)
}

// StreamingJob is an opaque handle identifying a particular multi-client
// stream session.
type StreamingJob interface {
	ID() string
	ResolveStreamURL(ctx context.Context, playerID string) (string, error)
	ClientSecondsSkipped(playerID string) int
	Pending() bool
	Running() bool
}

// StreamingJobs resolves queue ids to their current StreamingJob.
type StreamingJobs interface {
	Get(ctx context.Context, queueID string) (StreamingJob, bool, error)
}

// Cache is the persistent key-value store used for last-known
// power/volume, keyed by "slimproto_prev_state.<player_id>" (see
// player.Cache for the concrete tuple it stores).
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// MetadataSource decorates a streaming URL with now-playing tags.
type MetadataSource interface {
	Lookup(ctx context.Context, url string) (title, artist, album string, err error)
}

// Discovery advertises the server on the LAN so client devices and
// controllers can find it without manual configuration.
type Discovery interface {
	Start(ctx context.Context, cfg DiscoveryConfig) error
	Stop() error
}

// DiscoveryConfig parameterizes the discovery beacon.
type DiscoveryConfig struct {
	BindIP        string
	SlimprotoPort int
	CLIPort       int
	CLIJSONPort   int
	ServerName    string
	ServerID      string
}
