package collab

import (
	"context"
	"sync"

	"github.com/google/uuid"

	slimerrors "github.com/syncbeam/slimproto/internal/errors"
)

// MemoryQueueController is an in-process QueueController backed by a
// per-player ordered URL list, useful for standalone operation and tests.
// It holds no persistence across restarts.
type MemoryQueueController struct {
	mu     sync.Mutex
	queues map[string][]string // playerID -> remaining URLs, queue head first
	active map[string]string   // playerID -> active queue id
	jobs   *MemoryStreamingJobs
}

// NewMemoryQueueController builds an empty controller. jobs lets the
// controller mint a fresh StreamingJob whenever a queue resumes.
func NewMemoryQueueController(jobs *MemoryStreamingJobs) *MemoryQueueController {
	return &MemoryQueueController{
		queues: make(map[string][]string),
		active: make(map[string]string),
		jobs:   jobs,
	}
}

// Enqueue appends urls to playerID's queue.
func (c *MemoryQueueController) Enqueue(playerID string, urls ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[playerID] = append(c.queues[playerID], urls...)
}

// GetActiveQueue returns playerID's active queue id, minting one on first use.
func (c *MemoryQueueController) GetActiveQueue(ctx context.Context, playerID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.active[playerID]
	if !ok {
		id = uuid.New().String()
		c.active[playerID] = id
	}
	return id, nil
}

// Resume starts (or restarts) playback of the active queue, forming a
// fresh streaming job.
func (c *MemoryQueueController) Resume(ctx context.Context, queueID string, fadeIn bool) error {
	if c.jobs != nil {
		c.jobs.newJob(queueID)
	}
	return nil
}

// PreloadNextURL pops the next queued URL for playerID. ok=false signals
// "queue empty", which callers treat as a silent no-op.
func (c *MemoryQueueController) PreloadNextURL(ctx context.Context, playerID string) (string, string, bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.queues[playerID]
	if len(q) == 0 {
		return "", "", false, false, nil
	}
	next := q[0]
	c.queues[playerID] = q[1:]
	return next, mimeTypeFor(next), false, true, nil
}

func mimeTypeFor(url string) string {
	switch {
	case hasSuffix(url, ".flac"), hasSuffix(url, ".flc"):
		return "audio/flac"
	case hasSuffix(url, ".mp3"):
		return "audio/mpeg"
	case hasSuffix(url, ".aac"):
		return "audio/aac"
	case hasSuffix(url, ".ogg"):
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// memJob is the in-process StreamingJob implementation.
type memJob struct {
	id      string
	skipped map[string]int
	pending bool
	running bool
}

func (j *memJob) ID() string { return j.id }
func (j *memJob) ResolveStreamURL(ctx context.Context, playerID string) (string, error) {
	return "", slimerrors.NewCommandError("streaming_job.resolve", playerID, "unresolved", nil)
}
func (j *memJob) ClientSecondsSkipped(playerID string) int { return j.skipped[playerID] }
func (j *memJob) Pending() bool                            { return j.pending }
func (j *memJob) Running() bool                            { return j.running }

// MemoryStreamingJobs is an in-process StreamingJobs backed by a map
// keyed by queue id, minting a fresh job id (via uuid) on every resume.
type MemoryStreamingJobs struct {
	mu   sync.Mutex
	jobs map[string]*memJob
}

// NewMemoryStreamingJobs builds an empty job table.
func NewMemoryStreamingJobs() *MemoryStreamingJobs {
	return &MemoryStreamingJobs{jobs: make(map[string]*memJob)}
}

func (s *MemoryStreamingJobs) newJob(queueID string) *memJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &memJob{id: uuid.New().String(), skipped: make(map[string]int), running: true}
	s.jobs[queueID] = j
	return j
}

// Get returns the current StreamingJob for queueID, if one has started.
func (s *MemoryStreamingJobs) Get(ctx context.Context, queueID string) (StreamingJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[queueID]
	if !ok {
		return nil, false, nil
	}
	return j, true, nil
}
