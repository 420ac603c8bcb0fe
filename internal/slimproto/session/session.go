// Package session implements the per-connection SlimProto client state
// machine: decoding inbound frames into semantic events, serializing
// semantic commands into outbound frames, and the mutable per-client state
// a connection owns (elapsed/jiffies bookkeeping, transport escape hatch).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/syncbeam/slimproto/internal/bufpool"
	slimerrors "github.com/syncbeam/slimproto/internal/errors"
	"github.com/syncbeam/slimproto/internal/logger"
	"github.com/syncbeam/slimproto/internal/slimproto/frame"
)

// State is the Session's position in its HELO-wait → registered → closed
// lifecycle.
type State int32

const (
	StateHeloWait State = iota
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHeloWait:
		return "helo-wait"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventType enumerates the semantic events a Session emits to its owner.
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventDecoderReady
	EventBufferReady
	EventHeartbeat
	EventOutputUnderrun
	EventTrackStarted
	EventPaused
	EventResumed
)

// Event is delivered to the channel supplied to New; the owner (normally
// the event dispatcher in internal/slimproto/server) is the single
// consumer.
type Event struct {
	Type       EventType
	SessionID  string
	PlayerID   string
	Helo       *HeloInfo
	Elapsed    time.Duration
	Jiffies    uint32
	MeasuredAt time.Time
}

type outboundFrame struct {
	op      string
	payload []byte
}

const outboundQueueSize = 32

// sendTimeout bounds how long a command waits for queue space before
// failing as a timeout; a session whose writer is stuck this long is
// presumed unhealthy.
const sendTimeout = 5 * time.Second

// Session owns one TCP connection to a SlimProto client device.
type Session struct {
	id   string
	conn net.Conn
	dec  *frame.Decoder
	enc  *frame.Encoder
	pool *bufpool.Pool

	state    atomic.Int32
	playerID atomic.Value // string

	elapsedMu  sync.RWMutex
	elapsed    time.Duration
	jiffies    uint32
	measuredAt time.Time

	out    chan outboundFrame
	events chan<- Event
	log    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// New wires a Session around an accepted connection. Events are delivered
// to events; the caller owns that channel's lifetime and must keep
// draining it for the Session's lifetime.
func New(conn net.Conn, pool *bufpool.Pool, events chan<- Event, log *slog.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		id:     id,
		conn:   conn,
		dec:    frame.NewDecoder(conn, pool),
		enc:    frame.NewEncoder(conn),
		pool:   pool,
		out:    make(chan outboundFrame, outboundQueueSize),
		events: events,
		log:    logger.WithSession(log, id, conn.RemoteAddr().String()),
		done:   make(chan struct{}),
	}
	s.playerID.Store("")
	return s
}

// ID is the session's own identity, distinct from the player id (which is
// only known once HELO arrives).
func (s *Session) ID() string { return s.id }

// PlayerID returns the stable player id, or "" before HELO.
func (s *Session) PlayerID() string {
	v, _ := s.playerID.Load().(string)
	return v
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Run drives the session until its connection closes, ctx is canceled, or
// a fatal protocol error occurs. It starts the write loop internally and
// blocks in the read loop; callers typically invoke Run in its own
// goroutine per accepted connection.
func (s *Session) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx)
	}()

	err := s.readLoop(ctx)
	s.Disconnect()
	wg.Wait()
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(frame.GraceTimeout)); err != nil {
			return slimerrors.NewFrameError("session.set-read-deadline", err)
		}
		f, err := s.dec.ReadFrame()
		if err != nil {
			return err
		}
		if err := s.handleFrame(f); err != nil {
			s.dec.Release(f)
			return err
		}
		s.dec.Release(f)
	}
}

func (s *Session) handleFrame(f frame.Frame) error {
	switch s.State() {
	case StateHeloWait:
		if f.Op != "HELO" {
			return slimerrors.NewProtocolError("session.helo-wait: unexpected op "+f.Op, nil)
		}
		helo, err := ParseHELO(f.Payload)
		if err != nil {
			return err
		}
		s.playerID.Store(helo.MACString())
		s.state.Store(int32(StateRegistered))
		s.log = logger.WithPlayer(s.log, helo.MACString())
		s.emit(Event{Type: EventConnected, Helo: &helo})
		return nil
	case StateRegistered:
		switch f.Op {
		case "HELO":
			// Parsed for validation only: device info is not refreshed and
			// no event is emitted.
			_, err := ParseHELO(f.Payload)
			return err
		case "STAT":
			return s.handleStat(f.Payload)
		case "BYE!":
			return nil // read loop returns after this via EOF/close from the client
		case "RESP", "META", "ANIC", "SETD", "DSCO":
			return nil
		default:
			s.log.Debug("ignoring unrecognized op in registered state", "op", f.Op)
			return nil
		}
	default:
		return nil
	}
}

func (s *Session) handleStat(payload []byte) error {
	stat, err := ParseSTAT(payload)
	if err != nil {
		return err
	}
	now := time.Now()
	s.elapsedMu.Lock()
	s.elapsed = time.Duration(stat.ElapsedSeconds)*time.Second + time.Duration(stat.ElapsedMilliseconds)*time.Millisecond
	s.jiffies = stat.Jiffies
	s.measuredAt = now
	s.elapsedMu.Unlock()

	evt := Event{
		SessionID:  s.id,
		PlayerID:   s.PlayerID(),
		Elapsed:    s.Elapsed(now),
		Jiffies:    stat.Jiffies,
		MeasuredAt: now,
	}
	switch stat.Event {
	case StatDecoderReady:
		evt.Type = EventDecoderReady
	case StatBufferReady:
		evt.Type = EventBufferReady
	case StatOutputUnderrun:
		evt.Type = EventOutputUnderrun
	case StatTrackStarted:
		evt.Type = EventTrackStarted
	case StatPause:
		evt.Type = EventPaused
	case StatResume:
		evt.Type = EventResumed
	default:
		evt.Type = EventHeartbeat
	}
	s.emit(evt)
	return nil
}

// Elapsed extrapolates current elapsed playback position linearly from the
// last STAT measurement, avoiding any dependency on wall-clock agreement
// with the client.
func (s *Session) Elapsed(at time.Time) time.Duration {
	s.elapsedMu.RLock()
	defer s.elapsedMu.RUnlock()
	if s.measuredAt.IsZero() {
		return 0
	}
	return s.elapsed + at.Sub(s.measuredAt)
}

// Jiffies returns the client's last-reported 32-bit millisecond tick.
func (s *Session) Jiffies() uint32 {
	s.elapsedMu.RLock()
	defer s.elapsedMu.RUnlock()
	return s.jiffies
}

func (s *Session) emit(evt Event) {
	evt.SessionID = s.id
	if evt.PlayerID == "" {
		evt.PlayerID = s.PlayerID()
	}
	select {
	case s.events <- evt:
	case <-time.After(sendTimeout):
		s.log.Warn("dropped event: subscriber not draining", "event_type", evt.Type)
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case fr := <-s.out:
			if err := s.enc.WriteFrame(fr.op, fr.payload); err != nil {
				s.log.Warn("write failed, disconnecting session", "err", err)
				s.Disconnect()
				return
			}
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *Session) enqueue(ctx context.Context, op string, payload []byte) error {
	if s.State() == StateClosed {
		return slimerrors.NewCommandError("session.send", s.PlayerID(), "closed", nil)
	}
	select {
	case s.out <- outboundFrame{op: op, payload: payload}:
		return nil
	case <-s.done:
		return slimerrors.NewCommandError("session.send", s.PlayerID(), "closed", nil)
	case <-ctx.Done():
		return slimerrors.NewTimeoutError("session.send", 0, ctx.Err())
	case <-time.After(sendTimeout):
		return slimerrors.NewTimeoutError("session.send", sendTimeout, nil)
	}
}

func (s *Session) sendStrm(ctx context.Context, cmd strmCommand) error {
	return s.enqueue(ctx, "strm", cmd.marshal())
}

// SendStrm is the low-level escape hatch used by the drift controller for
// pause-for ('p') and skip-ahead ('a'), and by buffer-ready coordination
// for unpause-at ('u').
func (s *Session) SendStrm(ctx context.Context, subcommand byte, replayGain uint32) error {
	return s.sendStrm(ctx, strmCommand{Subcommand: subcommand, ReplayGain: replayGain})
}

// PlayURLOptions parameterizes PlayURL.
type PlayURLOptions struct {
	URL                 string
	MimeType            string
	Codec               string // flc, pcm, mp3, aac, ogg
	Flush               bool
	Transition          Transition
	TransitionDurationS int
	Autostart           bool
}

// PlayURL instructs the client to fetch and begin buffering URL.
// Autostart=false defers rendering until an explicit unpause-at, the
// mechanism sync groups use to start in lock-step.
func (s *Session) PlayURL(ctx context.Context, opts PlayURLOptions) error {
	flags := byte(0)
	if !opts.Flush {
		flags = 1
	}
	cmd := strmCommand{
		Subcommand:       strmStart,
		Autostart:        autostartByte(opts.Autostart),
		Format:           formatByte(opts.Codec),
		TransitionPeriod: byte(opts.TransitionDurationS),
		TransitionType:   transitionByte(opts.Transition),
		Flags:            flags,
		HTTPRequestHeader: fmt.Sprintf("GET %s HTTP/1.0\r\n\r\n", opts.URL),
	}
	return s.sendStrm(ctx, cmd)
}

// Stop sends strm 'q'.
func (s *Session) Stop(ctx context.Context) error {
	return s.sendStrm(ctx, strmCommand{Subcommand: strmStop})
}

// Pause sends strm 'p' with no duration (pause indefinitely).
func (s *Session) Pause(ctx context.Context) error {
	return s.sendStrm(ctx, strmCommand{Subcommand: strmPause})
}

// Resume sends strm 'u' with no absolute timestamp (resume immediately).
func (s *Session) Resume(ctx context.Context) error {
	return s.sendStrm(ctx, strmCommand{Subcommand: strmUnpause})
}

// Power toggles the client's audio output via an aude frame.
func (s *Session) Power(ctx context.Context, on bool) error {
	v := byte(0)
	if on {
		v = 1
	}
	return s.enqueue(ctx, "aude", []byte{v, v})
}

// VolumeSet sends a volume gain (0..100) via an audg frame.
func (s *Session) VolumeSet(ctx context.Context, vol int) error {
	payload := make([]byte, 4)
	scaled := uint32(vol) * (1 << 16) / 100
	payload[0] = byte(scaled >> 24)
	payload[1] = byte(scaled >> 16)
	payload[2] = byte(scaled >> 8)
	payload[3] = byte(scaled)
	return s.enqueue(ctx, "audg", payload)
}

// Mute sends a zero-gain audg frame when on and nothing when off; the
// orchestrator restores the prior level with VolumeSet when unmuting.
func (s *Session) Mute(ctx context.Context, on bool) error {
	if on {
		return s.enqueue(ctx, "audg", []byte{0, 0, 0, 0})
	}
	return nil
}

// Disconnect closes the underlying socket and emits DISCONNECTED exactly
// once, regardless of whether it was triggered by a read error, an
// explicit caller request, or server shutdown.
func (s *Session) Disconnect() error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		err = s.conn.Close()
		close(s.done)
		s.emit(Event{Type: EventDisconnected})
	})
	return err
}
