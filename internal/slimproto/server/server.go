// Package server ties the slimproto core together into a runnable TCP
// listener: accepting client connections, promoting HELO/STAT session
// events into player-registry and drift-controller actions, and exposing
// the orchestrator to the CLI surfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/syncbeam/slimproto/internal/bufpool"
	"github.com/syncbeam/slimproto/internal/logger"
	"github.com/syncbeam/slimproto/internal/slimproto/collab"
	"github.com/syncbeam/slimproto/internal/slimproto/drift"
	"github.com/syncbeam/slimproto/internal/slimproto/orchestrator"
	"github.com/syncbeam/slimproto/internal/slimproto/player"
	"github.com/syncbeam/slimproto/internal/slimproto/session"
	"github.com/syncbeam/slimproto/internal/slimproto/syncgroup"
)

// Config holds the server's wiring-time configuration.
type Config struct {
	ListenAddr string

	// Presets maps a player id to its configured named-preset URIs,
	// loaded once at startup from the configuration surface.
	Presets map[string][]string
	// SyncOffsets maps a player id to its configured acoustic
	// compensation offset, 0..1500ms.
	SyncOffsets map[string]int
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":3483"
	}
}

// Server owns the accepted-connection set and every collaborator the
// slimproto core needs: the player and session registries, the sync
// group manager, the drift controller, and the command orchestrator.
type Server struct {
	cfg Config
	log *slog.Logger

	pool     *bufpool.Pool
	sessions *session.Registry
	players  *player.Registry
	groups   *syncgroup.Manager
	drift    *drift.Controller
	ready    *readyTracker
	queue    *collab.MemoryQueueController
	jobs     *collab.MemoryStreamingJobs

	// Orchestrator is the command surface the CLI layers drive.
	Orchestrator *orchestrator.Orchestrator

	events chan session.Event

	bySessionMu sync.Mutex
	bySessionID map[string]*session.Session // every live session, from accept until its goroutine exits

	mu          sync.RWMutex
	listener    net.Listener
	closing     bool
	acceptingWg sync.WaitGroup
	dispatchWg  sync.WaitGroup
}

// New wires every collaborator together and returns an unstarted Server.
func New(cfg Config, cache player.Cache, log *slog.Logger) *Server {
	cfg.applyDefaults()
	if log == nil {
		log = logger.Logger()
	}
	log = log.With("component", "slimproto_server")

	pool := bufpool.New()
	sessions := session.NewRegistry()
	players := player.New(cache, log)

	jobs := collab.NewMemoryStreamingJobs()
	queue := collab.NewMemoryQueueController(jobs)

	groups := syncgroup.New(
		syncQueueRestarter{queue: queue},
		syncTransport{sessions: sessions},
		syncPlayback{players: players},
	)

	driftCtl := drift.New(
		driftTransport{sessions: sessions, players: players, groups: groups},
		driftElapsed{sessions: sessions, groups: groups, queue: queue, jobs: jobs},
		driftSyncOffsets{players: players},
		groups,
		syncPlayback{players: players},
	)

	orch := orchestrator.New(
		players,
		orchestrator.SessionRegistryAdapter{Registry: sessions},
		groups,
		queue,
		log,
	)

	for id, uris := range cfg.Presets {
		orch.SetPresets(id, uris)
	}

	return &Server{
		cfg:          cfg,
		log:          log,
		pool:         pool,
		sessions:     sessions,
		players:      players,
		groups:       groups,
		drift:        driftCtl,
		ready:        newReadyTracker(),
		queue:        queue,
		jobs:         jobs,
		Orchestrator: orch,
		events:       make(chan session.Event, 256),
		bySessionID:  make(map[string]*session.Session),
	}
}

// Queue exposes the in-process queue controller so configuration loading
// can pre-seed per-player queues.
func (s *Server) Queue() *collab.MemoryQueueController { return s.queue }

// Players exposes the player registry for read-only CLI surfaces.
func (s *Server) Players() *player.Registry { return s.players }

// Start binds the listener, launches the event dispatcher, and begins
// accepting connections. Safe to call only once.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("slimproto server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln
	s.mu.Unlock()

	s.dispatchWg.Add(1)
	go s.dispatchEvents(ctx)

	s.acceptingWg.Add(1)
	go s.acceptLoop(ctx)

	s.log.Info("slimproto server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every tracked session, then waits for the
// accept loop, session goroutines, and event dispatcher to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	_ = ln.Close()

	s.bySessionMu.Lock()
	for id, sess := range s.bySessionID {
		_ = sess.Disconnect()
		delete(s.bySessionID, id)
	}
	s.bySessionMu.Unlock()

	s.acceptingWg.Wait()
	close(s.events)
	s.dispatchWg.Wait()
	s.log.Info("slimproto server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.acceptingWg.Done()
	for {
		s.mu.RLock()
		ln := s.listener
		closing := s.closing
		s.mu.RUnlock()
		if ln == nil || closing {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept error", "err", err)
			continue
		}

		sess := session.New(conn, s.pool, s.events, s.log)
		s.bySessionMu.Lock()
		s.bySessionID[sess.ID()] = sess
		s.bySessionMu.Unlock()

		s.acceptingWg.Add(1)
		go func() {
			defer s.acceptingWg.Done()
			defer func() {
				s.bySessionMu.Lock()
				delete(s.bySessionID, sess.ID())
				s.bySessionMu.Unlock()
			}()
			if err := sess.Run(ctx); err != nil {
				s.log.Debug("session ended", "session_id", sess.ID(), "err", err)
			}
		}()
	}
}

func (s *Server) sessionByID(sessionID string) (*session.Session, bool) {
	s.bySessionMu.Lock()
	defer s.bySessionMu.Unlock()
	sess, ok := s.bySessionID[sessionID]
	return sess, ok
}

func (s *Server) dispatchEvents(ctx context.Context) {
	defer s.dispatchWg.Done()
	for evt := range s.events {
		s.handleEvent(ctx, evt)
	}
}

func (s *Server) handleEvent(ctx context.Context, evt session.Event) {
	switch evt.Type {
	case session.EventConnected:
		s.handleConnected(ctx, evt)
	case session.EventDisconnected:
		s.handleDisconnected(ctx, evt)
	case session.EventBufferReady:
		s.handleBufferReady(ctx, evt)
	case session.EventDecoderReady:
		s.handleDecoderReady(ctx, evt)
	case session.EventHeartbeat:
		if err := s.drift.OnHeartbeat(ctx, evt.PlayerID, evt.MeasuredAt); err != nil {
			s.log.Debug("drift correction failed", "player_id", evt.PlayerID, "err", err)
		}
	case session.EventOutputUnderrun:
		if err := s.drift.OnOutputUnderrun(ctx, evt.PlayerID); err != nil {
			s.log.Warn("output underrun handling failed", "player_id", evt.PlayerID, "err", err)
		}
	case session.EventTrackStarted:
		s.players.Mutate(evt.PlayerID, func(p *player.Player) { p.Transport = player.TransportPlaying })
	case session.EventPaused:
		s.players.Mutate(evt.PlayerID, func(p *player.Player) { p.Transport = player.TransportPaused })
	case session.EventResumed:
		s.players.Mutate(evt.PlayerID, func(p *player.Player) { p.Transport = player.TransportPlaying })
	}
}

func (s *Server) handleConnected(ctx context.Context, evt session.Event) {
	if evt.Helo == nil || evt.PlayerID == "" {
		return
	}
	sess, ok := s.sessionByID(evt.SessionID)
	if !ok {
		return
	}

	if previous, had := s.sessions.Bind(evt.PlayerID, sess); had && previous != sess {
		_ = previous.Disconnect()
	}

	caps := session.ParseCapabilities(evt.Helo.Capabilities, evt.Helo.DeviceID)
	model := session.ModelFor(evt.Helo.DeviceID)
	s.players.Connected(ctx, evt.PlayerID, model, model, evt.Helo.DeviceID, caps.MaxSampleRate, caps.Codecs, evt.SessionID)
	if offsetMS, ok := s.cfg.SyncOffsets[evt.PlayerID]; ok {
		s.players.Mutate(evt.PlayerID, func(p *player.Player) { p.SyncOffsetMS = offsetMS })
	}
	s.log.Info("player connected", "player_id", evt.PlayerID, "model", model)
}

func (s *Server) handleDisconnected(ctx context.Context, evt session.Event) {
	if evt.PlayerID == "" {
		return
	}
	if cur, ok := s.sessions.Get(evt.PlayerID); ok && cur.ID() != evt.SessionID {
		// A newer session has already been bound to this player id (a fast
		// reconnect evicted this one before its own DISCONNECTED arrived);
		// the incumbent's availability must not be clobbered by a stale
		// disconnect from the session it replaced.
		return
	}
	if sess, ok := s.sessionByID(evt.SessionID); ok {
		s.sessions.Unbind(evt.PlayerID, sess)
	}
	s.players.Disconnected(ctx, evt.PlayerID)
	s.ready.reset(evt.PlayerID)
	s.log.Info("player disconnected", "player_id", evt.PlayerID)
}

func (s *Server) handleBufferReady(ctx context.Context, evt session.Event) {
	s.ready.markReady(evt.PlayerID, evt.Jiffies)
	if s.groups.IsLeader(evt.PlayerID) {
		// StartGroup waits for the other members' BUFFER_READY, which this
		// dispatcher delivers, so it must not block the dispatcher.
		s.dispatchWg.Add(1)
		go func() {
			defer s.dispatchWg.Done()
			s.drift.StartGroup(ctx, evt.PlayerID, s.ready)
		}()
	}
}

func (s *Server) handleDecoderReady(ctx context.Context, evt session.Event) {
	if _, isFollower := s.groups.LeaderOf(evt.PlayerID); isFollower {
		return // only the leader drives gapless handoff for the whole group
	}
	url, mimeType, crossfade, ok, err := s.queue.PreloadNextURL(ctx, evt.PlayerID)
	if err != nil || !ok {
		return
	}
	opts := session.PlayURLOptions{URL: url, MimeType: mimeType, Flush: false, Autostart: true}
	if crossfade {
		opts.Transition = session.TransitionCrossfade
	}
	if err := s.Orchestrator.PlayURL(ctx, evt.PlayerID, opts); err != nil {
		s.log.Warn("gapless handoff failed", "player_id", evt.PlayerID, "err", err)
	}
}
