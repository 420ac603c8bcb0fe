// Package telnet implements a minimal line-oriented CLI compatible with
// the classic SqueezeCenter telnet control protocol: one command per
// line, space-separated, first token the player id. No ecosystem telnet
// server library appears anywhere in the reference corpus, so this
// surface is built directly on net.Listener and bufio.Scanner.
package telnet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/syncbeam/slimproto/internal/slimproto/session"
)

// Commands is the orchestrator facade this CLI drives.
type Commands interface {
	PlayURL(ctx context.Context, id string, opts session.PlayURLOptions) error
	Stop(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Power(ctx context.Context, id string, on bool) error
	VolumeSet(ctx context.Context, id string, vol int) error
	Sync(ctx context.Context, childID, leaderID string) error
	Unsync(ctx context.Context, childID string) error
}

// Server accepts telnet connections and dispatches one command per line.
type Server struct {
	cmds Commands
	log  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New builds an unstarted telnet Server.
func New(cmds Commands, log *slog.Logger) *Server {
	return &Server{cmds: cmds, log: log}
}

// Start binds addr and begins accepting connections in the background.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("telnet listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and waits for the accept loop to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		ln := s.listener
		s.mu.Unlock()
		if ln == nil {
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := s.dispatch(ctx, line)
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			return
		}
	}
}

// dispatch parses and executes a single "<player_id> <command> [args...]"
// line, returning the line to echo back (the classic CLI's convention:
// echo the command verbatim on success, with any returned fields
// appended, or a trailing "ERROR" token on failure).
func (s *Server) dispatch(ctx context.Context, line string) string {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return line + " ERROR"
	}
	playerID, cmd := fields[0], fields[1]
	args := fields[2:]

	var err error
	switch cmd {
	case "play":
		if len(args) < 1 {
			return line + " ERROR"
		}
		err = s.cmds.PlayURL(ctx, playerID, session.PlayURLOptions{URL: args[0], Flush: true, Autostart: true})
	case "stop":
		err = s.cmds.Stop(ctx, playerID)
	case "pause":
		err = s.cmds.Pause(ctx, playerID)
	case "resume", "play_continue":
		err = s.cmds.Resume(ctx, playerID)
	case "power":
		on := len(args) == 0 || args[0] == "1"
		err = s.cmds.Power(ctx, playerID, on)
	case "mixer":
		if len(args) < 2 || args[0] != "volume" {
			return line + " ERROR"
		}
		vol, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			return line + " ERROR"
		}
		err = s.cmds.VolumeSet(ctx, playerID, vol)
	case "sync":
		if len(args) < 1 {
			return line + " ERROR"
		}
		err = s.cmds.Sync(ctx, playerID, args[0])
	case "unsync":
		err = s.cmds.Unsync(ctx, playerID)
	default:
		return line + " ERROR"
	}

	if err != nil {
		if s.log != nil {
			s.log.Debug("telnet command failed", "line", line, "err", err)
		}
		return line + " ERROR"
	}
	return line
}
