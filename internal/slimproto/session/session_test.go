package session

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/syncbeam/slimproto/internal/bufpool"
	"github.com/syncbeam/slimproto/internal/logger"
)

func encodeClientFrame(op string, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	copy(buf[0:4], op)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[8:], payload)
	return buf
}

func heloPayload(mac [6]byte) []byte {
	payload := make([]byte, 1+1+6+16+2+8+2)
	payload[0] = 8 // device id
	payload[1] = 1 // revision
	copy(payload[2:8], mac[:])
	// uuid left zero
	// wlan channels left zero
	// bytes received left zero
	// language left zero
	return payload
}

func statPayload(event string, jiffies, elapsedMS uint32) []byte {
	payload := make([]byte, 4+4+4+4+4+4+2+2)
	copy(payload[0:4], event)
	binary.BigEndian.PutUint32(payload[4:8], jiffies)
	// output buffer size/fullness left zero
	binary.BigEndian.PutUint32(payload[20:24], elapsedMS)
	return payload
}

func newTestSession(t *testing.T) (*Session, net.Conn, chan Event) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })
	events := make(chan Event, 16)
	logger.UseWriter(discardWriter{})
	s := New(serverConn, bufpool.New(), events, logger.Logger())
	return s, clientConn, events
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSessionHeloTransitionsToRegistered(t *testing.T) {
	t.Parallel()
	s, client, events := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)

	mac := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}
	if _, err := client.Write(encodeClientFrame("HELO", heloPayload(mac))); err != nil {
		t.Fatalf("write HELO: %v", err)
	}

	select {
	case evt := <-events:
		if evt.Type != EventConnected {
			t.Fatalf("expected EventConnected, got %v", evt.Type)
		}
		if evt.Helo == nil || evt.Helo.MACString() != "aabbccddee01" {
			t.Fatalf("unexpected helo: %+v", evt.Helo)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for CONNECTED event")
	}

	if s.State() != StateRegistered {
		t.Fatalf("expected registered state, got %v", s.State())
	}
	if s.PlayerID() != "aabbccddee01" {
		t.Fatalf("unexpected player id: %s", s.PlayerID())
	}
}

func TestSessionStatEmitsSpecializedEvents(t *testing.T) {
	t.Parallel()
	s, client, events := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	mac := [6]byte{1, 2, 3, 4, 5, 6}
	client.Write(encodeClientFrame("HELO", heloPayload(mac)))
	<-events // CONNECTED

	client.Write(encodeClientFrame("STAT", statPayload(StatBufferReady, 1000, 500)))
	select {
	case evt := <-events:
		if evt.Type != EventBufferReady {
			t.Fatalf("expected EventBufferReady, got %v", evt.Type)
		}
		if evt.Jiffies != 1000 {
			t.Fatalf("unexpected jiffies: %d", evt.Jiffies)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for BUFFER_READY event")
	}

	client.Write(encodeClientFrame("STAT", statPayload(StatHeartbeat, 2000, 700)))
	select {
	case evt := <-events:
		if evt.Type != EventHeartbeat {
			t.Fatalf("expected EventHeartbeat, got %v", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for HEARTBEAT event")
	}
}

func TestSessionStatTransportTransitions(t *testing.T) {
	t.Parallel()
	s, client, events := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	mac := [6]byte{9, 9, 9, 9, 9, 9}
	client.Write(encodeClientFrame("HELO", heloPayload(mac)))
	<-events // CONNECTED

	cases := []struct {
		stat string
		want EventType
	}{
		{StatTrackStarted, EventTrackStarted},
		{StatPause, EventPaused},
		{StatResume, EventResumed},
	}
	for _, tc := range cases {
		client.Write(encodeClientFrame("STAT", statPayload(tc.stat, 0, 0)))
		select {
		case evt := <-events:
			if evt.Type != tc.want {
				t.Fatalf("stat %s: expected %v, got %v", tc.stat, tc.want, evt.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event from stat %s", tc.stat)
		}
	}
}

func TestSessionRejectsUnexpectedOpDuringHeloWait(t *testing.T) {
	t.Parallel()
	s, client, events := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	client.Write(encodeClientFrame("STAT", statPayload(StatHeartbeat, 0, 0)))
	select {
	case evt := <-events:
		if evt.Type != EventDisconnected {
			t.Fatalf("expected DISCONNECTED after protocol error, got %v", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for DISCONNECTED event")
	}
}

func TestSessionDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()
	s, _, events := newTestSession(t)
	go func() {
		for range events {
		}
	}()
	if err := s.Disconnect(); err != nil {
		t.Fatalf("first disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second disconnect should be a no-op, got: %v", err)
	}
}
