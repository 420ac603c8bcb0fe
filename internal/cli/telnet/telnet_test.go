package telnet

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/syncbeam/slimproto/internal/slimproto/session"
)

type fakeCommands struct {
	played   []string
	stopped  []string
	volumes  map[string]int
	syncCall [2]string
}

func (f *fakeCommands) PlayURL(ctx context.Context, id string, opts session.PlayURLOptions) error {
	f.played = append(f.played, id+":"+opts.URL)
	return nil
}
func (f *fakeCommands) Stop(ctx context.Context, id string) error {
	f.stopped = append(f.stopped, id)
	return nil
}
func (f *fakeCommands) Pause(ctx context.Context, id string) error  { return nil }
func (f *fakeCommands) Resume(ctx context.Context, id string) error { return nil }
func (f *fakeCommands) Power(ctx context.Context, id string, on bool) error { return nil }
func (f *fakeCommands) VolumeSet(ctx context.Context, id string, vol int) error {
	if f.volumes == nil {
		f.volumes = make(map[string]int)
	}
	f.volumes[id] = vol
	return nil
}
func (f *fakeCommands) Sync(ctx context.Context, childID, leaderID string) error {
	f.syncCall = [2]string{childID, leaderID}
	return nil
}
func (f *fakeCommands) Unsync(ctx context.Context, childID string) error { return nil }

func startTestServer(t *testing.T, cmds Commands) net.Addr {
	t.Helper()
	s := New(cmds, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.listener.Addr()
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
	return addr
}

func sendLine(t *testing.T, addr net.Addr, line string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte(line + "\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return reply
}

func TestTelnetPlayCommand(t *testing.T) {
	t.Parallel()
	cmds := &fakeCommands{}
	addr := startTestServer(t, cmds)

	reply := sendLine(t, addr, "aabbccddee01 play http://x/a.flac")
	if reply != "aabbccddee01 play http://x/a.flac\n" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(cmds.played) != 1 || cmds.played[0] != "aabbccddee01:http://x/a.flac" {
		t.Fatalf("unexpected played: %+v", cmds.played)
	}
}

func TestTelnetUnknownCommandReturnsError(t *testing.T) {
	t.Parallel()
	cmds := &fakeCommands{}
	addr := startTestServer(t, cmds)

	reply := sendLine(t, addr, "aabbccddee01 bogus")
	if reply != "aabbccddee01 bogus ERROR\n" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestTelnetSyncCommand(t *testing.T) {
	t.Parallel()
	cmds := &fakeCommands{}
	addr := startTestServer(t, cmds)

	sendLine(t, addr, "child01 sync leader01")
	if cmds.syncCall != [2]string{"child01", "leader01"} {
		t.Fatalf("unexpected sync call: %+v", cmds.syncCall)
	}
}
