package collab

import (
	"context"
	"encoding/binary"
	"net"
	"sync"

	slimerrors "github.com/syncbeam/slimproto/internal/errors"
)

// discoveryRequestTag is the single-byte request code squeezebox clients
// and controllers broadcast to find a server ('d' = discover).
const discoveryRequestTag = 'd'

// UDPDiscovery answers LAN auto-discovery broadcasts with the server's
// slimproto port, CLI port, name, and id. No suitable ecosystem beacon
// library appears anywhere in the reference corpus, so this collaborator
// is built directly on net.ListenUDP.
type UDPDiscovery struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	cfg     DiscoveryConfig
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewUDPDiscovery builds an idle discovery responder.
func NewUDPDiscovery() *UDPDiscovery {
	return &UDPDiscovery{}
}

// Start binds a UDP socket on cfg.SlimprotoPort (discovery shares the
// slimproto port number, on a separate UDP listener) and answers discovery
// broadcasts until Stop or ctx is canceled.
func (d *UDPDiscovery) Start(ctx context.Context, cfg DiscoveryConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return slimerrors.NewProgrammingError("discovery.start: already running", nil)
	}

	addr := &net.UDPAddr{IP: net.ParseIP(cfg.BindIP), Port: cfg.SlimprotoPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return slimerrors.NewSetupError("discovery.listen", cfg.SlimprotoPort, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.conn = conn
	d.cfg = cfg
	d.cancel = cancel
	d.stopped = make(chan struct{})

	go d.serve(runCtx, conn, cfg)
	return nil
}

func (d *UDPDiscovery) serve(ctx context.Context, conn *net.UDPConn, cfg DiscoveryConfig) {
	defer close(d.stopped)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 64)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n == 0 || buf[0] != discoveryRequestTag {
			continue
		}
		resp := d.buildResponse(cfg)
		_, _ = conn.WriteToUDP(resp, remote)
	}
}

func (d *UDPDiscovery) buildResponse(cfg DiscoveryConfig) []byte {
	name := cfg.ServerName
	if len(name) > 255 {
		name = name[:255]
	}
	buf := make([]byte, 0, 8+len(name)+len(cfg.ServerID))
	buf = append(buf, discoveryRequestTag)
	var ports [4]byte
	binary.BigEndian.PutUint16(ports[0:2], uint16(cfg.SlimprotoPort))
	binary.BigEndian.PutUint16(ports[2:4], uint16(cfg.CLIPort))
	buf = append(buf, ports[:]...)
	buf = append(buf, byte(len(name)))
	buf = append(buf, []byte(name)...)
	buf = append(buf, []byte(cfg.ServerID)...)
	return buf
}

// Stop tears down the UDP listener.
func (d *UDPDiscovery) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	d.cancel()
	<-d.stopped
	d.conn = nil
	return nil
}
