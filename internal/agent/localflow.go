package agent

import (
	"fmt"
	"net"
	"sync"

	"lanrelay/internal/sockwrap"
)

// datagramPortBase and datagramPortAttempts implement spec §3's local
// flow datagram allocation: "probed upward from 40000 until an unused
// port is found; give up after 10000 attempts".
const (
	datagramPortBase     = 40000
	datagramPortAttempts = 10000
)

// LocalFlow is the host role's redirection-table entry (spec §3): one
// remote original identifier mirrored onto a loopback stream and/or
// datagram socket, created lazily and torn down only on process exit.
type LocalFlow struct {
	PlayerName         string
	PlayerPort         uint16
	OriginalSocketPort uint16
	Sock               *sockwrap.Wrapper
}

// FlowTable is the host-role local flow table, keyed by the original
// identifier string "{sender_name}:{source_port}" (spec §3). It is
// owned exclusively by the redirection loop, so no locking is strictly
// required by that loop alone; a mutex still guards the map itself the
// same way the teacher guards its own shared maps, and Each takes a
// snapshot under it.
type FlowTable struct {
	mu   sync.Mutex
	byID map[string]*LocalFlow
}

// NewFlowTable creates an empty local flow table.
func NewFlowTable() *FlowTable {
	return &FlowTable{byID: make(map[string]*LocalFlow)}
}

// OriginalID formats the original identifier key from spec §3.
func OriginalID(senderName string, sourcePort uint16) string {
	return fmt.Sprintf("%s:%d", senderName, sourcePort)
}

// GetOrCreate returns the existing flow for id, or creates an empty one
// (no sockets yet — those are filled in by EnsureStream/EnsureDatagram)
// the first time a frame for a new original identifier arrives (spec §3
// "Lifecycle").
func (t *FlowTable) GetOrCreate(id, playerName string, playerPort, sourcePort uint16) *LocalFlow {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.byID[id]; ok {
		return f
	}
	f := &LocalFlow{
		PlayerName:         playerName,
		PlayerPort:         playerPort,
		OriginalSocketPort: sourcePort,
		Sock:               sockwrap.New(nil, nil),
	}
	t.byID[id] = f
	return f
}

// Each visits a snapshot of the current flows.
func (t *FlowTable) Each(fn func(id string, f *LocalFlow)) {
	t.mu.Lock()
	type kv struct {
		id string
		f  *LocalFlow
	}
	snapshot := make([]kv, 0, len(t.byID))
	for id, f := range t.byID {
		snapshot = append(snapshot, kv{id, f})
	}
	t.mu.Unlock()

	for _, e := range snapshot {
		fn(e.id, e.f)
	}
}

// EnsureStream dials the host's own local application on localAppPort
// if the flow doesn't already have a stream half (host role: "ensure a
// stream local flow exists for the original identifier").
func (f *LocalFlow) EnsureStream(localAppPort uint16) error {
	if f.Sock.HasStream() {
		return nil
	}
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", localAppPort))
	if err != nil {
		return fmt.Errorf("local flow: dial local app on port %d: %w", localAppPort, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	f.Sock.SetStream(conn)
	return nil
}

// EnsureDatagram binds a fresh loopback datagram socket for this flow
// if it doesn't already have a datagram half, probing ports starting at
// datagramPortBase per spec §3.
func (f *LocalFlow) EnsureDatagram() error {
	if f.Sock.HasDatagram() {
		return nil
	}
	conn, err := probeDatagramPort()
	if err != nil {
		return err
	}
	f.Sock.SetDatagram(conn)
	return nil
}

func probeDatagramPort() (*net.UDPConn, error) {
	for port := datagramPortBase; port < datagramPortBase+datagramPortAttempts; port++ {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
		if err == nil {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("local flow: no free datagram port found in %d attempts starting at %d",
		datagramPortAttempts, datagramPortBase)
}
