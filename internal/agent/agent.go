// Package agent implements the peer agent's connection-tracking and
// demultiplexing engine from spec §4.3: one stream to the rendezvous,
// a local listener and local datagram socket for the real application
// to talk to as if it were LAN-local, and (on the host role) a
// redirection table that lazily mirrors each remote sender onto its own
// loopback stream/datagram pair.
//
// Grounded on the teacher's internal/client package (goroutine-per-loop
// shape in client.go/ticker.go/timed_conn.go: a mutex-guarded struct,
// one goroutine per long-lived loop, a ticker driving periodic work)
// and on original_source/src/client.rs's ClientState (is_host(),
// player_redirection_table) and src/common.rs's accept_connections
// tick-loop idiom (MINIMUM_TICK_RATE_IN_MS busy/idle split).
package agent

import (
	"context"
	"fmt"
	"net"
	"time"

	"lanrelay/internal/flog"
	"lanrelay/internal/frame"
	"lanrelay/internal/metrics"
	"lanrelay/internal/queue"
	"lanrelay/internal/registry"
	"lanrelay/internal/sockwrap"
)

// streamHeartbeatInterval is spec §4.1/§4.3's ≈500ms stream heartbeat.
const streamHeartbeatInterval = 500 * time.Millisecond

// tickSlot is spec §4.3's 1ms tick pacing.
const tickSlot = time.Millisecond

// Config is the per-agent identity derived from the `connect` CLI
// arguments (spec §6).
type Config struct {
	ServerAddress   string
	PlayerName      string
	PlayerPort      uint16
	OtherPlayerName string
	OtherPlayerPort uint16
}

// acceptedStream is one item on the "new local stream accepted" channel
// from spec §4.3 step 1.
type acceptedStream struct {
	port uint16
	sock *sockwrap.Wrapper
}

// datagramItem is one payload shuttled across the inbound/outbound
// datagram queues (spec §4.5).
type datagramItem struct {
	data []byte
	from *net.UDPAddr
}

// Agent is one running `connect` instance.
type Agent struct {
	cfg    Config
	isHost bool

	rendezvous    *sockwrap.Wrapper
	rendezvousUDP *net.UDPAddr

	localListener net.Listener
	agentDatagram *net.UDPConn
	localConns    *registry.Registry // client role: accepted local app streams, keyed by their ephemeral port
	flows         *FlowTable         // host role: redirection table

	newStreams *queue.Queue[acceptedStream]
	inbound    *queue.Queue[datagramItem]
	outbound   *queue.Queue[datagramItem]

	onDispatch func(frame.Tag)
}

// New dials the rendezvous, sends the Greeting, and binds the agent's
// own local listener and datagram socket, all on Config.PlayerPort
// (spec §6).
func New(cfg Config) (*Agent, error) {
	conn, err := net.Dial("tcp", cfg.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("agent: dial rendezvous %s: %w", cfg.ServerAddress, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	rendezvousTCPAddr, err := net.ResolveTCPAddr("tcp", cfg.ServerAddress)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("agent: resolve rendezvous address: %w", err)
	}
	rendezvousUDP := &net.UDPAddr{IP: rendezvousTCPAddr.IP, Port: rendezvousTCPAddr.Port}

	greeting := frame.Greeting(cfg.PlayerName, cfg.PlayerPort)
	if err := greeting.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("agent: send greeting: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", cfg.PlayerPort))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("agent: bind local listener on %d: %w", cfg.PlayerPort, err)
	}
	dg, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: int(cfg.PlayerPort)})
	if err != nil {
		conn.Close()
		ln.Close()
		return nil, fmt.Errorf("agent: bind local datagram socket on %d: %w", cfg.PlayerPort, err)
	}

	a := &Agent{
		cfg:           cfg,
		isHost:        cfg.PlayerName == cfg.OtherPlayerName,
		rendezvous:    sockwrap.New(conn, nil),
		rendezvousUDP: rendezvousUDP,
		localListener: ln,
		agentDatagram: dg,
		localConns:    registry.New(),
		flows:         NewFlowTable(),
		newStreams:    queue.New[acceptedStream]("agent-new-streams", queue.MaxSize, metrics.IncQueueDrops),
		inbound:       queue.New[datagramItem]("agent-inbound-datagram", queue.MaxSize, metrics.IncQueueDrops),
		outbound:      queue.New[datagramItem]("agent-outbound-datagram", queue.MaxSize, metrics.IncQueueDrops),
	}

	flog.Infof("agent: %s connected to %s as %s (host=%v)", cfg.PlayerName, cfg.ServerAddress, cfg.PlayerName, a.isHost)
	return a, nil
}

// OnDispatch installs a callback invoked once per frame this agent
// dispatches, used by the optional metrics wiring.
func (a *Agent) OnDispatch(fn func(frame.Tag)) { a.onDispatch = fn }

func (a *Agent) dispatched(tag frame.Tag) {
	if a.onDispatch != nil {
		a.onDispatch(tag)
	}
}

// Run starts the listener, datagram, and redirection loops and blocks
// until ctx is canceled, returning ctx's error. Spec §5: loss of the
// rendezvous stream is fatal on the agent ("panicking loudly"); the
// redirection loop handles it through flog.Fatalf, which exits the
// process with a non-zero status, so Run does not return in that case.
func (a *Agent) Run(ctx context.Context) error {
	go a.listenerLoop(ctx)
	go a.datagramLoop(ctx)

	go func() {
		<-ctx.Done()
		a.rendezvous.Close()
		a.localListener.Close()
		a.agentDatagram.Close()
	}()

	return a.redirectionLoop(ctx)
}
