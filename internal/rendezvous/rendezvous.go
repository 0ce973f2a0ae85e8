// Package rendezvous implements the host role's dispatch engine from
// spec §4.2: accept agent streams, maintain the connection registry,
// forward frames by receiver name, and learn NAT return addresses for
// datagram traffic.
//
// Grounded on the teacher's internal/server/udp.go accept-and-dispatch
// structure (one goroutine per concern, a pooled read buffer, deadline-based
// non-blocking reads) and on original_source/src/main.rs's host/
// accept_connections tick loop (read every registered stream once per
// iteration, forward by receiver-name lookup).
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"lanrelay/internal/flog"
	"lanrelay/internal/frame"
	"lanrelay/internal/pkg/buffer"
	"lanrelay/internal/registry"
	"lanrelay/internal/sockwrap"
)

// tickInterval mirrors the agent's 1ms cooperative tick (spec §4.3);
// the rendezvous stream-dispatch loop uses the same pacing so idle
// sessions don't spin.
const tickInterval = time.Millisecond

// Rendezvous is the host role: a registry of connected agents plus the
// stream-accept and datagram-ingress loops that keep it current.
type Rendezvous struct {
	reg        *registry.Registry
	datagram   *net.UDPConn
	listener   net.Listener
	onDispatch func(frame.Tag) // optional metrics hook
}

// New binds the stream listener and datagram socket on the same port
// number (spec §2: "binds a public stream-listening port and a public
// datagram port on the same number") and returns a Rendezvous ready to
// Run.
func New(port int) (*Rendezvous, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("rendezvous: bind stream port %d: %w", port, err)
	}
	dg, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("rendezvous: bind datagram port %d: %w", port, err)
	}
	return &Rendezvous{
		reg:      registry.New(),
		datagram: dg,
		listener: ln,
	}, nil
}

// OnDispatch installs a callback invoked once per successfully
// dispatched frame, used by the optional metrics wiring (SPEC_FULL.md
// §11) to count frames by tag without this package importing a metrics
// library itself.
func (r *Rendezvous) OnDispatch(fn func(frame.Tag)) { r.onDispatch = fn }

// Registry exposes the connection registry for the show_connections
// command and for metrics gauges.
func (r *Rendezvous) Registry() *registry.Registry { return r.reg }

// Run starts the accept loop and the datagram-ingress loop. Both run
// until ctx is canceled; Run itself blocks in the accept loop (spec §5:
// "the accept loop (blocking-accept on the stream listener)" is the
// rendezvous's only suspension point besides datagram polling).
func (r *Rendezvous) Run(ctx context.Context) error {
	go r.datagramLoop(ctx)

	go func() {
		<-ctx.Done()
		r.listener.Close()
		r.datagram.Close()
	}()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			flog.Errorf("rendezvous: accept failed: %v", err)
			return err
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		go r.serveStream(ctx, conn)
	}
}

// serveStream owns one accepted agent connection for its whole
// lifetime: insert into the registry, then tick the read-and-dispatch
// loop from spec §4.2 until the peer disconnects or the connection is
// closed on this side (duplicate-name eviction).
func (r *Rendezvous) serveStream(ctx context.Context, conn net.Conn) {
	w := sockwrap.New(conn, nil)
	peerPort := portOf(conn.RemoteAddr())
	entry := r.reg.Insert(peerPort, conn.RemoteAddr(), w)
	flog.Debugf("rendezvous: accepted stream from %s (port %d)", conn.RemoteAddr(), peerPort)

	defer func() {
		r.reg.Remove(peerPort)
		w.Close()
		flog.Infof("rendezvous: %s disconnected", entry.Name)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := w.TryReadFrame()
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			flog.Warnf("rendezvous: read error from %s: %v", conn.RemoteAddr(), err)
			time.Sleep(tickInterval)
			continue
		}
		if f == nil {
			time.Sleep(tickInterval)
			continue
		}
		r.dispatchStream(entry, peerPort, f)
	}
}

// dispatchStream implements the stream-ingress table in spec §4.2.
func (r *Rendezvous) dispatchStream(entry *registry.Entry, peerPort uint16, f *frame.Frame) {
	if r.onDispatch != nil {
		r.onDispatch(f.Tag)
	}
	switch f.Tag {
	case frame.TagGreeting:
		if r.reg.SetName(peerPort, f.PlayerName, f.LocalPort) {
			flog.Infof("rendezvous: %s greeted from port %d", f.PlayerName, peerPort)
			entry.Socket.WriteFrame(frame.GreetingReply())
		} else {
			flog.Warnf("rendezvous: duplicate greeting for name %q, evicting", f.PlayerName)
			r.reg.Remove(peerPort)
			entry.Socket.Close()
		}

	case frame.TagHeartbeat:
		entry.Socket.WriteFrame(frame.Heartbeat(f.PlayerName))

	case frame.TagData, frame.TagConnection:
		receiver, ok := r.reg.ByName(f.ReceiverName)
		if !ok {
			flog.Debugf("rendezvous: no such receiver %q, dropping frame", f.ReceiverName)
			return
		}
		if err := receiver.Socket.WriteFrame(f); err != nil {
			flog.Debugf("rendezvous: forward to %q dropped: %v", f.ReceiverName, err)
		}

	case frame.TagCommand:
		r.runCommand(entry, f.Command)

	default:
		flog.Tracef("rendezvous: unframed or unexpected tag %v from %q, ignoring", f.Tag, entry.Name)
	}
}

// runCommand executes the operator command channel (spec §4.1,
// SPEC_FULL.md §12); only show_connections is defined.
func (r *Rendezvous) runCommand(requester *registry.Entry, cmd string) {
	switch cmd {
	case "show_connections":
		lines := make([]string, 0, r.reg.Len())
		r.reg.Each(func(e *registry.Entry) { lines = append(lines, e.Describe()) })
		out := ""
		for _, l := range lines {
			out += l + "\n"
		}
		requester.Socket.Write([]byte(out))
	default:
		flog.Warnf("rendezvous: unknown command %q from %q", cmd, requester.Name)
	}
}

// datagramLoop implements spec §4.2's datagram ingress: Heartbeat
// updates the NAT mapping and echoes; Data is forwarded by name lookup
// to the registered stream_address host with last_known_udp_port
// substituted; anything else is logged and dropped.
func (r *Rendezvous) datagramLoop(ctx context.Context) {
	bufp := buffer.Get()
	defer buffer.Put(bufp)
	buf := *bufp

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.datagram.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, src, err := r.datagram.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			flog.Warnf("rendezvous: datagram read error: %v", err)
			continue
		}

		f, err := frame.DecodeBytes(buf[:n])
		if err != nil {
			flog.Debugf("rendezvous: undecodable datagram from %s, dropping", src)
			continue
		}
		if r.onDispatch != nil {
			r.onDispatch(f.Tag)
		}

		switch f.Tag {
		case frame.TagHeartbeat:
			r.reg.TouchUDP(f.PlayerName, uint16(src.Port))
			reply, _ := frame.Heartbeat(f.PlayerName).EncodeBytes()
			r.datagram.WriteToUDP(reply, src)

		case frame.TagData:
			receiver, ok := r.reg.ByName(f.ReceiverName)
			if !ok || !receiver.HasDatagram() {
				flog.Debugf("rendezvous: no learned datagram address for %q, dropping", f.ReceiverName)
				continue
			}
			dest := datagramDestAddr(receiver)
			r.datagram.WriteToUDP(buf[:n], dest)

		default:
			flog.Debugf("rendezvous: unexpected datagram tag %v, dropping", f.Tag)
		}
	}
}

func datagramDestAddr(e *registry.Entry) *net.UDPAddr {
	host, _, _ := net.SplitHostPort(e.StreamAddress.String())
	return &net.UDPAddr{IP: net.ParseIP(host), Port: int(e.LastKnownUDPPort)}
}

func portOf(addr net.Addr) uint16 {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return uint16(port)
}
