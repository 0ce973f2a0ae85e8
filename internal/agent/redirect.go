package agent

import (
	"context"
	"io"
	"net"
	"time"

	"lanrelay/internal/flog"
	"lanrelay/internal/frame"
	"lanrelay/internal/registry"
)

// maxFramesPerTick bounds how many frames a single connection's
// read-and-dispatch gets drained per tick, so one flooding source can't
// starve the others (spec §4.3 step 3).
const maxFramesPerTick = 64

// redirectionLoop is the single-threaded cooperative tick from spec
// §4.3: each iteration runs steps 1-7 in order and then either proceeds
// immediately (work happened) or sleeps the remainder of a 1ms slot.
func (a *Agent) redirectionLoop(ctx context.Context) error {
	lastHeartbeat := time.Time{}
	var lastLocalUDPAddr *udpAddrBox

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		didWork := false

		// Step 1: drain newly accepted local streams, announce each.
		for {
			accepted, ok := a.newStreams.TryDequeue()
			if !ok {
				break
			}
			didWork = true
			a.announceConnection(accepted.port)
		}

		// Step 2: periodic stream heartbeat.
		if time.Since(lastHeartbeat) >= streamHeartbeatInterval {
			if err := a.rendezvous.WriteFrame(frame.Heartbeat(a.cfg.PlayerName)); err != nil {
				flog.Debugf("agent: stream heartbeat write failed: %v", err)
			}
			lastHeartbeat = time.Now()
			didWork = true
		}

		// Step 3/4: local application streams (client role; host's
		// application-side sockets live in the flow table and are
		// handled by step 6 below).
		if !a.isHost {
			a.localConns.Each(func(e *registry.Entry) {
				if a.relayLocalStream(e) {
					didWork = true
				}
			})
		}

		// Step 5: inbound datagram channel.
		if a.drainInboundDatagrams(&lastLocalUDPAddr) {
			didWork = true
		}

		// Step 6: host role's local flow table.
		if a.isHost {
			a.flows.Each(func(id string, f *LocalFlow) {
				if a.relayFlow(id, f) {
					didWork = true
				}
			})
		}

		// Step 7: one non-blocking read on the rendezvous stream.
		if a.readRendezvousStream(lastLocalUDPAddr) {
			didWork = true
		}

		if !didWork {
			time.Sleep(tickSlot)
		}
	}
}

// udpAddrBox carries the last local application UDP source address
// seen on the shared datagram socket, so a later inbound Data frame
// (from the rendezvous relay) knows where to write the reply.
type udpAddrBox struct {
	ip   string
	port int
}

func (a *Agent) announceConnection(localPort uint16) {
	f := frame.Connection(a.cfg.PlayerName, localPort, a.cfg.OtherPlayerName, a.cfg.OtherPlayerPort, localPort)
	if err := a.rendezvous.WriteFrame(f); err != nil {
		flog.Debugf("agent: failed to announce local connection on port %d: %v", localPort, err)
	}
}

// relayLocalStream implements step 3/4 for one accepted local
// application stream: unframed bytes are wrapped into a Data frame and
// sent on the rendezvous stream.
func (a *Agent) relayLocalStream(e *registry.Entry) bool {
	didWork := false
	buf := make([]byte, 4096)
	for i := 0; i < maxFramesPerTick; i++ {
		n, err := e.Socket.Read(buf)
		if err != nil {
			if err == io.EOF {
				a.localConns.Remove(e.StreamPeerPort)
			} else {
				flog.Debugf("agent: local stream read error on port %d: %v", e.StreamPeerPort, err)
			}
			return didWork
		}
		if n == 0 {
			return didWork
		}
		didWork = true
		d := frame.Data(frame.SocketStream, a.cfg.PlayerName, e.StreamPeerPort,
			a.cfg.OtherPlayerName, a.cfg.OtherPlayerPort, e.StreamPeerPort,
			append([]byte(nil), buf[:n]...))
		if err := a.rendezvous.WriteFrame(d); err != nil {
			flog.Debugf("agent: relay local stream bytes failed: %v", err)
		}
	}
	return didWork
}

// relayFlow implements step 6: non-blocking reads on a host-role
// flow's loopback stream and loopback datagram socket, wrapped and
// relayed to the rendezvous.
func (a *Agent) relayFlow(id string, f *LocalFlow) bool {
	didWork := false

	if f.Sock.HasStream() {
		buf := make([]byte, 4096)
		n, err := f.Sock.Read(buf)
		if err != nil && err != io.EOF {
			flog.Debugf("agent: flow %q stream read error: %v", id, err)
		} else if n > 0 {
			didWork = true
			d := frame.Data(frame.SocketStream, a.cfg.PlayerName, f.PlayerPort,
				f.PlayerName, f.OriginalSocketPort, flowLocalPort(f.Sock.StreamLocalAddr()),
				append([]byte(nil), buf[:n]...))
			if err := a.rendezvous.WriteFrame(d); err != nil {
				flog.Debugf("agent: relay flow %q stream bytes failed: %v", id, err)
			}
		}
	}

	if f.Sock.HasDatagram() {
		buf := make([]byte, 4096)
		n, _, err := f.Sock.RecvFrom(buf)
		if err != nil {
			flog.Debugf("agent: flow %q datagram recv error: %v", id, err)
		} else if n > 0 {
			didWork = true
			d := frame.Data(frame.SocketDatagram, a.cfg.PlayerName, f.PlayerPort,
				f.PlayerName, f.OriginalSocketPort, flowLocalPort(f.Sock.DatagramLocalAddr()),
				append([]byte(nil), buf[:n]...))
			encoded, err := d.EncodeBytes()
			if err != nil {
				flog.Debugf("agent: encode flow %q datagram failed: %v", id, err)
			} else if !a.outbound.TryEnqueue(datagramItem{data: encoded}) {
				flog.Warnf("agent: outbound datagram queue full, dropping flow %q datagram", id)
			}
		}
	}

	return didWork
}

// drainInboundDatagrams implements step 5.
func (a *Agent) drainInboundDatagrams(lastLocalUDPAddr **udpAddrBox) bool {
	didWork := false
	for {
		item, ok := a.inbound.TryDequeue()
		if !ok {
			return didWork
		}
		didWork = true

		if a.isHost {
			a.handleHostInboundDatagram(item)
			continue
		}

		if !a.outbound.HasCapacity() {
			continue
		}
		f, err := frame.DecodeBytes(item.data)
		if err != nil {
			// Not a protocol frame: this is the local application's own
			// UDP traffic landing on the shared socket (spec §4.3 step 5).
			*lastLocalUDPAddr = &udpAddrBox{ip: item.from.IP.String(), port: item.from.Port}
			d := frame.Data(frame.SocketDatagram, a.cfg.PlayerName, a.cfg.PlayerPort,
				a.cfg.OtherPlayerName, a.cfg.OtherPlayerPort, uint16(item.from.Port), item.data)
			encoded, err := d.EncodeBytes()
			if err != nil {
				flog.Debugf("agent: encode local datagram bytes failed: %v", err)
				continue
			}
			if !a.outbound.TryEnqueue(datagramItem{data: encoded}) {
				flog.Warnf("agent: outbound datagram queue full, dropping local datagram")
			}
			continue
		}

		switch f.Tag {
		case frame.TagData:
			if *lastLocalUDPAddr != nil {
				addr := (*lastLocalUDPAddr).toUDPAddr()
				a.agentDatagram.WriteToUDP(f.Payload, addr)
			} else {
				flog.Debugf("agent: received relayed datagram with no known local app address yet, dropping")
			}
		case frame.TagHeartbeat:
			flog.Tracef("agent: datagram heartbeat echoed by rendezvous")
		default:
			flog.Warnf("agent: unexpected datagram frame tag %v on client inbound channel", f.Tag)
		}
	}
}

func (b *udpAddrBox) toUDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(b.ip), Port: b.port}
}

// flowLocalPort extracts the port a flow's own loopback socket is bound
// to, for use as a Data frame's source_port (spec §8 invariant 2: source
// identifies the sending side's own local socket, not the remote peer's
// registered port).
func flowLocalPort(addr net.Addr) uint16 {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return uint16(a.Port)
	case *net.UDPAddr:
		return uint16(a.Port)
	default:
		return 0
	}
}

// handleHostInboundDatagram implements the host branch of step 5.
func (a *Agent) handleHostInboundDatagram(item datagramItem) {
	f, err := frame.DecodeBytes(item.data)
	if err != nil {
		flog.Debugf("agent: undecodable datagram on host inbound channel, dropping: %v", err)
		return
	}
	switch f.Tag {
	case frame.TagData:
		id := OriginalID(f.SenderName, f.SourcePort)
		flow := a.flows.GetOrCreate(id, f.SenderName, f.SenderPort, f.SourcePort)
		if err := flow.EnsureDatagram(); err != nil {
			flog.Errorf("agent: ensure datagram flow %q failed: %v", id, err)
			return
		}
		dest := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(f.ReceiverPort)}
		if _, err := flow.Sock.SendTo(dest, f.Payload); err != nil {
			flog.Debugf("agent: deliver to local app on port %d failed: %v", f.ReceiverPort, err)
		}
	case frame.TagHeartbeat:
		flog.Tracef("agent: datagram heartbeat echoed by rendezvous")
	default:
		flog.Fatalf("agent: unexpected frame tag %v on host inbound datagram channel", f.Tag)
	}
}

// readRendezvousStream implements step 7.
func (a *Agent) readRendezvousStream(lastLocalUDPAddr *udpAddrBox) bool {
	f, err := a.rendezvous.TryReadFrame()
	if err != nil {
		if err == io.EOF {
			flog.Fatalf("agent: SERVER TIMEOUT! rendezvous stream lost")
		}
		flog.Debugf("agent: rendezvous stream read error: %v", err)
		return false
	}
	if f == nil {
		return false
	}
	a.dispatched(f.Tag)

	switch f.Tag {
	case frame.TagData:
		if f.ReceiverName != a.cfg.PlayerName {
			flog.Debugf("agent: received data addressed to %q, not self, dropping", f.ReceiverName)
			return true
		}
		if a.isHost {
			id := OriginalID(f.SenderName, f.SourcePort)
			flow := a.flows.GetOrCreate(id, f.SenderName, f.SenderPort, f.SourcePort)
			if err := flow.EnsureStream(a.cfg.PlayerPort); err != nil {
				flog.Fatalf("agent: missing local flow for %q on host: %v", id, err)
			}
			if _, err := flow.Sock.Write(f.Payload); err != nil {
				flog.Debugf("agent: write to local flow %q failed: %v", id, err)
			}
		} else {
			entry, ok := a.localConns.ByPort(f.ReceiverPort)
			if !ok {
				flog.Debugf("agent: no local connection on port %d for inbound data, dropping", f.ReceiverPort)
				return true
			}
			if _, err := entry.Socket.Write(f.Payload); err != nil {
				flog.Debugf("agent: write to local connection on port %d failed: %v", f.ReceiverPort, err)
			}
		}

	case frame.TagGreetingReply:
		flog.Tracef("agent: greeting reply received")

	case frame.TagConnection:
		if a.isHost {
			id := OriginalID(f.SenderName, f.SourcePort)
			flow := a.flows.GetOrCreate(id, f.SenderName, f.SenderPort, f.SourcePort)
			if err := flow.EnsureStream(a.cfg.PlayerPort); err != nil {
				flog.Warnf("agent: precreate local flow %q failed: %v", id, err)
			}
		} else {
			flog.Warnf("agent: unexpected Connection frame on client role from %q", f.SenderName)
		}

	default:
		flog.Tracef("agent: unremarkable frame tag %v from rendezvous", f.Tag)
	}
	return true
}
