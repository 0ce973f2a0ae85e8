package agent

import (
	"context"
	"net"
	"time"

	"lanrelay/internal/flog"
	"lanrelay/internal/frame"
	"lanrelay/internal/pkg/buffer"
)

// datagramTickInterval mirrors the teacher's udp.go read-deadline poll
// granularity, adapted down to keep the cross-loop queues responsive.
const datagramTickInterval = 5 * time.Millisecond

// datagramHeartbeatInterval is spec §4.1/§4.3's 4 Hz datagram heartbeat,
// sent alongside the ≈500ms stream heartbeat to keep the rendezvous's
// NAT-learned last_known_udp_port mapping fresh (spec §8.4).
const datagramHeartbeatInterval = 250 * time.Millisecond

// datagramLoop owns the agent's single public-facing datagram socket
// (spec §4.3 loop (c)): it shuttles datagrams received from the
// rendezvous into the inbound queue for the redirection loop, and
// drains the outbound queue back onto the wire toward the rendezvous's
// public datagram address. This socket is bound on 0.0.0.0:player_port
// alongside the stream listener (spec §6), so for the client role it
// doubles as the socket the local application's own UDP traffic lands
// on — the redirection loop tells the two apart by whether an inbound
// item decodes as a Frame (spec §4.3 step 5).
func (a *Agent) datagramLoop(ctx context.Context) {
	bufp := buffer.Get()
	defer buffer.Put(bufp)
	buf := *bufp

	lastHeartbeat := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		hadWork := false

		if time.Since(lastHeartbeat) >= datagramHeartbeatInterval {
			encoded, err := frame.Heartbeat(a.cfg.PlayerName).EncodeBytes()
			if err != nil {
				flog.Debugf("agent: encode datagram heartbeat failed: %v", err)
			} else if _, err := a.agentDatagram.WriteToUDP(encoded, a.rendezvousUDP); err != nil {
				flog.Debugf("agent: datagram heartbeat write failed: %v", err)
			}
			lastHeartbeat = time.Now()
			hadWork = true
		}

		a.agentDatagram.SetReadDeadline(time.Now().Add(datagramTickInterval))
		n, src, err := a.agentDatagram.ReadFromUDP(buf)
		if err == nil {
			hadWork = true
			item := datagramItem{data: append([]byte(nil), buf[:n]...), from: src}
			if !a.inbound.TryEnqueue(item) {
				flog.Warnf("agent: inbound datagram queue full, dropping %d bytes from %s", n, src)
			}
		} else if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			if ctx.Err() != nil {
				return
			}
			flog.Debugf("agent: datagram read error: %v", err)
		}

		if out, ok := a.outbound.TryDequeue(); ok {
			hadWork = true
			if _, err := a.agentDatagram.WriteToUDP(out.data, a.rendezvousUDP); err != nil {
				flog.Debugf("agent: datagram write error: %v", err)
			}
		}

		if !hadWork {
			time.Sleep(tickSlot)
		}
	}
}
