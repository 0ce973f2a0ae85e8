package agent

import (
	"context"
	"net"

	"lanrelay/internal/flog"
	"lanrelay/internal/sockwrap"
)

// listenerLoop accepts local applications dialing into the agent's own
// player_port, exactly as they would if connecting to the other LAN
// peer directly (spec §2/§4.3 step 1). Each accepted connection is
// recorded in the local connection registry and queued so the
// redirection loop can announce it to the rendezvous with a Connection
// frame.
func (a *Agent) listenerLoop(ctx context.Context) {
	for {
		conn, err := a.localListener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			flog.Debugf("agent: local listener closed: %v", err)
			return
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		port := localPeerPort(conn)
		sock := sockwrap.New(conn, nil)
		a.localConns.Insert(port, conn.RemoteAddr(), sock)
		flog.Debugf("agent: accepted local application stream on port %d", port)
		a.newStreams.TryEnqueue(acceptedStream{port: port, sock: sock})
	}
}

func localPeerPort(conn net.Conn) uint16 {
	if a, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return uint16(a.Port)
	}
	return 0
}
