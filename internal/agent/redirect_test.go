package agent

import (
	"net"
	"testing"
	"time"

	"lanrelay/internal/frame"
	"lanrelay/internal/sockwrap"
)

// TestRelayFlowStreamUsesOwnEphemeralPort exercises the host-role
// redirection path (relayFlow) and asserts the Data frame's source_port
// reflects the flow's own loopback socket, not the remote peer's
// registered player_port (spec §8 invariant 2).
func TestRelayFlowStreamUsesOwnEphemeralPort(t *testing.T) {
	localAppLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen local app: %v", err)
	}
	defer localAppLn.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := localAppLn.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	flowConn, err := net.Dial("tcp", localAppLn.Addr().String())
	if err != nil {
		t.Fatalf("dial local app: %v", err)
	}
	defer flowConn.Close()
	<-accepted

	flowLocalPortWant := uint16(flowConn.LocalAddr().(*net.TCPAddr).Port)

	// remotePeerPort stands in for the far side's own registered
	// player_port, which must NOT leak into source_port.
	const remotePeerPort uint16 = 54321
	if flowLocalPortWant == remotePeerPort {
		t.Fatal("test setup collision: pick a different remotePeerPort")
	}

	flow := &LocalFlow{
		PlayerName:         "Remote",
		PlayerPort:         remotePeerPort,
		OriginalSocketPort: 1111,
		Sock:               sockwrap.New(flowConn, nil),
	}

	rvServer, rvClient := net.Pipe()
	defer rvServer.Close()
	defer rvClient.Close()

	a := &Agent{
		cfg:        Config{PlayerName: "Host"},
		isHost:     true,
		rendezvous: sockwrap.New(rvClient, nil),
	}

	decoded := make(chan *frame.Frame, 1)
	go func() {
		f := &frame.Frame{}
		if err := f.Read(rvServer); err == nil {
			decoded <- f
		}
	}()

	if _, err := flowConn.Write([]byte("hello")); err != nil {
		t.Fatalf("write local app bytes: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.relayFlow("Remote:1111", flow) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case f := <-decoded:
		if f.SourcePort != flowLocalPortWant {
			t.Fatalf("source_port = %d, want flow's own local port %d (not remote player_port %d)",
				f.SourcePort, flowLocalPortWant, remotePeerPort)
		}
		if f.SourcePort == remotePeerPort {
			t.Fatal("source_port leaked the remote peer's registered port")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed Data frame")
	}
}
