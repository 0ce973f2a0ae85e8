// Package sockwrap implements the per-connection stream+datagram bundle
// and liveness predicate from spec §4.4. A Wrapper holds an optional
// stream socket and an optional datagram socket — either half may be
// absent (the rendezvous registry never has a datagram half; an agent's
// local flow may have only one half populated until the other frame
// arrives) — and exposes peek/read/write/send-to/recv-from plus the
// is_timed_out() predicate.
//
// Grounded on original_source/src/socket.rs's SocketWrapper (an
// Option<TcpStream> + Option<UdpSocket> pair with peek/read/write/
// read_udp), generalized with the write/send-to half and the 1400ms
// datagram-idle timeout from spec §4.4/§5, and on the teacher's
// non-blocking-socket setup idiom (internal/server/udp.go sets deadlines
// around every blocking call instead of relying on OS-level
// non-blocking mode, since Go's net package has no O_NONBLOCK knob).
package sockwrap

import (
	"bufio"
	"errors"
	"net"
	"sync/atomic"
	"time"
)

// DatagramIdleTimeout is the 1400ms figure from spec §4.4/§5.
const DatagramIdleTimeout = 1400 * time.Millisecond

// pollWindow is the deadline set for every non-blocking probe (peek,
// read, write, recv-from): a deadline this short after now makes the
// operation return with a timeout error if nothing is ready within it,
// which this package treats as "would block, try again next tick".
var pollWindow = 2 * time.Millisecond

var ErrNoStream = errors.New("sockwrap: wrapper has no stream half")
var ErrNoDatagram = errors.New("sockwrap: wrapper has no datagram half")

// Wrapper bundles a stream socket and a datagram socket that together
// represent one logical endpoint (a rendezvous peer, or an agent's
// local flow).
type Wrapper struct {
	stream   net.Conn
	streamR  *bufio.Reader
	peerAddr net.Addr

	datagram     *net.UDPConn
	lastDatagram atomic.Int64 // UnixNano of last datagram activity; 0 = never
}

// New builds a Wrapper from whichever halves are available. Pass nil
// for an absent half.
func New(stream net.Conn, datagram *net.UDPConn) *Wrapper {
	w := &Wrapper{stream: stream, datagram: datagram}
	if stream != nil {
		w.streamR = bufio.NewReader(stream)
		w.peerAddr = stream.RemoteAddr()
	}
	if datagram != nil {
		w.Touch()
	}
	return w
}

// HasStream reports whether the stream half is present.
func (w *Wrapper) HasStream() bool { return w.stream != nil }

// HasDatagram reports whether the datagram half is present.
func (w *Wrapper) HasDatagram() bool { return w.datagram != nil }

// SetDatagram fills in the datagram half of a wrapper created with only
// a stream half (spec §3: "stream and datagram halves are populated
// independently").
func (w *Wrapper) SetDatagram(conn *net.UDPConn) {
	w.datagram = conn
	w.Touch()
}

// SetStream fills in the stream half of a wrapper created with only a
// datagram half.
func (w *Wrapper) SetStream(conn net.Conn) {
	w.stream = conn
	w.streamR = bufio.NewReader(conn)
	w.peerAddr = conn.RemoteAddr()
}

// StreamPeerAddr returns the stream socket's remote address.
func (w *Wrapper) StreamPeerAddr() net.Addr { return w.peerAddr }

// StreamLocalAddr returns the stream socket's own local address, or nil
// if no stream half is present.
func (w *Wrapper) StreamLocalAddr() net.Addr {
	if w.stream == nil {
		return nil
	}
	return w.stream.LocalAddr()
}

// DatagramLocalAddr returns the datagram socket's own local address, or
// nil if no datagram half is present.
func (w *Wrapper) DatagramLocalAddr() net.Addr {
	if w.datagram == nil {
		return nil
	}
	return w.datagram.LocalAddr()
}

// Touch resets the datagram idle timer; called on every datagram send
// or receive to keep the NAT-mapping-refresh accounting live.
func (w *Wrapper) Touch() { w.lastDatagram.Store(time.Now().UnixNano()) }

// Peek reports whether stream data is currently available without
// consuming it, using bufio.Reader.Peek so the bytes stay buffered for
// the next Read. Returns (false, nil) on would-block, (false, io.EOF)
// if the peer has closed its write half (spec's "zero-length peek
// returns Ok"), and (false, err) on any other read error.
func (w *Wrapper) Peek() (bool, error) {
	if w.stream == nil {
		return false, ErrNoStream
	}
	w.stream.SetReadDeadline(time.Now().Add(pollWindow))
	_, err := w.streamR.Peek(1)
	if err == nil {
		return true, nil
	}
	if isTimeout(err) {
		return false, nil
	}
	return false, err
}

// Read performs a non-blocking stream read. A timeout (nothing ready)
// is reported as (0, nil); an orderly close is (0, io.EOF).
func (w *Wrapper) Read(buf []byte) (int, error) {
	if w.stream == nil {
		return 0, ErrNoStream
	}
	w.stream.SetReadDeadline(time.Now().Add(pollWindow))
	n, err := w.streamR.Read(buf)
	if err != nil && isTimeout(err) {
		return 0, nil
	}
	return n, err
}

// Write performs a non-blocking stream write. spec §4.5: a write that
// would block is deferred, not retried within this call — the caller's
// next tick tries again.
func (w *Wrapper) Write(buf []byte) (int, error) {
	if w.stream == nil {
		return 0, ErrNoStream
	}
	w.stream.SetWriteDeadline(time.Now().Add(pollWindow))
	n, err := w.stream.Write(buf)
	if err != nil && isTimeout(err) {
		return n, nil
	}
	return n, err
}

// SendTo sends a datagram to addr and touches the liveness timer.
func (w *Wrapper) SendTo(addr *net.UDPAddr, buf []byte) (int, error) {
	if w.datagram == nil {
		return 0, ErrNoDatagram
	}
	n, err := w.datagram.WriteToUDP(buf, addr)
	if err == nil {
		w.Touch()
	}
	return n, err
}

// RecvFrom performs a non-blocking datagram receive and touches the
// liveness timer on success.
func (w *Wrapper) RecvFrom(buf []byte) (int, *net.UDPAddr, error) {
	if w.datagram == nil {
		return 0, nil, ErrNoDatagram
	}
	w.datagram.SetReadDeadline(time.Now().Add(pollWindow))
	n, addr, err := w.datagram.ReadFromUDP(buf)
	if err != nil {
		if isTimeout(err) {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	w.Touch()
	return n, addr, nil
}

// Close closes whichever halves are present.
func (w *Wrapper) Close() {
	if w.stream != nil {
		w.stream.Close()
	}
	if w.datagram != nil {
		w.datagram.Close()
	}
}

// StreamTimedOut implements the stream half of is_timed_out(): a
// zero-length peek (orderly close, or any other non-would-block read
// error) means the peer is gone.
func (w *Wrapper) StreamTimedOut() bool {
	if !w.HasStream() {
		return false
	}
	ok, err := w.Peek()
	if ok {
		return false
	}
	return err != nil
}

// DatagramTimedOut implements the datagram half of is_timed_out(): more
// than DatagramIdleTimeout since the last send/receive.
func (w *Wrapper) DatagramTimedOut() bool {
	if !w.HasDatagram() {
		return false
	}
	last := w.lastDatagram.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) > DatagramIdleTimeout
}

// IsTimedOut implements spec §4.4's combined predicate: dead only when
// both halves are timed out, or the only-present half is.
func (w *Wrapper) IsTimedOut() bool {
	switch {
	case w.HasStream() && w.HasDatagram():
		return w.StreamTimedOut() && w.DatagramTimedOut()
	case w.HasStream():
		return w.StreamTimedOut()
	case w.HasDatagram():
		return w.DatagramTimedOut()
	default:
		return true
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
