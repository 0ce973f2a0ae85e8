package frame

import (
	"bytes"
	"testing"
)

func TestGreetingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := Greeting("Alice", 7000)
	if err := w.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	var r Frame
	if err := r.Read(&buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.Tag != TagGreeting || r.PlayerName != "Alice" || r.LocalPort != 7000 {
		t.Fatalf("mismatch: %+v", r)
	}
}

func TestGreetingReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := GreetingReply()
	if err := w.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != 1 {
		t.Fatalf("expected 1 byte, got %d", buf.Len())
	}
	var r Frame
	if err := r.Read(&buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.Tag != TagGreetingReply {
		t.Fatalf("expected GreetingReply, got %v", r.Tag)
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := Heartbeat("Bob")
	if err := w.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	var r Frame
	if err := r.Read(&buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.Tag != TagHeartbeat || r.PlayerName != "Bob" {
		t.Fatalf("mismatch: %+v", r)
	}
}

func TestDataRoundTrip(t *testing.T) {
	for _, st := range []SocketType{SocketStream, SocketDatagram} {
		var buf bytes.Buffer
		w := Data(st, "Alice", 5001, "Bob", 5002, 5001, []byte("hello"))
		if err := w.Write(&buf); err != nil {
			t.Fatalf("write: %v", err)
		}
		var r Frame
		if err := r.Read(&buf); err != nil {
			t.Fatalf("read: %v", err)
		}
		if r.Tag != TagData || r.SocketType != st || r.SenderName != "Alice" ||
			r.SenderPort != 5001 || r.ReceiverName != "Bob" || r.ReceiverPort != 5002 ||
			r.SourcePort != 5001 || !bytes.Equal(r.Payload, []byte("hello")) {
			t.Fatalf("mismatch: %+v", r)
		}
	}
}

func TestDataZeroLengthPayloadIsLegalNoOp(t *testing.T) {
	var buf bytes.Buffer
	w := Data(SocketStream, "A", 1, "B", 2, 1, nil)
	if err := w.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	var r Frame
	if err := r.Read(&buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(r.Payload) != 0 {
		t.Fatalf("expected empty payload, got %v", r.Payload)
	}
}

func TestConnectionRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := Connection("Alice", 5001, "Bob", 5002, 5001)
	if err := w.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	var r Frame
	if err := r.Read(&buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.Tag != TagConnection || r.SenderName != "Alice" || r.SenderPort != 5001 ||
		r.ReceiverName != "Bob" || r.ReceiverPort != 5002 || r.SourcePort != 5001 {
		t.Fatalf("mismatch: %+v", r)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := Command("show_connections")
	if err := w.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	var r Frame
	if err := r.Read(&buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.Tag != TagCommand || r.Command != "show_connections" {
		t.Fatalf("mismatch: %+v", r)
	}
}

func TestUnknownTagReturnsError(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0xFF)
	var r Frame
	if err := r.Read(&buf); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestNameTooLongReturnsError(t *testing.T) {
	var buf bytes.Buffer
	long := make([]byte, 256)
	w := Heartbeat(string(long))
	if err := w.Write(&buf); err == nil {
		t.Fatal("expected error for oversized name")
	}
}

func TestEncodeDecodeBytesRoundTrip(t *testing.T) {
	w := Data(SocketDatagram, "Alice", 5001, "Bob", 5002, 5001, []byte{1, 2, 3, 4})
	raw, err := w.EncodeBytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r, err := DecodeBytes(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Tag != TagData || !bytes.Equal(r.Payload, []byte{1, 2, 3, 4}) {
		t.Fatalf("mismatch: %+v", r)
	}
}
