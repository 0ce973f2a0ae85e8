package rendezvous

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"lanrelay/internal/frame"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestGreetingAssignsNameAndReplies(t *testing.T) {
	port := freePort(t)
	rv, err := New(port)
	if err != nil {
		t.Fatalf("new rendezvous: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rv.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := frame.Greeting("Alice", 9000).Write(conn); err != nil {
		t.Fatalf("write greeting: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var reply frame.Frame
	if err := reply.Read(conn); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Tag != frame.TagGreetingReply {
		t.Fatalf("expected GreetingReply, got %v", reply.Tag)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := rv.Registry().ByName("Alice"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected Alice to appear in registry")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDuplicateNameEvictsSecondConnection(t *testing.T) {
	port := freePort(t)
	rv, err := New(port)
	if err != nil {
		t.Fatalf("new rendezvous: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rv.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	addr := "127.0.0.1:" + strconv.Itoa(port)
	c1, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer c1.Close()
	frame.Greeting("Bob", 9001).Write(c1)

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := rv.Registry().ByName("Bob"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected Bob to register first")
		}
		time.Sleep(time.Millisecond)
	}

	c2, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer c2.Close()
	frame.Greeting("Bob", 9002).Write(c2)

	c2.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := c2.Read(buf); err == nil {
		t.Fatal("expected second connection to be evicted (closed), got data instead")
	}

	e, ok := rv.Registry().ByName("Bob")
	if !ok || e.LocalPort != 9001 {
		t.Fatalf("expected original Bob entry (local port 9001) to survive, got %+v ok=%v", e, ok)
	}
}

