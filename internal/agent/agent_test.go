package agent

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"lanrelay/internal/rendezvous"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestIsHostDerivation(t *testing.T) {
	rvPort := freeTCPPort(t)
	rv, err := rendezvous.New(rvPort)
	if err != nil {
		t.Fatalf("new rendezvous: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rv.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	addr := "127.0.0.1:" + strconv.Itoa(rvPort)
	hostPort := uint16(freeTCPPort(t))

	hostAgent, err := New(Config{
		ServerAddress:   addr,
		PlayerName:      "Alice",
		PlayerPort:      hostPort,
		OtherPlayerName: "Alice",
		OtherPlayerPort: hostPort,
	})
	if err != nil {
		t.Fatalf("new host agent: %v", err)
	}
	if !hostAgent.isHost {
		t.Fatal("expected agent with player_name == other_player_name to be host")
	}

	clientPort := uint16(freeTCPPort(t))
	clientAgent, err := New(Config{
		ServerAddress:   addr,
		PlayerName:      "Bob",
		PlayerPort:      clientPort,
		OtherPlayerName: "Alice",
		OtherPlayerPort: hostPort,
	})
	if err != nil {
		t.Fatalf("new client agent: %v", err)
	}
	if clientAgent.isHost {
		t.Fatal("expected agent with player_name != other_player_name to be client")
	}
}

