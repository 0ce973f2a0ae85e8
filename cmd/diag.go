package main

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"lanrelay/internal/flog"
	"lanrelay/internal/frame"
)

// pingInterval mirrors original_source/src/main.rs's ping loop (a fixed
// payload written on a short sleep) widened to a configurable payload
// size per spec §6.
const pingInterval = 16 * time.Millisecond

var pingCmd = &cobra.Command{
	Use:   "ping <port> <address> {udp|tcp} <data_size>",
	Short: "Diagnostic one-way probe: write data_size bytes to address repeatedly",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		address := args[1]
		proto := args[2]
		size, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("data_size: %w", err)
		}
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i)
		}

		switch proto {
		case "tcp":
			laddr := &net.TCPAddr{Port: port}
			raddr, err := net.ResolveTCPAddr("tcp", address)
			if err != nil {
				return err
			}
			conn, err := net.DialTCP("tcp", laddr, raddr)
			if err != nil {
				return err
			}
			defer conn.Close()
			for {
				if _, err := conn.Write(payload); err != nil {
					return err
				}
				time.Sleep(pingInterval)
			}
		case "udp":
			laddr := &net.UDPAddr{Port: port}
			raddr, err := net.ResolveUDPAddr("udp", address)
			if err != nil {
				return err
			}
			conn, err := net.DialUDP("udp", laddr, raddr)
			if err != nil {
				return err
			}
			defer conn.Close()
			for {
				if _, err := conn.Write(payload); err != nil {
					return err
				}
				time.Sleep(pingInterval)
			}
		default:
			return fmt.Errorf("unknown protocol %q, want udp or tcp", proto)
		}
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen <port> {udp|tcp}",
	Short: "Diagnostic one-way probe: accept and discard traffic on port, logging byte counts",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		proto := args[1]

		switch proto {
		case "tcp":
			ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
			if err != nil {
				return err
			}
			defer ln.Close()
			for {
				conn, err := ln.Accept()
				if err != nil {
					return err
				}
				go discardStream(conn)
			}
		case "udp":
			conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
			if err != nil {
				return err
			}
			defer conn.Close()
			buf := make([]byte, 65536)
			total := 0
			for {
				n, src, err := conn.ReadFromUDP(buf)
				if err != nil {
					return err
				}
				total += n
				flog.Infof("listen: %d bytes from %s (total %d)", n, src, total)
			}
		default:
			return fmt.Errorf("unknown protocol %q, want udp or tcp", proto)
		}
	},
}

func discardStream(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 65536)
	total := 0
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			total += n
			flog.Infof("listen: %d bytes from %s (total %d)", n, conn.RemoteAddr(), total)
		}
		if err != nil {
			return
		}
	}
}

var commandCmd = &cobra.Command{
	Use:   "command <address> <command>",
	Short: "Send a single Command frame to the rendezvous and print its reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, command := args[0], args[1]

		conn, err := net.Dial("tcp", address)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := frame.Command(command).Write(conn); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		reader := bufio.NewReader(conn)
		buf := make([]byte, 4096)
		n, err := reader.Read(buf)
		if err != nil && n == 0 {
			return err
		}
		fmt.Print(string(buf[:n]))
		return nil
	},
}
