package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"lanrelay/internal/agent"
	"lanrelay/internal/flog"
	"lanrelay/internal/metrics"
)

var connectCmd = &cobra.Command{
	Use:   "connect <server_address> <player_name> <player_port> <other_player_name> <other_player_port>",
	Short: "Join the rendezvous as one peer agent",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		playerPort, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("player_port: %w", err)
		}
		otherPort, err := strconv.Atoi(args[4])
		if err != nil {
			return fmt.Errorf("other_player_port: %w", err)
		}

		cfg := agent.Config{
			ServerAddress:   args[0],
			PlayerName:      args[1],
			PlayerPort:      uint16(playerPort),
			OtherPlayerName: args[3],
			OtherPlayerPort: uint16(otherPort),
		}
		return runAgent(cfg)
	},
}

var multiConnectCmd = &cobra.Command{
	Use:   "multi-connect <server_address> <player_name> <other_player_name> <player_port>...",
	Short: "Join the rendezvous as the same peer on several local ports at once",
	Args:  cobra.MinimumNArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverAddr, playerName, otherName := args[0], args[1], args[2]
		ports := args[3:]

		var wg sync.WaitGroup
		errCh := make(chan error, len(ports))
		for _, p := range ports {
			port, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("player_port %q: %w", p, err)
			}
			wg.Add(1)
			go func(port int) {
				defer wg.Done()
				// spec.md:128 — each spawned instance gets a distinct
				// registry entry by suffixing its own player_name with
				// its port; the rendezvous rejects duplicate names
				// (registry.SetName), so the unsuffixed name only works
				// for a single instance.
				name := fmt.Sprintf("%s_%d", playerName, port)
				cfg := agent.Config{
					ServerAddress:   serverAddr,
					PlayerName:      name,
					PlayerPort:      uint16(port),
					OtherPlayerName: otherName,
					OtherPlayerPort: uint16(port),
				}
				errCh <- runAgent(cfg)
			}(port)
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				return err
			}
		}
		return nil
	},
}

var massConnectCmd = &cobra.Command{
	Use:   "mass-connect <server_address> <player_name> <other_player_name> <lower_port> <upper_port>",
	Short: "Join the rendezvous across an inclusive range of local ports at once",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		lower, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("lower_port: %w", err)
		}
		upper, err := strconv.Atoi(args[4])
		if err != nil {
			return fmt.Errorf("upper_port: %w", err)
		}
		if upper < lower {
			return fmt.Errorf("upper_port %d is below lower_port %d", upper, lower)
		}

		combined := make([]string, 0, 3+upper-lower+1)
		combined = append(combined, args[0], args[1], args[2])
		for p := lower; p <= upper; p++ {
			combined = append(combined, strconv.Itoa(p))
		}
		return multiConnectCmd.RunE(cmd, combined)
	},
}

func init() {
	connectCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional host:port to serve Prometheus metrics on")
	multiConnectCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional host:port to serve Prometheus metrics on")
	massConnectCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional host:port to serve Prometheus metrics on")
}

// runAgent wires one agent.Agent through its full lifecycle: connect,
// optional metrics, signal-driven shutdown, and the blocking redirection
// loop. Shared by connect, multi-connect (one call per port), and
// mass-connect (delegates to multi-connect).
func runAgent(cfg agent.Config) error {
	a, err := agent.New(cfg)
	if err != nil {
		return err
	}
	a.OnDispatch(metrics.ObserveDispatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr); err != nil {
				flog.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	return a.Run(ctx)
}
