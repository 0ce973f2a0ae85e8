// Command lanrelay is the single executable for every role described in
// spec §6: the rendezvous (host), the peer agent (connect and its
// multi/mass variants), and the out-of-core diagnostic subcommands
// (ping, listen, command).
//
// Grounded on the teacher's cmd/commands.go use of
// github.com/spf13/cobra for subcommand registration; the teacher's
// single registerPlatformCommands hook is replaced by the full
// subcommand set this spec's external interfaces section names.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lanrelay/internal/flog"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "lanrelay",
	Short: "NAT-traversal rendezvous relay for LAN-style peer traffic",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		flog.SetLevel(levelFromString(logLevel))
	},
}

func levelFromString(s string) int {
	switch s {
	case "trace":
		return int(flog.Trace)
	case "debug":
		return int(flog.Debug)
	case "warn":
		return int(flog.Warn)
	case "error":
		return int(flog.Error)
	case "none":
		return int(flog.None)
	default:
		return int(flog.Info)
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "trace|debug|info|warn|error|none")
	rootCmd.AddCommand(hostCmd, connectCmd, multiConnectCmd, massConnectCmd, pingCmd, listenCmd, commandCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
