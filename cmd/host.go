package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"lanrelay/internal/flog"
	"lanrelay/internal/metrics"
	"lanrelay/internal/rendezvous"
)

var metricsAddr string

var hostCmd = &cobra.Command{
	Use:   "host <port>",
	Short: "Run the rendezvous: binds a stream and datagram port on 0.0.0.0:<port>",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}

		rv, err := rendezvous.New(port)
		if err != nil {
			return err
		}
		rv.OnDispatch(metrics.ObserveDispatch)
		metrics.SetRegistrySize(func() float64 { return float64(rv.Registry().Len()) })

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

		flog.Infof("rendezvous listening on 0.0.0.0:%d", port)
		return rv.Run(ctx)
	},
}

func init() {
	hostCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "optional host:port to serve Prometheus metrics on")
}
