// Package metrics exposes a small set of Prometheus-format counters for
// the optional --metrics-addr flag of the host and connect-family
// subcommands (SPEC_FULL.md §11). Nothing in the relay's core protocol
// or dispatch path depends on this package being wired up; it's a pure
// observer bolted onto the rendezvous and the agent through their
// OnDispatch hooks and the agent queues' drop callback.
//
// Grounded on r2northstar/atlas's use of github.com/VictoriaMetrics/metrics
// for its own process metrics (pkg/metricsx): a package-level default
// set, counters created with metrics.NewCounter, served with
// metrics.WritePrometheus over a plain net/http listener.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"

	"lanrelay/internal/flog"
	"lanrelay/internal/frame"
)

var (
	framesDispatched = map[frame.Tag]*metrics.Counter{
		frame.TagGreeting:      metrics.NewCounter(`lanrelay_frames_dispatched_total{tag="greeting"}`),
		frame.TagGreetingReply: metrics.NewCounter(`lanrelay_frames_dispatched_total{tag="greeting_reply"}`),
		frame.TagHeartbeat:     metrics.NewCounter(`lanrelay_frames_dispatched_total{tag="heartbeat"}`),
		frame.TagData:          metrics.NewCounter(`lanrelay_frames_dispatched_total{tag="data"}`),
		frame.TagConnection:    metrics.NewCounter(`lanrelay_frames_dispatched_total{tag="connection"}`),
		frame.TagCommand:       metrics.NewCounter(`lanrelay_frames_dispatched_total{tag="command"}`),
	}

	queueDrops = metrics.NewCounter(`lanrelay_datagram_queue_drops_total`)

	registrySizeFn func() float64
	_              = metrics.NewGauge(`lanrelay_registry_size`, func() float64 {
		if registrySizeFn == nil {
			return 0
		}
		return registrySizeFn()
	})
)

// ObserveDispatch increments the per-tag frame counter. Pass this to
// Rendezvous.OnDispatch or Agent.OnDispatch.
func ObserveDispatch(tag frame.Tag) {
	if c, ok := framesDispatched[tag]; ok {
		c.Inc()
	}
}

// SetRegistrySize installs the callback the lanrelay_registry_size
// gauge reads from on every scrape.
func SetRegistrySize(fn func() float64) { registrySizeFn = fn }

// IncQueueDrops counts one dropped datagram-queue enqueue.
func IncQueueDrops() { queueDrops.Inc() }

// Serve starts a plain net/http listener exposing Prometheus text
// format at /metrics, per SPEC_FULL.md §11. It runs until ctx is
// canceled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	flog.Infof("metrics: serving Prometheus text format on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics: serve %s: %w", addr, err)
	}
	return nil
}
