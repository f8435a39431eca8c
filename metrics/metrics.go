// Package metrics exposes operational counters for the daemon. It
// plays the same role as goms.Run's optional pprof debug listener
// ("if *pprof { go http.ListenAndServe(...) }"), but wired to a real
// metrics dependency instead of a blank import.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the counters the irc and server packages update.
// It wraps a private prometheus.Registry, never the global default
// one, so multiple instances (e.g. one per test) never collide.
type Registry struct {
	reg *prometheus.Registry

	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	CommandsTotal     *prometheus.CounterVec
	LinesDropped      *prometheus.CounterVec
}

// New builds a Registry with all counters registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lircd_connections_total",
			Help: "Total number of accepted connections.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lircd_connections_active",
			Help: "Number of currently active connections.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lircd_commands_total",
			Help: "Total number of dispatched commands, by command name.",
		}, []string{"command"}),
		LinesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lircd_lines_dropped_total",
			Help: "Total number of input lines dropped, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(r.ConnectionsTotal, r.ConnectionsActive, r.CommandsTotal, r.LinesDropped)
	return r
}

// Serve starts an HTTP server exposing /metrics on addr until ctx is
// cancelled. An empty addr disables metrics serving entirely.
func Serve(ctx context.Context, addr string, r *Registry) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
