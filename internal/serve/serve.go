// Package serve runs HTTP listeners tied to a context.
package serve

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/rovercam/internal/logx"
)

// ShutdownGrace bounds how long in-flight requests may run after ctx ends.
const ShutdownGrace = 5 * time.Second

// UntilContext starts an HTTP server bound to addr and shuts it down when ctx is done.
// It returns the resolved listen address and a channel closed once the server
// has fully stopped.
func UntilContext(ctx context.Context, addr string, handler http.Handler) (string, <-chan struct{}, error) {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	actual := ln.Addr().String()
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
		defer cancel()
		_ = srv.Shutdown(c)
	}()
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Log.Error().Err(err).Str("addr", actual).Msg("http server stopped")
		}
	}()
	return actual, done, nil
}

// StartMetricsServer exposes a Prometheus handler backed by the provided registry.
// The registry may be nil to use the default global registry.
func StartMetricsServer(ctx context.Context, addr string, reg prometheus.Gatherer) (string, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))
	actual, _, err := UntilContext(ctx, addr, mux)
	return actual, err
}

// MetricsHandler returns the Prometheus scrape handler for reg, or for the
// default registry when reg is nil.
func MetricsHandler(reg prometheus.Gatherer) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
