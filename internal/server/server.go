// Package server builds the HTTP router used by the http transport.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gaspardpetit/rovercam/internal/logx"
	"github.com/gaspardpetit/rovercam/internal/secret"
	"github.com/gaspardpetit/rovercam/internal/serve"
	"github.com/gaspardpetit/rovercam/internal/serverstate"
	"github.com/gaspardpetit/rovercam/internal/snapshot"
	"github.com/gaspardpetit/rovercam/internal/stream"
)

// Camera returns the current camera image.
type Camera interface {
	Fetch(ctx context.Context, req snapshot.Request) (snapshot.Snapshot, error)
}

// Live serves the background stream to viewers.
type Live interface {
	ServeMJPEG(w http.ResponseWriter, r *http.Request)
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Streams exposes the background stream for status reporting.
type Streams interface {
	Stream(url string) *stream.Session
}

// Options wires the router. Nil handlers leave their routes unmounted.
type Options struct {
	MCP            http.Handler
	Camera         Camera
	Live           Live
	Streams        Streams
	Version        string
	AllowedOrigins []string
	// ServeMetrics mounts /metrics on this router.
	ServeMetrics bool
}

// New constructs the HTTP handler for the server.
func New(o Options) http.Handler {
	r := chi.NewRouter()
	if len(o.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: o.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Mcp-Session-Id", "X-Snapshot-Origin"},
		}))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if serverstate.IsDraining() {
			http.Error(w, serverstate.Draining, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", statusHandler(o.Version, o.Streams))
	if o.ServeMetrics {
		r.Handle("/metrics", serve.MetricsHandler(nil))
	}
	if o.MCP != nil {
		r.Handle("/mcp", o.MCP)
	}
	if o.Camera != nil {
		r.Get("/snapshot", snapshotHandler(o.Camera))
	}
	if o.Live != nil {
		r.Get("/stream.mjpeg", o.Live.ServeMJPEG)
		r.Get("/stream/ws", o.Live.ServeWS)
	}
	return r
}

type streamStatus struct {
	URL            string `json:"url"`
	State          string `json:"state"`
	Frames         uint64 `json:"frames"`
	LastFrameAgeMs *int64 `json:"last_frame_age_ms,omitempty"`
	Waiters        int    `json:"waiters"`
}

type statusResponse struct {
	State   string        `json:"state"`
	Version string        `json:"version,omitempty"`
	Stream  *streamStatus `json:"stream,omitempty"`
}

func statusHandler(version string, streams Streams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{State: serverstate.GetState(), Version: version}
		if streams != nil {
			if sess := streams.Stream(""); sess != nil {
				st := &streamStatus{URL: secret.MaskURL(sess.URL()), State: sess.State().String(), Waiters: sess.Pending()}
				if f, ok := sess.Latest(); ok {
					age := time.Since(f.At).Milliseconds()
					st.Frames = f.Seq
					st.LastFrameAgeMs = &age
				}
				resp.Stream = st
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func snapshotHandler(cam Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req snapshot.Request
		if v := r.URL.Query().Get("timeoutMs"); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil || ms < 0 {
				http.Error(w, "timeoutMs must be a non-negative integer", http.StatusBadRequest)
				return
			}
			req.Timeout = time.Duration(ms) * time.Millisecond
		}
		s, err := cam.Fetch(r.Context(), req)
		if err != nil {
			logx.Log.Debug().Err(err).Str("req_id", middleware.GetReqID(r.Context())).Msg("snapshot endpoint failed")
			http.Error(w, err.Error(), snapshotStatus(err))
			return
		}
		w.Header().Set("Content-Type", s.MimeType)
		w.Header().Set("Content-Length", strconv.Itoa(s.ByteLength))
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Snapshot-Origin", string(s.Origin))
		w.Header().Set("X-Snapshot-Latency-Ms", strconv.FormatInt(s.TotalLatency.Milliseconds(), 10))
		_, _ = w.Write(s.Data)
	}
}

func snapshotStatus(err error) int {
	switch {
	case errors.Is(err, snapshot.ErrMissingURL):
		return http.StatusServiceUnavailable
	case errors.Is(err, snapshot.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
