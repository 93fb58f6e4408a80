// Package relay re-broadcasts the camera's background stream to local
// viewers over multipart HTTP and websockets.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gaspardpetit/rovercam/internal/logx"
	"github.com/gaspardpetit/rovercam/internal/metrics"
	"github.com/gaspardpetit/rovercam/internal/serverstate"
	"github.com/gaspardpetit/rovercam/internal/stream"
)

const (
	boundary  = "rovercamframe"
	frameWait = 5 * time.Second
)

// DefaultMaxFPS caps the frame rate delivered to a single viewer.
const DefaultMaxFPS = 10

// ErrNoStream is returned when the camera is not serving a multipart stream.
var ErrNoStream = errors.New("relay: camera is not streaming")

// ErrDraining is returned to viewers arriving during shutdown.
var ErrDraining = errors.New("relay: server is draining")

// Source hands out the live stream session for the configured camera.
type Source interface {
	EnsureStream(ctx context.Context, url string) (*stream.Session, error)
}

// Relay fans frames of one stream session out to any number of viewers.
type Relay struct {
	src   Source
	limit rate.Limit
	log   zerolog.Logger
}

// New returns a Relay limiting every viewer to maxFPS frames per second.
func New(src Source, maxFPS float64) *Relay {
	if maxFPS <= 0 {
		maxFPS = DefaultMaxFPS
	}
	return &Relay{src: src, limit: rate.Limit(maxFPS), log: logx.Component("relay")}
}

// viewer paces one client through the session's frames.
type viewer struct {
	id      string
	sess    *stream.Session
	limiter *rate.Limiter
	lastSeq uint64
}

func (r *Relay) attach(ctx context.Context) (*viewer, error) {
	if serverstate.IsDraining() {
		return nil, ErrDraining
	}
	sess, err := r.src.EnsureStream(ctx, "")
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoStream
	}
	return &viewer{id: uuid.NewString(), sess: sess, limiter: rate.NewLimiter(r.limit, 1)}, nil
}

// next blocks until a frame newer than the last one sent is available. It
// returns false once ctx ends or the session stops.
func (v *viewer) next(ctx context.Context) (stream.Frame, bool) {
	if err := v.limiter.Wait(ctx); err != nil {
		return stream.Frame{}, false
	}
	for {
		if f, ok := v.sess.Latest(); ok && f.Seq > v.lastSeq && v.sess.State() == stream.Streaming {
			v.lastSeq = f.Seq
			return f, true
		}
		f, ok := v.sess.Wait(ctx, frameWait)
		if ok {
			v.lastSeq = f.Seq
			return f, true
		}
		if ctx.Err() != nil || v.sess.State() == stream.Stopped || serverstate.IsDraining() {
			return stream.Frame{}, false
		}
	}
}

func (r *Relay) status(err error) int {
	switch {
	case errors.Is(err, ErrNoStream):
		return http.StatusConflict
	case errors.Is(err, ErrDraining):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// ServeMJPEG streams frames as multipart/x-mixed-replace.
func (r *Relay) ServeMJPEG(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	v, err := r.attach(ctx)
	if err != nil {
		http.Error(w, err.Error(), r.status(err))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	metrics.RelayViewerJoined()
	defer metrics.RelayViewerLeft()
	log := r.log.With().Str("viewer", v.id).Str("kind", "mjpeg").Logger()
	log.Info().Msg("viewer attached")
	defer log.Info().Msg("viewer detached")

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	for {
		f, ok := v.next(ctx)
		if !ok {
			return
		}
		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(f.Data)); err != nil {
			return
		}
		if _, err := w.Write(f.Data); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// ServeWS streams frames as binary websocket messages, one JPEG per message.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	v, err := r.attach(req.Context())
	if err != nil {
		http.Error(w, err.Error(), r.status(err))
		return
	}
	c, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	metrics.RelayViewerJoined()
	defer metrics.RelayViewerLeft()
	log := r.log.With().Str("viewer", v.id).Str("kind", "ws").Logger()
	log.Info().Msg("viewer attached")

	// Viewers never send; CloseRead handles their close frame and cancels ctx.
	ctx := c.CloseRead(req.Context())
	for {
		f, ok := v.next(ctx)
		if !ok {
			break
		}
		wctx, cancel := context.WithTimeout(ctx, frameWait)
		err := c.Write(wctx, websocket.MessageBinary, f.Data)
		cancel()
		if err != nil {
			log.Debug().Err(err).Msg("viewer write failed")
			break
		}
	}
	if v.sess.State() == stream.Stopped {
		_ = c.Close(websocket.StatusGoingAway, "stream stopped")
	} else {
		_ = c.Close(websocket.StatusNormalClosure, "closing")
	}
	log.Info().Msg("viewer detached")
}
