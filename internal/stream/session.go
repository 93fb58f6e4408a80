// Package stream keeps one long-lived MJPEG connection per camera source
// alive in the background and publishes the most recent frame to callers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/rovercam/internal/logx"
	"github.com/gaspardpetit/rovercam/internal/metrics"
	"github.com/gaspardpetit/rovercam/internal/mjpeg"
	"github.com/gaspardpetit/rovercam/internal/reconnect"
)

// State is the lifecycle position of a Session.
type State int32

const (
	Idle State = iota
	Connecting
	Streaming
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Frame is one complete JPEG taken from the stream. Data is shared between
// all readers and must not be modified.
type Frame struct {
	Data []byte
	Seq  uint64
	At   time.Time
}

// Memo is a transcoded rendition of a frame, valid only while the session's
// latest frame is still the one stamped FrameAt.
type Memo struct {
	FrameAt     time.Time
	Fingerprint string
	Data        []byte
	MimeType    string
}

var errNotStream = errors.New("stream: source did not answer with a multipart stream")

// Config holds what a session needs to reach its source.
type Config struct {
	Client     *http.Client
	AuthHeader string
	Limits     mjpeg.Limits
	Backoff    reconnect.Policy
	MaxWaiters int

	// sleep waits for d and reports false when ctx ended first. Tests replace it.
	sleep func(ctx context.Context, d time.Duration) bool
}

func (c Config) withDefaults() Config {
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.Backoff == (reconnect.Policy{}) {
		c.Backoff = reconnect.DefaultPolicy()
	}
	if c.MaxWaiters <= 0 {
		c.MaxWaiters = DefaultMaxWaiters
	}
	if c.sleep == nil {
		c.sleep = sleepCtx
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Session is the background reader for a single source URL.
type Session struct {
	url     string
	cfg     Config
	log     zerolog.Logger
	backoff *reconnect.Backoff

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     State
	latest    *Frame
	seq       uint64
	memo      *Memo
	waiters   *waiterQueue
	notStream bool
}

func newSession(url string, cfg Config) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		url:     url,
		cfg:     cfg,
		log:     logx.Component("stream").With().Str("url", url).Logger(),
		backoff: reconnect.New(cfg.Backoff),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		waiters: newWaiterQueue(cfg.MaxWaiters),
	}
}

// URL returns the source this session reads from.
func (s *Session) URL() string { return s.url }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has stopped and released its connection.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop cancels the connection and blocks until the reader goroutine exited.
// It is safe to call more than once.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

// Latest returns the most recent frame regardless of its age.
func (s *Session) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Frame{}, false
	}
	return *s.latest, true
}

// Current returns the latest frame when the session is streaming and the frame
// is not older than maxAge.
func (s *Session) Current(maxAge time.Duration) (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Streaming || s.latest == nil {
		return Frame{}, false
	}
	if time.Since(s.latest.At) > maxAge {
		return Frame{}, false
	}
	return *s.latest, true
}

// Wait blocks until the next frame is published, the timeout elapses, ctx is
// done, or the session stops. Each call receives at most one frame.
func (s *Session) Wait(ctx context.Context, timeout time.Duration) (Frame, bool) {
	w := newWaiter()
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return Frame{}, false
	}
	evicted := s.waiters.add(w)
	s.mu.Unlock()
	if evicted != nil {
		evicted.abandon()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-w.ch:
		return f, ok
	case <-timer.C:
	case <-ctx.Done():
	}

	s.mu.Lock()
	s.waiters.remove(w)
	s.mu.Unlock()
	select {
	case f, ok := <-w.ch:
		return f, ok
	default:
		return Frame{}, false
	}
}

// Pending reports how many waiters are queued.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.len()
}

// Memo returns the transcoded rendition of the latest frame if it was produced
// with the given fingerprint.
func (s *Session) Memo(fingerprint string) (Memo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memo == nil || s.latest == nil {
		return Memo{}, false
	}
	if s.memo.Fingerprint != fingerprint || !s.memo.FrameAt.Equal(s.latest.At) {
		return Memo{}, false
	}
	return *s.memo, true
}

// Memoize attaches m to the session. It is ignored when a newer frame has
// arrived since m's frame.
func (s *Session) Memoize(m Memo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil || !s.latest.At.Equal(m.FrameAt) {
		return false
	}
	s.memo = &m
	return true
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SetStreamState(st.String())
}

func (s *Session) run() {
	defer close(s.done)
	defer s.finish()
	for {
		s.setState(Connecting)
		err := s.stream()
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, errNotStream) {
			s.mu.Lock()
			s.notStream = true
			s.mu.Unlock()
			s.log.Info().Msg("source is not streamable; supervisor stopping")
			return
		}
		s.setState(Failed)
		delay := s.backoff.Next()
		metrics.RecordStreamReconnect()
		s.log.Warn().Err(err).Dur("backoff", delay).Int("attempt", s.backoff.Attempt()).Msg("stream interrupted")
		if !s.cfg.sleep(s.ctx, delay) {
			return
		}
	}
}

func (s *Session) stream() error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	if s.cfg.AuthHeader != "" {
		req.Header.Set("Authorization", s.cfg.AuthHeader)
	}
	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return fmt.Errorf("stream: HTTP %s", resp.Status)
	}
	if !mjpeg.IsStream(resp.Header.Get("Content-Type")) || resp.Body == http.NoBody {
		return errNotStream
	}
	s.setState(Streaming)
	s.log.Info().Msg("stream connected")
	return mjpeg.Run(resp.Body, s.cfg.Limits, s.publish)
}

// publish runs on the reader goroutine for every extracted frame.
func (s *Session) publish(data []byte) {
	s.mu.Lock()
	at := time.Now()
	if s.latest != nil && !at.After(s.latest.At) {
		at = s.latest.At.Add(time.Nanosecond)
	}
	s.seq++
	f := Frame{Data: data, Seq: s.seq, At: at}
	s.latest = &f
	s.memo = nil
	pending := s.waiters.drain()
	s.mu.Unlock()

	s.backoff.Reset()
	metrics.RecordStreamFrame(len(data))
	for _, w := range pending {
		w.deliver(f)
	}
}

func (s *Session) finish() {
	s.mu.Lock()
	s.state = Stopped
	pending := s.waiters.drain()
	s.mu.Unlock()
	metrics.SetStreamState(Stopped.String())
	for _, w := range pending {
		w.abandon()
	}
	s.log.Debug().Msg("stream session stopped")
}
