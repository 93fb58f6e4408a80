package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/gaspardpetit/rovercam/internal/logx"
	"github.com/gaspardpetit/rovercam/internal/metrics"
	"github.com/gaspardpetit/rovercam/internal/mjpeg"
	"github.com/gaspardpetit/rovercam/internal/stream"
	"github.com/gaspardpetit/rovercam/internal/transcode"
)

const (
	// DefaultTimeout is the one-shot budget when a request names none.
	DefaultTimeout = 8 * time.Second
	// MinTimeout is the smallest one-shot budget accepted.
	MinTimeout = time.Second
	// MaxStreamWait caps how long a request waits for the next stream frame.
	MaxStreamWait = 1200 * time.Millisecond

	bodyExcerptBytes = 512
)

// maxFrameAge is how old the latest stream frame may be and still be served
// without waiting for the next one.
var maxFrameAge = 2 * time.Second

// TranscodeFunc recompresses an image. It must return its input unchanged
// when it cannot do better.
type TranscodeFunc func(data []byte, mimeType string, o transcode.Options) ([]byte, string)

// Config holds the camera settings of an Orchestrator.
type Config struct {
	SnapshotURL string
	BasicAuth   string
	CacheTTL    time.Duration
	Timeout     time.Duration
	Streaming   bool
	Transcode   transcode.Options
	Limits      mjpeg.Limits
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient sets the client used for camera requests. It must not carry
// a global Timeout: background streams are unbounded.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.client = c }
}

// WithTranscoder replaces the image transcoder.
func WithTranscoder(fn TranscodeFunc) Option {
	return func(o *Orchestrator) { o.transcode = fn }
}

// Request is a single snapshot request. Zero fields use the configuration.
type Request struct {
	URL     string
	Timeout time.Duration
}

// Orchestrator decides, per request, between the cache, the live stream and a
// direct fetch.
type Orchestrator struct {
	client         *http.Client
	authHeader     string
	limits         mjpeg.Limits
	defaultTimeout time.Duration
	cache          *Cache
	streams        *stream.Supervisor
	transcode      TranscodeFunc
	flight         singleflight.Group
	log            zerolog.Logger

	mu        sync.RWMutex
	url       string
	streaming bool
	topts     transcode.Options
}

type fetched struct {
	data      []byte
	mimeType  string
	multipart bool
}

// New returns an Orchestrator for cfg.
func New(cfg Config, opts ...Option) *Orchestrator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	o := &Orchestrator{
		client:         &http.Client{},
		authHeader:     BasicAuthHeader(cfg.BasicAuth),
		limits:         cfg.Limits,
		defaultTimeout: timeout,
		cache:          NewCache(cfg.CacheTTL),
		transcode:      transcode.Transcode,
		log:            logx.Component("snapshot"),
		url:            strings.TrimSpace(cfg.SnapshotURL),
		streaming:      cfg.Streaming,
		topts:          cfg.Transcode,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.streams = stream.NewSupervisor(stream.Config{
		Client:     o.client,
		AuthHeader: o.authHeader,
		Limits:     o.limits,
	})
	return o
}

// SnapshotURL returns the configured default source.
func (o *Orchestrator) SnapshotURL() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.url
}

// SetSnapshotURL changes the default source. A different URL stops the
// current background stream, so a source previously found not to stream is
// tried as a stream again once it is configured anew.
func (o *Orchestrator) SetSnapshotURL(url string) {
	url = strings.TrimSpace(url)
	o.mu.Lock()
	changed := o.url != url
	o.url = url
	o.mu.Unlock()
	if changed {
		o.streams.Stop()
	}
}

// TranscodeOptions returns the current recompression settings.
func (o *Orchestrator) TranscodeOptions() transcode.Options {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.topts
}

// SetTranscodeOptions changes the recompression settings. Memoized stream
// renditions made with other settings stop being served.
func (o *Orchestrator) SetTranscodeOptions(t transcode.Options) {
	o.mu.Lock()
	o.topts = t
	o.mu.Unlock()
}

// Streaming reports whether background streams may be started.
func (o *Orchestrator) Streaming() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.streaming
}

// SetStreaming enables or disables background streams. Disabling stops the
// current one.
func (o *Orchestrator) SetStreaming(enabled bool) {
	o.mu.Lock()
	o.streaming = enabled
	o.mu.Unlock()
	if !enabled {
		o.streams.Stop()
	}
}

// Stream returns the live background session for url (or the default source
// when url is empty), or nil.
func (o *Orchestrator) Stream(url string) *stream.Session {
	u := o.resolve(url)
	if u == "" {
		return nil
	}
	return o.streams.Active(u)
}

// EnsureStream returns a live background session for url, probing the source
// with a snapshot request first when none is running. It returns nil when the
// source is not a multipart stream or streaming is disabled.
func (o *Orchestrator) EnsureStream(ctx context.Context, url string) (*stream.Session, error) {
	u := o.resolve(url)
	if u == "" {
		return nil, ErrMissingURL
	}
	if sess := o.streams.Active(u); sess != nil {
		return sess, nil
	}
	if _, err := o.Fetch(ctx, Request{URL: u}); err != nil {
		return nil, err
	}
	return o.streams.Active(u), nil
}

// Close stops the background stream.
func (o *Orchestrator) Close() {
	o.streams.Stop()
}

// Fetch returns the current image of the requested source.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) (Snapshot, error) {
	start := time.Now()
	log := o.log.With().Str("req_id", uuid.NewString()).Logger()
	s, err := o.fetch(ctx, req, log)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordSnapshot("none", false, elapsed)
		log.Warn().Err(err).Dur("latency", elapsed).Msg("snapshot failed")
		return Snapshot{}, err
	}
	s.TotalLatency = elapsed
	metrics.RecordSnapshot(string(s.Origin), true, elapsed)
	log.Debug().Str("origin", string(s.Origin)).Int("bytes", s.ByteLength).Str("mime", s.MimeType).Dur("latency", elapsed).Msg("snapshot served")
	return s, nil
}

func (o *Orchestrator) fetch(ctx context.Context, req Request, log zerolog.Logger) (Snapshot, error) {
	url := o.resolve(req.URL)
	if url == "" {
		return Snapshot{}, ErrMissingURL
	}
	timeout := o.clamp(req.Timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s, ok := o.cache.Lookup(url); ok {
		s.Origin = OriginCache
		return s, nil
	}

	topts := o.TranscodeOptions()
	fp := topts.Fingerprint()
	if sess := o.streams.Active(url); sess != nil {
		if s, ok := o.fromStream(ctx, sess, url, topts, fp); ok {
			return s, nil
		}
		log.Debug().Str("state", sess.State().String()).Msg("no stream frame in time; fetching directly")
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, classify(err, timeout)
	}
	return o.fromHTTP(ctx, url, topts, fp, timeout, log)
}

func (o *Orchestrator) resolve(override string) string {
	if u := strings.TrimSpace(override); u != "" {
		return u
	}
	return o.SnapshotURL()
}

func (o *Orchestrator) clamp(d time.Duration) time.Duration {
	if d <= 0 {
		d = o.defaultTimeout
	}
	if d < MinTimeout {
		d = MinTimeout
	}
	return d
}

func (o *Orchestrator) fromStream(ctx context.Context, sess *stream.Session, url string, topts transcode.Options, fp string) (Snapshot, bool) {
	f, ok := sess.Current(maxFrameAge)
	if ok {
		if m, hit := sess.Memo(fp); hit && m.FrameAt.Equal(f.At) {
			s := newSnapshot(m.Data, m.MimeType, OriginStream)
			o.cache.Store(url, s)
			return s, true
		}
	} else {
		f, ok = sess.Wait(ctx, MaxStreamWait)
		if !ok {
			return Snapshot{}, false
		}
	}
	data, mimeType := o.transcode(f.Data, "image/jpeg", topts)
	sess.Memoize(stream.Memo{FrameAt: f.At, Fingerprint: fp, Data: data, MimeType: mimeType})
	s := newSnapshot(data, mimeType, OriginStream)
	o.cache.Store(url, s)
	return s, true
}

// fromHTTP fetches url directly. ctx carries the request deadline.
func (o *Orchestrator) fromHTTP(ctx context.Context, url string, topts transcode.Options, fp string, timeout time.Duration, log zerolog.Logger) (Snapshot, error) {
	deadline, _ := ctx.Deadline()
	key := url + "\x00" + fp

	var r fetched
wait:
	for {
		// Concurrent callers for the same source share one request. It does not
		// follow the starting caller's cancellation, only its deadline.
		ch := o.flight.DoChan(key, func() (any, error) {
			fctx, fcancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
			defer fcancel()
			return o.fetchOnce(fctx, url, topts)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				if errors.Is(res.Err, context.DeadlineExceeded) && time.Now().Before(deadline) {
					log.Debug().Msg("joined camera request ran out of time; retrying within own budget")
					continue
				}
				return Snapshot{}, classify(res.Err, timeout)
			}
			r = res.Val.(fetched)
			if res.Shared {
				log.Debug().Msg("joined in-flight camera request")
			}
			break wait
		case <-ctx.Done():
			return Snapshot{}, classify(ctx.Err(), timeout)
		}
	}

	if r.multipart && o.Streaming() {
		if sess := o.streams.Ensure(url); sess != nil {
			log.Debug().Str("state", sess.State().String()).Msg("background stream attached")
		}
	}
	s := newSnapshot(r.data, r.mimeType, OriginHTTP)
	o.cache.Store(url, s)
	return s, nil
}

func (o *Orchestrator) fetchOnce(ctx context.Context, url string, topts transcode.Options) (fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetched{}, fmt.Errorf("build camera request: %w", err)
	}
	if o.authHeader != "" {
		req.Header.Set("Authorization", o.authHeader)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fetched{}, fmt.Errorf("fetch camera snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptBytes))
		return fetched{}, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(b)),
		}
	}

	var r fetched
	ct := resp.Header.Get("Content-Type")
	if mjpeg.IsStream(ct) {
		frame, err := mjpeg.ReadFirst(resp.Body, o.limits)
		if err != nil {
			return fetched{}, fmt.Errorf("read mjpeg frame: %w", err)
		}
		r = fetched{data: frame, mimeType: "image/jpeg", multipart: true}
	} else {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fetched{}, fmt.Errorf("read camera snapshot: %w", err)
		}
		r = fetched{data: data, mimeType: plainMimeType(ct, data)}
	}
	r.data, r.mimeType = o.transcode(r.data, r.mimeType, topts)
	return r, nil
}

func plainMimeType(contentType string, data []byte) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err == nil && mt != "application/octet-stream" && mt != "binary/octet-stream" {
		return mt
	}
	if m := mimetype.Detect(data); strings.HasPrefix(m.String(), "image/") {
		return m.String()
	}
	return "image/jpeg"
}

func classify(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
	}
	return err
}
