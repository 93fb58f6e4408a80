// Package mjpeg extracts complete JPEG frames from multipart/x-mixed-replace
// byte streams. Part headers and boundaries are ignored: frames are located by
// their start-of-image and end-of-image markers alone.
package mjpeg

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"strings"
)

const (
	// DefaultMaxBufferBytes bounds the working buffer between chunks.
	DefaultMaxBufferBytes = 2 << 20
	// DefaultMaxSearchBytes bounds the bytes scanned without finding a frame.
	DefaultMaxSearchBytes = 16 << 20

	readChunkSize = 32 << 10
)

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

var (
	// ErrNoFrame is returned in single-shot mode when the input ends before a
	// complete frame was seen.
	ErrNoFrame = errors.New("mjpeg: stream ended without a complete frame")
	// ErrSearchLimit is returned when MaxSearchBytes were scanned without
	// producing a frame.
	ErrSearchLimit = errors.New("mjpeg: search ceiling exceeded")
	// ErrStreamClosed is returned in continuous mode when the input ends.
	ErrStreamClosed = errors.New("mjpeg: stream closed")
)

// Limits bounds the memory and work spent looking for a frame.
type Limits struct {
	MaxBufferBytes int
	MaxSearchBytes int
}

// DefaultLimits returns the 2 MiB buffer / 16 MiB search ceilings.
func DefaultLimits() Limits {
	return Limits{MaxBufferBytes: DefaultMaxBufferBytes, MaxSearchBytes: DefaultMaxSearchBytes}
}

func (l Limits) normalized() Limits {
	if l.MaxBufferBytes <= 0 {
		l.MaxBufferBytes = DefaultMaxBufferBytes
	}
	if l.MaxSearchBytes <= 0 {
		l.MaxSearchBytes = DefaultMaxSearchBytes
	}
	return l
}

// IsStream reports whether a Content-Type header announces an MJPEG push
// stream: multipart/x-mixed-replace, or any multipart type with a boundary.
func IsStream(contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "multipart/x-mixed-replace") {
		return true
	}
	if !strings.HasPrefix(strings.TrimSpace(ct), "multipart/") {
		return false
	}
	if _, params, err := mime.ParseMediaType(ct); err == nil {
		if _, ok := params["boundary"]; ok {
			return true
		}
	}
	return strings.Contains(ct, "boundary=")
}

// Extractor accumulates chunks and splits out complete frames.
// It is not safe for concurrent use.
type Extractor struct {
	limits   Limits
	buf      []byte
	searched int
}

// NewExtractor returns an Extractor enforcing the given limits. Zero fields
// fall back to the defaults.
func NewExtractor(l Limits) *Extractor {
	return &Extractor{limits: l.normalized()}
}

// Buffered reports the number of bytes currently held.
func (e *Extractor) Buffered() int { return len(e.buf) }

// Feed appends chunk and calls emit for every complete frame now available,
// in stream order. Emitted slices are copies owned by the callee. When emit
// returns false Feed stops and leaves the remaining bytes unscanned.
func (e *Extractor) Feed(chunk []byte, emit func(frame []byte) bool) error {
	e.buf = append(e.buf, chunk...)
	e.searched += len(chunk)

	for {
		start := bytes.Index(e.buf, soi)
		if start < 0 {
			break
		}
		end := bytes.Index(e.buf[start+len(soi):], eoi)
		if end < 0 {
			break
		}
		stop := start + len(soi) + end + len(eoi)
		frame := make([]byte, stop-start)
		copy(frame, e.buf[start:stop])

		n := copy(e.buf, e.buf[stop:])
		e.buf = e.buf[:n]
		e.searched = n

		if !emit(frame) {
			return nil
		}
	}

	if e.searched > e.limits.MaxSearchBytes {
		return ErrSearchLimit
	}
	if len(e.buf) > e.limits.MaxBufferBytes {
		keep := len(e.buf) / 4
		n := copy(e.buf, e.buf[len(e.buf)-keep:])
		e.buf = e.buf[:n]
	}
	return nil
}

// ReadFirst consumes r until the first complete frame and returns it without
// reading further. It fails with ErrNoFrame on end of input and with
// ErrSearchLimit when the ceiling is exceeded.
func ReadFirst(r io.Reader, l Limits) ([]byte, error) {
	e := NewExtractor(l)
	var first []byte
	err := pump(r, e, func(frame []byte) bool {
		first = frame
		return false
	}, func() bool { return first != nil })
	if first != nil {
		return first, nil
	}
	if errors.Is(err, io.EOF) {
		return nil, ErrNoFrame
	}
	return nil, err
}

// Run consumes r until it fails, invoking fn for every frame. It never returns
// nil: end of input yields ErrStreamClosed, and cancellation surfaces as the
// reader's error (typically context.Canceled from an HTTP body).
func Run(r io.Reader, l Limits, fn func(frame []byte)) error {
	e := NewExtractor(l)
	err := pump(r, e, func(frame []byte) bool {
		fn(frame)
		return true
	}, func() bool { return false })
	if errors.Is(err, io.EOF) {
		return ErrStreamClosed
	}
	return err
}

func pump(r io.Reader, e *Extractor, emit func([]byte) bool, done func() bool) error {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if ferr := e.Feed(chunk[:n], emit); ferr != nil {
				return ferr
			}
			if done() {
				return nil
			}
		}
		if err != nil {
			return err
		}
	}
}
