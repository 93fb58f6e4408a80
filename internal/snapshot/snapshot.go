// Package snapshot serves "current camera image" requests from a short-lived
// cache, from the background stream, or from a direct fetch.
package snapshot

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Origin tells where a Snapshot came from.
type Origin string

const (
	OriginCache  Origin = "cache"
	OriginStream Origin = "stream"
	OriginHTTP   Origin = "http"
)

// Snapshot is the image returned to a caller. Every Snapshot owns its Data.
type Snapshot struct {
	MimeType     string
	Data         []byte
	ByteLength   int
	Origin       Origin
	TotalLatency time.Duration
}

// Base64 returns the payload encoded for text transports.
func (s Snapshot) Base64() string {
	return base64.StdEncoding.EncodeToString(s.Data)
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.Data = append([]byte(nil), s.Data...)
	c.ByteLength = len(c.Data)
	return c
}

func newSnapshot(data []byte, mimeType string, origin Origin) Snapshot {
	return Snapshot{
		MimeType:   mimeType,
		Data:       append([]byte(nil), data...),
		ByteLength: len(data),
		Origin:     origin,
	}
}

var (
	// ErrMissingURL is returned when neither the request nor the configuration
	// names a camera.
	ErrMissingURL = errors.New("missing camera snapshot url: set CAMERA_SNAPSHOT_URL or pass url")
	// ErrTimeout is returned when a request exceeds its time budget.
	ErrTimeout = errors.New("camera snapshot timed out")
)

// HTTPStatusError reports a non-success answer from the camera.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	msg := fmt.Sprintf("HTTP %d", e.StatusCode)
	if text := strings.TrimSpace(strings.TrimPrefix(e.Status, fmt.Sprint(e.StatusCode))); text != "" {
		msg += " " + text
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}
