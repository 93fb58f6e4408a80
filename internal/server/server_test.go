package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gaspardpetit/rovercam/internal/serverstate"
	"github.com/gaspardpetit/rovercam/internal/snapshot"
	"github.com/gaspardpetit/rovercam/internal/stream"
)

type fakeCamera struct {
	got snapshot.Request
	err error
}

func (f *fakeCamera) Fetch(_ context.Context, req snapshot.Request) (snapshot.Snapshot, error) {
	f.got = req
	if f.err != nil {
		return snapshot.Snapshot{}, f.err
	}
	return snapshot.Snapshot{MimeType: "image/png", Data: []byte("png!"), ByteLength: 4, Origin: snapshot.OriginCache, TotalLatency: 3 * time.Millisecond}, nil
}

type fakeLive struct{}

func (fakeLive) ServeMJPEG(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("mjpeg")) }
func (fakeLive) ServeWS(w http.ResponseWriter, r *http.Request)    { _, _ = w.Write([]byte("ws")) }

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, string(b)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := httptest.NewServer(New(Options{ServeMetrics: true}))
	defer ts.Close()
	if resp, _ := get(t, ts.URL+"/metrics"); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpointSeparatePort(t *testing.T) {
	ts := httptest.NewServer(New(Options{}))
	defer ts.Close()
	if resp, _ := get(t, ts.URL+"/metrics"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	cam := &fakeCamera{}
	ts := httptest.NewServer(New(Options{Camera: cam}))
	defer ts.Close()

	resp, body := get(t, ts.URL+"/snapshot?timeoutMs=1500")
	if resp.StatusCode != http.StatusOK || body != "png!" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "image/png" || resp.Header.Get("X-Snapshot-Origin") != "cache" {
		t.Fatalf("unexpected headers %v", resp.Header)
	}
	if cam.got.Timeout != 1500*time.Millisecond {
		t.Fatalf("timeout not forwarded: %v", cam.got.Timeout)
	}
	if resp, _ := get(t, ts.URL+"/snapshot?timeoutMs=soon"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSnapshotEndpointErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{snapshot.ErrMissingURL, http.StatusServiceUnavailable},
		{snapshot.ErrTimeout, http.StatusGatewayTimeout},
		{&snapshot.HTTPStatusError{StatusCode: 500}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(New(Options{Camera: &fakeCamera{err: tc.err}}))
		resp, body := get(t, ts.URL+"/snapshot")
		ts.Close()
		if resp.StatusCode != tc.want || !strings.Contains(body, tc.err.Error()) {
			t.Fatalf("%v: got %d %q", tc.err, resp.StatusCode, body)
		}
	}
}

func TestLiveRoutes(t *testing.T) {
	ts := httptest.NewServer(New(Options{Live: fakeLive{}}))
	defer ts.Close()
	if _, body := get(t, ts.URL+"/stream.mjpeg"); body != "mjpeg" {
		t.Fatalf("mjpeg route not mounted: %q", body)
	}
	if _, body := get(t, ts.URL+"/stream/ws"); body != "ws" {
		t.Fatalf("ws route not mounted: %q", body)
	}
	if resp, _ := get(t, ts.URL+"/snapshot"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("snapshot route mounted without a camera")
	}
}

func TestCORSAllowedOrigins(t *testing.T) {
	ts := httptest.NewServer(New(Options{AllowedOrigins: []string{"https://example.com"}}))
	defer ts.Close()

	req, _ := http.NewRequest("GET", ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	_ = resp.Body.Close()
	if ao := resp.Header.Get("Access-Control-Allow-Origin"); ao != "https://example.com" {
		t.Fatalf("expected allowed origin header, got %q", ao)
	}

	req2, _ := http.NewRequest("GET", ts.URL+"/healthz", nil)
	req2.Header.Set("Origin", "https://evil.com")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	_ = resp2.Body.Close()
	if ao := resp2.Header.Get("Access-Control-Allow-Origin"); ao != "" {
		t.Fatalf("expected no allowed origin header, got %q", ao)
	}
}

type noStreams struct{}

func (noStreams) Stream(string) *stream.Session { return nil }

func TestStatusAndDraining(t *testing.T) {
	serverstate.Reset()
	defer serverstate.Reset()
	serverstate.SetState(serverstate.Ready)

	ts := httptest.NewServer(New(Options{Streams: noStreams{}, Version: "1.2.3"}))
	defer ts.Close()

	resp, body := get(t, ts.URL+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var st statusResponse
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	if st.State != serverstate.Ready || st.Version != "1.2.3" || st.Stream != nil {
		t.Fatalf("unexpected status %+v", st)
	}
	if resp, _ := get(t, ts.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz %d", resp.StatusCode)
	}

	serverstate.StartDrain()
	if resp, body := get(t, ts.URL+"/healthz"); resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(body, "draining") {
		t.Fatalf("healthz while draining: %d %q", resp.StatusCode, body)
	}
}
