package mcpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gaspardpetit/rovercam/internal/car"
	"github.com/gaspardpetit/rovercam/internal/tools"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := NewHandler(tools.NewServer("test", nil, car.New("http://127.0.0.1:1", nil)))
	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func initialize(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	reqBody := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`)
	resp, err := http.Post(srv.URL+"/mcp", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	sid := resp.Header.Get("Mcp-Session-Id")
	if sid == "" {
		t.Fatalf("missing session id")
	}
	var js map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&js); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if js["result"] == nil {
		t.Fatalf("missing result")
	}
	return sid
}

func TestInitialize(t *testing.T) {
	initialize(t, newTestServer(t))
}

func TestListTools(t *testing.T) {
	srv := newTestServer(t)
	sid := initialize(t, srv)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Session-Id", sid)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var js struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&js); err != nil {
		t.Fatalf("decode: %v", err)
	}
	names := map[string]bool{}
	for _, tl := range js.Result.Tools {
		names[tl.Name] = true
	}
	for _, want := range []string{"move_car", "set_car_speed", "pilot_car", "stop_car"} {
		if !names[want] {
			t.Fatalf("tool %s not listed: %v", want, names)
		}
	}
	if names["fetch_snapshot"] {
		t.Fatalf("camera tool registered without a camera")
	}
}

func TestListenSSE(t *testing.T) {
	srv := newTestServer(t)
	sid := initialize(t, srv)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sid)
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected sse, got %s", ct)
	}
	_ = resp.Body.Close()
}
