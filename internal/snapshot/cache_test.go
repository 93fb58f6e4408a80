package snapshot

import (
	"bytes"
	"testing"
	"time"
)

func TestCacheTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCache(500 * time.Millisecond)
	c.now = func() time.Time { return now }

	c.Store("http://cam/a", newSnapshot([]byte{1, 2, 3}, "image/jpeg", OriginHTTP))
	got, ok := c.Lookup("http://cam/a")
	if !ok || !bytes.Equal(got.Data, []byte{1, 2, 3}) {
		t.Fatalf("expected cache hit, got %v %v", got, ok)
	}
	if _, ok := c.Lookup("http://cam/b"); ok {
		t.Fatalf("hit for other url")
	}

	now = now.Add(499 * time.Millisecond)
	if _, ok := c.Lookup("http://cam/a"); !ok {
		t.Fatalf("entry expired early")
	}
	now = now.Add(time.Millisecond)
	if _, ok := c.Lookup("http://cam/a"); ok {
		t.Fatalf("entry served at expiry")
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c := NewCache(time.Second)
	c.Store("u", newSnapshot([]byte{9, 9}, "image/png", OriginHTTP))
	a, _ := c.Lookup("u")
	a.Data[0] = 0
	b, _ := c.Lookup("u")
	if b.Data[0] != 9 {
		t.Fatalf("cached data was mutated through a lookup")
	}
}

func TestCacheZeroTTLDisabled(t *testing.T) {
	c := NewCache(0)
	c.Store("u", newSnapshot([]byte{1}, "image/jpeg", OriginHTTP))
	if _, ok := c.Lookup("u"); ok {
		t.Fatalf("zero ttl cache served an entry")
	}
}

func TestBasicAuthHeader(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  ", ""},
		{"admin:secret", "Basic YWRtaW46c2VjcmV0"},
		{"YWRtaW46c2VjcmV0", "Basic YWRtaW46c2VjcmV0"},
	}
	for _, tc := range cases {
		if got := BasicAuthHeader(tc.in); got != tc.want {
			t.Fatalf("BasicAuthHeader(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHTTPStatusErrorMessage(t *testing.T) {
	err := &HTTPStatusError{StatusCode: 500, Status: "500 Internal Server Error", Body: "boom"}
	if got := err.Error(); got != "HTTP 500 Internal Server Error: boom" {
		t.Fatalf("unexpected message %q", got)
	}
	err = &HTTPStatusError{StatusCode: 404}
	if got := err.Error(); got != "HTTP 404" {
		t.Fatalf("unexpected message %q", got)
	}
}
