package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newConfig(t *testing.T, args ...string) *Config {
	t.Helper()
	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.bind(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return &c
}

func TestDefaults(t *testing.T) {
	c := newConfig(t)
	if c.Transport != TransportStdio || c.ListenAddr != ":8080" || c.MetricsAddr != "" {
		t.Fatalf("unexpected server defaults %+v", c)
	}
	if c.CacheTTL != 500*time.Millisecond || c.Timeout != 8*time.Second || !c.Stream {
		t.Fatalf("unexpected camera defaults %+v", c)
	}
	if c.Transcode || c.TranscodeMinBytes != 256<<10 || c.TranscodeMaxWidth != 1280 || c.TranscodeQuality != 75 || c.TranscodeFormat != "jpeg" {
		t.Fatalf("unexpected transcode defaults %+v", c)
	}
	if c.StreamMaxBuffer != 2<<20 || c.StreamMaxSearch != 16<<20 {
		t.Fatalf("unexpected stream limits %+v", c)
	}
	if c.CarBaseURL != "http://192.168.1.106" {
		t.Fatalf("unexpected car url %q", c.CarBaseURL)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestEnvThenFlags(t *testing.T) {
	t.Setenv("CAMERA_SNAPSHOT_URL", "http://cam/env")
	t.Setenv("CAMERA_CACHE_TTL_MS", "0")
	t.Setenv("CAMERA_STREAM", "false")
	t.Setenv("CAMERA_TRANSCODE_QUALITY", "60")
	t.Setenv("METRICS_PORT", "9090")
	t.Setenv("MCP_X_CONFIG_PATH", "/tmp/mcp-x.config.json")

	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	c := newConfig(t, "-camera-url", "http://cam/flag", "-transcode")
	if len(c.AllowedOrigins) != 2 || c.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins not split: %q", c.AllowedOrigins)
	}
	if c.CameraSnapshotURL != "http://cam/flag" {
		t.Fatalf("flag did not override env: %q", c.CameraSnapshotURL)
	}
	if c.CacheTTL != 0 || c.Stream || c.TranscodeQuality != 60 || !c.Transcode {
		t.Fatalf("env not applied: %+v", c)
	}
	if c.MetricsAddr != ":9090" {
		t.Fatalf("metrics port not normalized: %q", c.MetricsAddr)
	}
	if c.ConfigFile != "/tmp/mcp-x.config.json" {
		t.Fatalf("legacy config path not honoured: %q", c.ConfigFile)
	}
}

func TestLoadFileOverridesPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp-x.config.json")
	body := `{"carBaseUrl": "http://rover.local", "cameraSnapshotUrl": "http://cam/file", "cameraCacheTtlMs": 250}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	c := newConfig(t, "-camera-auth", "admin:pw")
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.CarBaseURL != "http://rover.local" || c.CameraSnapshotURL != "http://cam/file" || c.CacheTTL != 250*time.Millisecond {
		t.Fatalf("file entries not applied: %+v", c)
	}
	if c.CameraBasicAuth != "admin:pw" || c.Timeout != 8*time.Second {
		t.Fatalf("absent keys were reset: %+v", c)
	}
}

func TestLoadFileMillis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rovercam.yaml")
	if err := os.WriteFile(path, []byte("cameraCacheTtlMs: 500\ncameraTimeoutMs: 1500\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := newConfig(t)
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.CacheTTL != 500*time.Millisecond || c.Timeout != 1500*time.Millisecond {
		t.Fatalf("millisecond entries misread: ttl=%s timeout=%s", c.CacheTTL, c.Timeout)
	}
	if err := os.WriteFile(path, []byte("cameraCacheTtlMs: soon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := c.LoadFile(path); err == nil {
		t.Fatalf("expected an error for a non-numeric duration")
	}
}

func TestLoadFileErrors(t *testing.T) {
	c := newConfig(t)
	if err := c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("cameraStream: [oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := c.LoadFile(path); err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Fatalf("expected parse error naming the file, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"transport", func(c *Config) { c.Transport = "grpc" }},
		{"quality", func(c *Config) { c.TranscodeQuality = 0 }},
		{"format", func(c *Config) { c.TranscodeFormat = "gif" }},
		{"ttl", func(c *Config) { c.CacheTTL = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newConfig(t)
			tc.mod(c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSnapshotConfig(t *testing.T) {
	c := newConfig(t, "-camera-url", "http://cam", "-transcode", "-transcode-format", "PNG")
	sc := c.Snapshot()
	if sc.SnapshotURL != "http://cam" || !sc.Streaming || !sc.Transcode.Enabled || sc.Transcode.Format != "png" {
		t.Fatalf("unexpected snapshot config %+v", sc)
	}
	if sc.Limits.MaxBufferBytes != c.StreamMaxBuffer {
		t.Fatalf("limits not carried over")
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		name        string
		goos        string
		home        string
		programData string
		want        string
	}{
		{name: "linux", goos: "linux", home: "/home/user", want: "/etc/rovercam/rovercam.yaml"},
		{name: "darwin", goos: "darwin", home: "/Users/test", want: "/Users/test/Library/Application Support/rovercam/rovercam.yaml"},
		{name: "windows", goos: "windows", programData: "C:\\ProgramData\\", want: "C:/ProgramData/rovercam/rovercam.yaml"},
		{name: "windows default ProgramData", goos: "windows", want: "C:/ProgramData/rovercam/rovercam.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.ReplaceAll(ResolveConfigPath(tt.goos, tt.home, tt.programData, "rovercam.yaml"), "\\", "/")
			if got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	if got := FindConfigFile(dir); got != "" && !strings.HasPrefix(got, "/etc/") {
		t.Fatalf("unexpected file %q", got)
	}
	legacy := filepath.Join(dir, "mcp-x.config.json")
	if err := os.WriteFile(legacy, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(dir); got != legacy {
		t.Fatalf("got %q want %q", got, legacy)
	}
	primary := filepath.Join(dir, "rovercam.yaml")
	if err := os.WriteFile(primary, []byte("transport: http\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(dir); got != primary {
		t.Fatalf("got %q want %q", got, primary)
	}
}
