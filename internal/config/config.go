// Package config loads rovercam settings from the environment, flags and an
// optional YAML (or JSON) file.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gaspardpetit/rovercam/internal/car"
	"github.com/gaspardpetit/rovercam/internal/mjpeg"
	"github.com/gaspardpetit/rovercam/internal/snapshot"
	"github.com/gaspardpetit/rovercam/internal/transcode"
)

// Transports accepted by the binary.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds every runtime setting.
type Config struct {
	ConfigFile  string `yaml:"-"`
	LogLevel    string `yaml:"logLevel"`
	Transport   string `yaml:"transport"`
	ListenAddr  string `yaml:"listenAddr"`
	MetricsAddr string `yaml:"metricsPort"`
	// AllowedOrigins enables CORS on the http transport when non-empty.
	AllowedOrigins []string `yaml:"allowedOrigins"`

	CameraSnapshotURL string        `yaml:"cameraSnapshotUrl"`
	CameraBasicAuth   string        `yaml:"cameraBasicAuth"`
	CacheTTL          time.Duration `yaml:"-"`
	Timeout           time.Duration `yaml:"-"`
	Stream            bool          `yaml:"cameraStream"`
	StreamMaxBuffer   int           `yaml:"cameraStreamMaxBufferBytes"`
	StreamMaxSearch   int           `yaml:"cameraStreamMaxSearchBytes"`

	Transcode         bool   `yaml:"cameraTranscode"`
	TranscodeMinBytes int    `yaml:"cameraTranscodeMinBytes"`
	TranscodeMaxWidth int    `yaml:"cameraTranscodeMaxWidth"`
	TranscodeQuality  int    `yaml:"cameraTranscodeQuality"`
	TranscodeFormat   string `yaml:"cameraTranscodeFormat"`

	RelayMaxFPS float64 `yaml:"relayMaxFps"`

	CarBaseURL string `yaml:"carBaseUrl"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *Config) BindFlags() {
	c.bind(flag.CommandLine)
}

func (c *Config) bind(fs *flag.FlagSet) {
	to := transcode.DefaultOptions()
	lim := mjpeg.DefaultLimits()

	c.ConfigFile = firstEnv("", "ROVERCAM_CONFIG", "MCP_X_CONFIG_PATH")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.Transport = getEnv("TRANSPORT", TransportStdio)
	c.ListenAddr = getEnv("LISTEN_ADDR", ":8080")
	mp := getEnv("METRICS_PORT", "")
	if mp != "" && !strings.Contains(mp, ":") {
		mp = ":" + mp
	}
	c.MetricsAddr = mp
	c.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", ""))

	c.CameraSnapshotURL = getEnv("CAMERA_SNAPSHOT_URL", "")
	c.CameraBasicAuth = getEnv("CAMERA_BASIC_AUTH", "")
	c.CacheTTL = envMillis("CAMERA_CACHE_TTL_MS", snapshot.DefaultCacheTTL)
	c.Timeout = envMillis("CAMERA_TIMEOUT_MS", snapshot.DefaultTimeout)
	c.Stream = envBool("CAMERA_STREAM", true)
	c.StreamMaxBuffer = envInt("CAMERA_STREAM_MAX_BUFFER_BYTES", lim.MaxBufferBytes)
	c.StreamMaxSearch = envInt("CAMERA_STREAM_MAX_SEARCH_BYTES", lim.MaxSearchBytes)

	c.Transcode = envBool("CAMERA_TRANSCODE", false)
	c.TranscodeMinBytes = envInt("CAMERA_TRANSCODE_MIN_BYTES", to.MinBytes)
	c.TranscodeMaxWidth = envInt("CAMERA_TRANSCODE_MAX_WIDTH", to.MaxWidth)
	c.TranscodeQuality = envInt("CAMERA_TRANSCODE_QUALITY", to.Quality)
	c.TranscodeFormat = getEnv("CAMERA_TRANSCODE_FORMAT", to.Format)

	c.RelayMaxFPS = 10
	if v := envInt("RELAY_MAX_FPS", 0); v > 0 {
		c.RelayMaxFPS = float64(v)
	}

	c.CarBaseURL = getEnv("CAR_BASE_URL", car.DefaultBaseURL)

	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "config file path (YAML or JSON); looks for ./rovercam.yaml and ./mcp-x.config.json when empty")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.StringVar(&c.Transport, "transport", c.Transport, "MCP transport: stdio or http")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "HTTP listen address for the http transport")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port (disabled when empty; e.g. 127.0.0.1:9090 or 9090)")
	fs.Func("allowed-origins", "comma separated CORS origins for the http transport", func(v string) error {
		c.AllowedOrigins = splitList(v)
		return nil
	})
	fs.StringVar(&c.CameraSnapshotURL, "camera-url", c.CameraSnapshotURL, "camera snapshot or MJPEG stream URL")
	fs.StringVar(&c.CameraBasicAuth, "camera-auth", c.CameraBasicAuth, "camera basic auth credential (user:password or base64 token)")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", c.CacheTTL, "snapshot cache lifetime; 0 disables caching")
	fs.DurationVar(&c.Timeout, "camera-timeout", c.Timeout, "default snapshot request timeout")
	fs.BoolVar(&c.Stream, "stream", c.Stream, "keep MJPEG sources streaming in the background")
	fs.IntVar(&c.StreamMaxBuffer, "stream-max-buffer", c.StreamMaxBuffer, "MJPEG parse buffer ceiling in bytes")
	fs.IntVar(&c.StreamMaxSearch, "stream-max-search", c.StreamMaxSearch, "bytes scanned without a frame before giving up")
	fs.BoolVar(&c.Transcode, "transcode", c.Transcode, "recompress large snapshots")
	fs.IntVar(&c.TranscodeMinBytes, "transcode-min-bytes", c.TranscodeMinBytes, "only recompress images at least this large")
	fs.IntVar(&c.TranscodeMaxWidth, "transcode-max-width", c.TranscodeMaxWidth, "downscale wider images to this width")
	fs.IntVar(&c.TranscodeQuality, "transcode-quality", c.TranscodeQuality, "JPEG quality (1-100)")
	fs.StringVar(&c.TranscodeFormat, "transcode-format", c.TranscodeFormat, "recompressed format: jpeg or png")
	fs.Float64Var(&c.RelayMaxFPS, "relay-max-fps", c.RelayMaxFPS, "frame rate cap per live viewer")
	fs.StringVar(&c.CarBaseURL, "car-url", c.CarBaseURL, "rover controller base URL")
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fileMillis holds the file's durations, given in milliseconds like the
// CAMERA_*_MS variables.
type fileMillis struct {
	CacheTTL *int64 `yaml:"cameraCacheTtlMs"`
	Timeout  *int64 `yaml:"cameraTimeoutMs"`
}

// LoadFile populates the config from a YAML file. Fields already set remain unless
// overwritten by corresponding entries in the file.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var ms fileMillis
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if ms.CacheTTL != nil {
		c.CacheTTL = time.Duration(*ms.CacheTTL) * time.Millisecond
	}
	if ms.Timeout != nil {
		c.Timeout = time.Duration(*ms.Timeout) * time.Millisecond
	}
	return nil
}

// Validate reports settings the binary cannot run with.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportStdio, TransportHTTP)
	}
	if c.TranscodeQuality < 1 || c.TranscodeQuality > 100 {
		return fmt.Errorf("transcode quality %d out of range 1-100", c.TranscodeQuality)
	}
	switch strings.ToLower(c.TranscodeFormat) {
	case "jpeg", "jpg", "png":
	default:
		return fmt.Errorf("unsupported transcode format %q", c.TranscodeFormat)
	}
	if c.CacheTTL < 0 || c.Timeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// TranscodeOptions returns the recompression settings.
func (c *Config) TranscodeOptions() transcode.Options {
	return transcode.Options{
		Enabled:  c.Transcode,
		MinBytes: c.TranscodeMinBytes,
		MaxWidth: c.TranscodeMaxWidth,
		Quality:  c.TranscodeQuality,
		Format:   strings.ToLower(c.TranscodeFormat),
	}
}

// Snapshot returns the orchestrator settings.
func (c *Config) Snapshot() snapshot.Config {
	return snapshot.Config{
		SnapshotURL: c.CameraSnapshotURL,
		BasicAuth:   c.CameraBasicAuth,
		CacheTTL:    c.CacheTTL,
		Timeout:     c.Timeout,
		Streaming:   c.Stream,
		Transcode:   c.TranscodeOptions(),
		Limits: mjpeg.Limits{
			MaxBufferBytes: c.StreamMaxBuffer,
			MaxSearchBytes: c.StreamMaxSearch,
		},
	}
}
