package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gaspardpetit/rovercam/internal/car"
	"github.com/gaspardpetit/rovercam/internal/config"
	"github.com/gaspardpetit/rovercam/internal/logx"
	"github.com/gaspardpetit/rovercam/internal/mcpserver"
	"github.com/gaspardpetit/rovercam/internal/metrics"
	"github.com/gaspardpetit/rovercam/internal/relay"
	"github.com/gaspardpetit/rovercam/internal/secret"
	"github.com/gaspardpetit/rovercam/internal/serve"
	"github.com/gaspardpetit/rovercam/internal/server"
	"github.com/gaspardpetit/rovercam/internal/serverstate"
	"github.com/gaspardpetit/rovercam/internal/snapshot"
	"github.com/gaspardpetit/rovercam/internal/tools"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.Config
	cfg.BindFlags()
	flag.Parse()
	if *showVersion {
		fmt.Printf("rovercam version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	if cfg.ConfigFile == "" {
		cfg.ConfigFile = config.FindConfigFile(".")
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logx.Log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, cfg, nil); err != nil {
		logx.Log.Fatal().Err(err).Msg("rovercam stopped")
	}
}

// run serves until ctx is done. listening, when set, receives the http
// transport's bound address.
func run(ctx context.Context, cfg config.Config, listening func(addr string)) error {
	preg := prometheus.NewRegistry()
	preg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prometheus.DefaultRegisterer = preg
	prometheus.DefaultGatherer = preg
	metrics.Register(preg)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	cam := snapshot.New(cfg.Snapshot())
	defer cam.Close()
	rover := car.New(cfg.CarBaseURL, nil)
	mcpSrv := tools.NewServer(version, cam, rover)

	logx.Log.Info().
		Str("version", version).
		Str("transport", cfg.Transport).
		Str("camera", secret.MaskURL(cfg.CameraSnapshotURL)).
		Str("camera_auth", secret.MaskCredential(cfg.CameraBasicAuth)).
		Bool("stream", cfg.Stream).
		Bool("transcode", cfg.Transcode).
		Dur("cache_ttl", cfg.CacheTTL).
		Str("car", cfg.CarBaseURL).
		Msg("rovercam starting")

	if cfg.ConfigFile != "" {
		go watchReload(ctx, cfg, cam, rover)
	}

	metricsOnRouter := cfg.Transport == config.TransportHTTP && (cfg.MetricsAddr == "" || cfg.MetricsAddr == cfg.ListenAddr)
	if cfg.MetricsAddr != "" && !metricsOnRouter {
		addr, err := serve.StartMetricsServer(ctx, cfg.MetricsAddr, preg)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		logx.Log.Info().Str("addr", addr).Msg("metrics server started")
	}

	switch cfg.Transport {
	case config.TransportHTTP:
		handler := server.New(server.Options{
			MCP:            mcpserver.NewHandler(mcpSrv),
			Camera:         cam,
			Live:           relay.New(cam, cfg.RelayMaxFPS),
			Streams:        cam,
			Version:        version,
			AllowedOrigins: cfg.AllowedOrigins,
			ServeMetrics:   metricsOnRouter,
		})
		addr, done, err := serve.UntilContext(ctx, cfg.ListenAddr, handler)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		serverstate.SetState(serverstate.Ready)
		logx.Log.Info().Str("addr", addr).Msg("rovercam MCP server listening on http")
		if listening != nil {
			listening(addr)
		}
		<-ctx.Done()
		serverstate.StartDrain()
		// Live viewers block on the stream; stopping it lets shutdown finish.
		cam.Close()
		<-done
		return nil
	default:
		serverstate.SetState(serverstate.Ready)
		logx.Log.Info().Msg("rovercam MCP server running on stdio")
		err := mcpserver.ServeStdio(ctx, mcpSrv)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
}

// watchReload re-applies the config file on SIGHUP until ctx is done.
func watchReload(ctx context.Context, cfg config.Config, cam *snapshot.Orchestrator, rover *car.Controller) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reload(cfg, cam, rover); err != nil {
				logx.Log.Error().Err(err).Str("path", cfg.ConfigFile).Msg("config reload failed")
			}
		}
	}
}

// reload reads base.ConfigFile over the startup settings and applies the
// camera and vehicle targets. Nothing changes when the file is invalid.
func reload(base config.Config, cam *snapshot.Orchestrator, rover *car.Controller) error {
	cfg := base
	if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cam.SetSnapshotURL(cfg.CameraSnapshotURL)
	cam.SetTranscodeOptions(cfg.TranscodeOptions())
	cam.SetStreaming(cfg.Stream)
	rover.SetBaseURL(cfg.CarBaseURL)
	logx.Log.Info().
		Str("camera", secret.MaskURL(cfg.CameraSnapshotURL)).
		Bool("stream", cfg.Stream).
		Bool("transcode", cfg.Transcode).
		Str("car", cfg.CarBaseURL).
		Msg("config reloaded")
	return nil
}
