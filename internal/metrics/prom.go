package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var streamStates = []string{"idle", "connecting", "streaming", "failed", "stopped"}

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rovercam_build_info",
			Help: "Build information",
		},
		[]string{"date", "sha", "version"},
	)

	snapshotRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rovercam_snapshot_requests_total",
			Help: "Number of snapshot requests by origin and outcome",
		},
		[]string{"origin", "outcome"},
	)

	snapshotDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rovercam_snapshot_duration_seconds",
			Help:    "Snapshot request latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"origin"},
	)

	streamFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovercam_stream_frames_total",
			Help: "Frames extracted from the background camera stream",
		},
	)

	streamBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovercam_stream_frame_bytes_total",
			Help: "Bytes of frames extracted from the background camera stream",
		},
	)

	streamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovercam_stream_reconnects_total",
			Help: "Background stream reconnect attempts",
		},
	)

	streamState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rovercam_stream_state",
			Help: "Current background stream state (1 for the active state)",
		},
		[]string{"state"},
	)

	transcodeSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rovercam_transcode_saved_bytes_total",
			Help: "Bytes saved by recompressing snapshots",
		},
	)

	carCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rovercam_car_commands_total",
			Help: "Vehicle commands sent by outcome",
		},
		[]string{"outcome"},
	)

	relayViewers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rovercam_relay_viewers",
			Help: "Clients currently attached to the live frame relay",
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, snapshotRequests, snapshotDuration, streamFrames, streamBytes, streamReconnects, streamState, transcodeSaved, carCommands, relayViewers)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// RecordSnapshot counts a finished snapshot request and its latency.
func RecordSnapshot(origin string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	snapshotRequests.WithLabelValues(origin, outcome).Inc()
	if success {
		snapshotDuration.WithLabelValues(origin).Observe(d.Seconds())
	}
}

// RecordStreamFrame counts a frame published by the background stream.
func RecordStreamFrame(size int) {
	streamFrames.Inc()
	streamBytes.Add(float64(size))
}

// RecordStreamReconnect counts a reconnect attempt.
func RecordStreamReconnect() {
	streamReconnects.Inc()
}

// SetStreamState marks state as the active stream state.
func SetStreamState(state string) {
	for _, s := range streamStates {
		v := 0.0
		if s == state {
			v = 1
		}
		streamState.WithLabelValues(s).Set(v)
	}
}

// RecordTranscodeSavings adds the difference between input and output sizes.
func RecordTranscodeSavings(before, after int) {
	if after < before {
		transcodeSaved.Add(float64(before - after))
	}
}

// RecordCarCommand counts a vehicle command.
func RecordCarCommand(success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	carCommands.WithLabelValues(outcome).Inc()
}

// RelayViewerJoined counts a newly attached live viewer.
func RelayViewerJoined() { relayViewers.Inc() }

// RelayViewerLeft counts a live viewer going away.
func RelayViewerLeft() { relayViewers.Dec() }
