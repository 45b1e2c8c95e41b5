// Package metrics wraps prometheus/client_golang counters, gauges, and a
// latency histogram for the sensor streaming substrate and the multi-GPU
// command plane. Metric names follow Prometheus's own _total/_bytes/_seconds
// suffix convention; the set of quantities tracked (frames, bytes, open
// sessions, drops, round-trip latency) mirrors the teacher's stats package
// naming convention (".n" counter, ".size" bytes, ".ns" latency) translated
// into this ecosystem's idiom rather than its StatsD-flavored names.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	labelSensorType = "sensor_type"
	labelCommand    = "command"
)

var (
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcore_frames_sent_total",
		Help: "Sensor frames fanned out to subscribers, by sensor type.",
	}, []string{labelSensorType})

	BytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcore_bytes_sent_total",
		Help: "Bytes fanned out to sensor stream subscribers, by sensor type.",
	}, []string{labelSensorType})

	SessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamcore_sessions_open",
		Help: "Currently open TCP sessions (sensor subscribers and secondaries combined).",
	})

	SecondariesConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamcore_secondaries_connected",
		Help: "Secondary render nodes currently connected to the primary.",
	})

	CommandRoundTrip = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamcore_command_round_trip_seconds",
		Help:    "Round-trip latency of a unicast multi-GPU command, by command.",
		Buckets: prometheus.DefBuckets,
	}, []string{labelCommand})

	CommandTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcore_command_timeouts_total",
		Help: "Unicast multi-GPU commands that got no reply before their deadline, by command.",
	}, []string{labelCommand})

	QueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamcore_queue_drops_total",
		Help: "Messages replaced in a lossy session's single-slot write queue before being sent.",
	})
)

// Handler returns the http.Handler to mount at /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// Serve starts a dedicated metrics HTTP server on addr; blocks until the
// server stops or errors, matching net/http.ListenAndServe's contract so
// callers run it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
