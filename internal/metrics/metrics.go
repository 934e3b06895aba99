package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "product_lens"

type Metrics struct {
	FramesSent         prometheus.Counter
	FramesSkipped      prometheus.Counter
	FrameErrors        prometheus.Counter
	MessagesDropped    prometheus.Counter
	PredictionsApplied prometheus.Counter
	PredictionsStale   prometheus.Counter
	ReconnectAttempts  prometheus.Counter
	StreamsLost        prometheus.Counter
	ConnectionState    prometheus.Gauge
	StillRequests      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "frames_sent_total",
			Help: "Frames written to the live prediction socket.",
		}),
		FramesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "frames_skipped_total",
			Help: "Capture ticks skipped because a send was still in flight or the socket was not connected.",
		}),
		FrameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "frame_errors_total",
			Help: "Frames that failed to capture or send.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "messages_dropped_total",
			Help: "Inbound messages that could not be decoded.",
		}),
		PredictionsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "results", Name: "applied_total",
			Help: "Prediction sets accepted by the result cache.",
		}),
		PredictionsStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "results", Name: "stale_total",
			Help: "Prediction sets dropped for carrying an older sequence.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "reconnect_attempts_total",
			Help: "Reconnect attempts made after the socket dropped.",
		}),
		StreamsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "lost_total",
			Help: "Streams that exhausted their reconnect budget.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stream", Name: "connection_state",
			Help: "0 disconnected, 1 connecting, 2 connected, 3 closing.",
		}),
		StillRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "still", Name: "requests_total",
			Help: "Synchronous predict and save calls by outcome.",
		}, []string{"op", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesSent,
			m.FramesSkipped,
			m.FrameErrors,
			m.MessagesDropped,
			m.PredictionsApplied,
			m.PredictionsStale,
			m.ReconnectAttempts,
			m.StreamsLost,
			m.ConnectionState,
			m.StillRequests,
		)
	}

	return m
}

func (m *Metrics) ObserveStill(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StillRequests.WithLabelValues(op, outcome).Inc()
}
