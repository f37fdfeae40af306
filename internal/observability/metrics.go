// Package observability groups the Prometheus instruments for the narration
// service.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ToursBuilt      prometheus.Counter
	TracksStarted   prometheus.Counter
	TracksCompleted prometheus.Counter
	TrackErrors     *prometheus.CounterVec
	LivenessStalls  prometheus.Counter
	PlayerState     prometheus.Gauge
	QueueLength     prometheus.Gauge
	NarrationTime   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ToursBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tours_built_total",
			Help:      "Tours built from a position fix.",
		}),
		TracksStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_started_total",
			Help:      "Narration tracks started.",
		}),
		TracksCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_completed_total",
			Help:      "Narration tracks that finished speaking.",
		}),
		TrackErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "track_errors_total",
			Help:      "Track failures by reason.",
		}, []string{"reason"}),
		LivenessStalls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_stalls_total",
			Help:      "Narrations declared stuck by the liveness monitor.",
		}),
		PlayerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "player_state",
			Help:      "Current transport state (0=idle 1=loading 2=speaking 3=advancing 4=stopped).",
		}),
		QueueLength: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Number of tracks in the current tour queue.",
		}),
		NarrationTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "narration_seconds",
			Help:      "Wall-clock narration time per track in seconds.",
			Buckets:   []float64{5, 15, 30, 60, 120, 240, 480},
		}),
	}
}

func (m *Metrics) ObserveNarration(d time.Duration) {
	m.NarrationTime.Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
