package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "maju_recorder"

// Request outcomes used as label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics contains all Prometheus metrics for the recording pipeline
type Metrics struct {
	// Recording metrics
	RecordingsStarted   prometheus.Counter
	RecordingsCompleted prometheus.Counter
	RecordingsFailed    *prometheus.CounterVec
	FramesCaptured      prometheus.Counter
	FramesDropped       prometheus.Counter
	WAVBytes            prometheus.Histogram

	// Backend request metrics
	BackendRequests        *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec

	// Signaling metrics
	SignalingConnections   *prometheus.CounterVec
	SignalingFramesSent    *prometheus.CounterVec
	SignalingFramesRecv    *prometheus.CounterVec
	SignalingMalformed     prometheus.Counter
	SignalingAbnormalClose prometheus.Counter

	// Development backend metrics
	UploadsStored   prometheus.Counter
	AnswersScored   *prometheus.CounterVec
	SimilarityScore prometheus.Histogram
}

// New creates all metrics and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		RecordingsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_started_total",
			Help:      "Total number of recordings started",
		}),
		RecordingsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_completed_total",
			Help:      "Total number of recordings scored successfully",
		}),
		RecordingsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_failed_total",
			Help:      "Total number of recordings that failed, by stage",
		}, []string{"stage"}),
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Total number of audio frames delivered by the capture stage",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of audio frames dropped because the consumer was behind",
		}),
		WAVBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wav_bytes",
			Help:      "Size of encoded WAV artifacts",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),

		BackendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of backend requests by operation and outcome",
		}, []string{"operation", "outcome"}),
		BackendRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Backend request latency by operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		SignalingConnections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_connections_total",
			Help:      "Total number of signaling connection attempts by outcome",
		}, []string{"outcome"}),
		SignalingFramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_frames_sent_total",
			Help:      "Total number of outbound signaling frames by type",
		}, []string{"type"}),
		SignalingFramesRecv: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_frames_received_total",
			Help:      "Total number of inbound signaling frames by type",
		}, []string{"type"}),
		SignalingMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_malformed_frames_total",
			Help:      "Total number of inbound frames that could not be parsed",
		}),
		SignalingAbnormalClose: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_abnormal_closes_total",
			Help:      "Total number of signaling channels closed with code 1006",
		}),

		UploadsStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devserver_uploads_stored_total",
			Help:      "Total number of objects accepted through presigned uploads",
		}),
		AnswersScored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devserver_answers_scored_total",
			Help:      "Total number of scored answers by correctness",
		}, []string{"correct"}),
		SimilarityScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "devserver_similarity_score",
			Help:      "Distribution of answer similarity scores",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}

// Discard returns metrics bound to a private registry that is never exposed.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveRequest records one backend call.
func (m *Metrics) ObserveRequest(operation string, started time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.BackendRequests.WithLabelValues(operation, outcome).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
