package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insurepredict_ingest_runs_total",
			Help: "CSV ingestions by final state",
		},
		[]string{"state"},
	)

	IngestRowsBuffered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insurepredict_ingest_rows_buffered_total",
			Help: "Rows accepted into preview buffers",
		},
	)

	IngestRowsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insurepredict_ingest_rows_dropped_total",
			Help: "Rows parsed past the preview cap and not buffered",
		},
	)

	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insurepredict_ingest_duration_seconds",
			Help:    "Wall time of a full CSV parse",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	PredictRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insurepredict_predict_requests_total",
			Help: "Prediction actions by predictor mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	PredictDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insurepredict_predict_duration_seconds",
			Help:    "Prediction action latency",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "insurepredict_active_sessions",
			Help: "Sessions currently held in memory",
		},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(IngestRuns)
		prometheus.MustRegister(IngestRowsBuffered)
		prometheus.MustRegister(IngestRowsDropped)
		prometheus.MustRegister(IngestDuration)
		prometheus.MustRegister(PredictRequests)
		prometheus.MustRegister(PredictDuration)
		prometheus.MustRegister(ActiveSessions)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
