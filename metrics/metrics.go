package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type TranscoderMetrics struct {
	CreateTaskRequestCount       prometheus.Counter
	CreateTaskRequestDuration    *prometheus.SummaryVec
	AnalyzeDurationSec           *prometheus.HistogramVec
	TranscodeDurationSec         *prometheus.HistogramVec
	FramesProcessedCount         prometheus.Counter
	PredictorFallbackCount       prometheus.Counter
	TaskTerminalCount            *prometheus.CounterVec
	ObjectStoreRetryCount        prometheus.Counter
	ObjectStoreFailureCount      *prometheus.CounterVec
	EncoderSubprocessDurationSec prometheus.Histogram
}

func NewMetrics() *TranscoderMetrics {
	m := &TranscoderMetrics{
		CreateTaskRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "create_task_request_count",
			Help: "The total number of requests to POST /tasks",
		}),
		CreateTaskRequestDuration: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "create_task_request_duration_seconds",
			Help: "The latency of POST /tasks requests in seconds broken up by status code",
		}, []string{"status_code"}),
		AnalyzeDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analyze_duration_seconds",
			Help:    "Time taken by the feature-extraction stage, broken up by success",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"success"}),
		TranscodeDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcode_duration_seconds",
			Help:    "Time taken by the encode stage, broken up by success",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"success"}),
		FramesProcessedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "frames_processed_count",
			Help: "The total number of frames run through the feature DAG",
		}),
		PredictorFallbackCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "predictor_fallback_count",
			Help: "The number of tasks encoded with the safe fallback parameter",
		}),
		TaskTerminalCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "task_terminal_count",
			Help: "Tasks reaching a terminal status, broken up by status",
		}, []string{"status"}),
		ObjectStoreRetryCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "object_store_retry_count",
			Help: "The number of retried object store operations",
		}),
		ObjectStoreFailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "object_store_failure_count",
			Help: "The total number of failed object store operations, broken up by operation",
		}, []string{"operation"}),
		EncoderSubprocessDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "encoder_subprocess_duration_seconds",
			Help:    "Wall time of the encoder subprocess",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}

	return m
}

var Metrics = NewMetrics()
