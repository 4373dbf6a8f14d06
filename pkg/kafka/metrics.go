package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Producer metrics, all labelled by topic.
var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka",
		Subsystem: "producer",
		Name:      "messages_published_total",
		Help:      "Messages written to Kafka.",
	}, []string{"topic"})

	publishErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka",
		Subsystem: "producer",
		Name:      "publish_errors_total",
		Help:      "Failed Kafka writes.",
	}, []string{"topic"})

	publishSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kafka",
		Subsystem: "producer",
		Name:      "publish_duration_seconds",
		Help:      "Latency of Kafka writes, including failures.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})
)
