// Package metrics provides Prometheus metrics for the Thistle engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchRecordsTotal tracks ingested records by outcome (canonical, duplicate, exact_duplicate, rejected)
	BatchRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of ingested records by outcome",
		},
		[]string{"outcome"},
	)

	// BatchDuration tracks ingestion batch duration in seconds
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "thistle",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Duration of ingestion batches in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// GroupingComparisons tracks pairwise similarity comparisons
	GroupingComparisons = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "grouping",
			Name:      "comparisons_total",
			Help:      "Total number of pairwise similarity comparisons",
		},
	)

	// GroupingGroupsTotal tracks duplicate groups with more than one member
	GroupingGroupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "grouping",
			Name:      "groups_total",
			Help:      "Total number of duplicate groups with more than one member",
		},
	)

	// GroupingMergeSize tracks the size of components produced when a link joins two existing groups
	GroupingMergeSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "thistle",
			Subsystem: "grouping",
			Name:      "merge_size",
			Help:      "Size of duplicate groups produced by joining two multi-member groups",
			Buckets:   []float64{4, 6, 8, 12, 16, 32, 64, 128},
		},
	)

	// RateLimitWaitTime tracks time spent waiting for rate limits
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "thistle",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for rate limits in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"limiter"},
	)

	// SuppressionChecks tracks suppression lookups by result
	SuppressionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "suppression",
			Name:      "checks_total",
			Help:      "Total number of suppression checks by result",
		},
		[]string{"result"},
	)

	// AlertsDelivered tracks ranked matches delivered to subscribers
	AlertsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "alerts",
			Name:      "delivered_total",
			Help:      "Total number of matches delivered, by outcome",
		},
		[]string{"outcome"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thistle",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordIngestOutcome counts one ingested record
func RecordIngestOutcome(outcome string) {
	BatchRecordsTotal.WithLabelValues(outcome).Inc()
}

// RecordMerge records a forced merge of two groups into one of the given size
func RecordMerge(size int) {
	GroupingMergeSize.Observe(float64(size))
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, count int) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Add(float64(count))
}
