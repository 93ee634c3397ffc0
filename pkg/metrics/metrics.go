package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntitiesProcessed tracks the per-entity throughput of the engine
	// Labels allow filtering by outcome (success/failed/conflict), system and entity type
	EntitiesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncbridge_entities_processed_total",
		Help: "Total number of entities processed by the sync engine",
	}, []string{"status", "system", "entity_type"})

	// EntityDuration measures the end-to-end latency of a single entity sync,
	// adapter round-trip included
	EntityDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncbridge_entity_duration_seconds",
		Help:    "Duration of a single entity synchronization in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"direction"}) // direction: pull, push

	// BatchDuration measures how long a full batch cycle takes
	// Use this to identify degradation in external APIs or the mapping store
	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "syncbridge_batch_duration_seconds",
		Help:    "Duration of batch sync cycles in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BatchSize tracks how many entities each batch cycle actually pulled
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "syncbridge_batch_size",
		Help:    "Number of entities processed per batch cycle",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	})

	// AdapterHealthy provides a binary 0/1 signal per external system
	AdapterHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "syncbridge_adapter_healthy",
		Help: "Current health of each registered adapter (1 healthy, 0 unhealthy)",
	}, []string{"system"})

	// ConflictBacklog tracks mappings currently flagged with a conflict.
	// If this number grows, manual reconciliation is required.
	ConflictBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncbridge_conflict_backlog",
		Help: "Current number of mappings with an unresolved conflict",
	})

	// PendingPush tracks internal entities still waiting for their first
	// push to an external system
	PendingPush = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "syncbridge_pending_push",
		Help: "Current number of active mappings without an external id",
	})

	// BrokerReconnections counts how many times the outcome publisher had
	// to restore its RabbitMQ link
	BrokerReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncbridge_broker_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts by the outcome publisher",
	})
)
