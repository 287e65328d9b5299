// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_active_rooms",
		Help: "Number of live rooms.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_connected_clients",
		Help: "Number of connected WebSocket clients.",
	})

	OperationsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_operations_applied_total",
		Help: "Operations applied to documents.",
	})

	OperationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_operation_errors_total",
		Help: "Client operations rejected.",
	})

	DocumentSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_document_saves_total",
		Help: "Document snapshots persisted.",
	})

	DocumentSaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collab_document_save_failures_total",
		Help: "Document snapshot writes that failed.",
	})
)
