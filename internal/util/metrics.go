package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AccountsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_accounts_created_total",
		Help: "Total number of account rows created",
	}, []string{"source"})

	AccountsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_accounts_deleted_total",
		Help: "Total number of account rows deleted",
	})

	AccountsReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_accounts_reserved_total",
		Help: "Total number of accounts moved to reserved",
	})

	AccountsReleasedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_accounts_released_total",
		Help: "Total number of reserved accounts returned to available",
	}, []string{"reason"})

	AccountsSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_accounts_sold_total",
		Help: "Total number of accounts sold",
	})

	InventoryOperationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_operations_failed_total",
		Help: "Total number of failed inventory operations",
	}, []string{"operation", "kind"})

	InventoryOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_operation_latency_seconds",
		Help:    "Latency of inventory operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	ImportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_import_rows_total",
		Help: "Total number of CSV rows processed by bulk import",
	}, []string{"result"})

	StockCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_stock_cache_requests_total",
		Help: "Stock cache lookups by result",
	}, []string{"result"})

	StockDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_stock_drift_total",
		Help: "Absolute stock drift corrected by reconciliation",
	})

	ConsumerRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_consumer_retries_total",
		Help: "Total number of checkout message handling retries",
	})

	ConsumerMessagesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_consumer_messages_skipped_total",
		Help: "Total number of malformed checkout messages committed without handling",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
