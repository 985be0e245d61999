// Package metrics provides Prometheus metrics for backup, restore and transfer operations.
package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics
var (
	// BackupCount tracks the total number of backup attempts
	BackupCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlkeeper_backup_total",
		Help: "The total number of backup attempts",
	}, []string{"server", "status"})

	// BackupDuration measures time taken by a backup pipeline run
	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gosqlkeeper_backup_duration_seconds",
		Help:    "Time taken to dump and store a backup",
		Buckets: prometheus.DefBuckets,
	}, []string{"server"})

	// BackupSize tracks size of the last artifact in bytes
	BackupSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gosqlkeeper_backup_size_bytes",
		Help: "Size of the last backup artifact in bytes",
	}, []string{"server", "storage"})

	// LastBackupTimestamp records timestamp of the last successful backup
	LastBackupTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gosqlkeeper_backup_last_timestamp",
		Help: "Timestamp of the last successful backup",
	}, []string{"server"})

	// RestoreCount tracks the total number of restore attempts
	RestoreCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlkeeper_restore_total",
		Help: "The total number of restore attempts",
	}, []string{"server", "status"})

	// TransferCount tracks uploads per destination kind
	TransferCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlkeeper_transfer_total",
		Help: "The total number of artifact transfers",
	}, []string{"storage", "status"})

	// TransferDuration measures time taken to move an artifact to its destination
	TransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gosqlkeeper_transfer_duration_seconds",
		Help:    "Time taken to transfer an artifact",
		Buckets: prometheus.DefBuckets,
	}, []string{"storage"})

	// RetentionDeletes counts history records pruned by retention
	RetentionDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlkeeper_retention_deletions_total",
		Help: "The total number of backups deleted by retention policy",
	}, []string{"server"})

	// DispatchSkipped counts dispatches dropped by the duplicate guard
	DispatchSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlkeeper_dispatch_skipped_total",
		Help: "Dispatches skipped because the job was already running or recently started",
	}, []string{"reason"})

	// SchedulerTicks counts scheduler ticks
	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gosqlkeeper_scheduler_ticks_total",
		Help: "The total number of scheduler ticks",
	})

	// SchedulerDueJobs is the size of the due set seen by the last tick
	SchedulerDueJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gosqlkeeper_scheduler_due_jobs",
		Help: "Number of jobs found due by the last scheduler tick",
	})
)

// Handler returns the metrics and health endpoints
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// NewServer builds the metrics HTTP server for port
func NewServer(port string) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// StartMetricsServer serves metrics until server is shut down
func StartMetricsServer(server *http.Server) {
	log.Printf("Starting metrics server on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("Metrics server failed: %v", err)
	}
}
