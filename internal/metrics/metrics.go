package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcileRunsTotal counts reconciliation passes by kind and result.
	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cxdir_reconcile_runs_total",
		Help: "Total number of reconciliation passes",
	}, []string{"kind", "result"})

	// ReconcileDuration observes pass latency by kind.
	ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cxdir_reconcile_duration_seconds",
		Help:    "Reconciliation pass duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// ReconcileLastSuccess records the unix time of the last successful pass.
	ReconcileLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cxdir_reconcile_last_success_timestamp_seconds",
		Help: "Unix time of the last successful reconciliation pass",
	}, []string{"kind"})

	// RemoteRequestsTotal counts concrexit API requests by endpoint and status.
	RemoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cxdir_remote_requests_total",
		Help: "Total number of concrexit API requests",
	}, []string{"endpoint", "status"})

	// HostUpdatesTotal counts identity host attribute pushes.
	HostUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cxdir_host_updates_total",
		Help: "Total number of identity host user updates",
	}, []string{"field", "result"})

	// ManualMembershipChangesTotal counts administrative add/remove operations.
	ManualMembershipChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cxdir_manual_membership_changes_total",
		Help: "Total number of manual membership changes",
	}, []string{"operation"})

	// CacheRows is a gauge of cached rows per table.
	CacheRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cxdir_cache_rows",
		Help: "Number of rows in the directory cache",
	}, []string{"table"})

	// DashboardClients is a gauge of connected websocket clients.
	DashboardClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cxdir_dashboard_clients",
		Help: "Number of connected dashboard clients",
	})
)
