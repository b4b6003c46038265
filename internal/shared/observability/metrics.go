package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ManifestsParsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nsmigrate_manifests_parsed_total",
		Help: "Total number of build manifests parsed, by format and outcome.",
	}, []string{"format", "outcome"})

	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nsmigrate_graph_nodes_total",
		Help: "Number of nodes in the most recently built dependency graph.",
	})

	GraphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nsmigrate_graph_edges_total",
		Help: "Number of edges in the most recently built dependency graph.",
	})

	ArtifactsClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nsmigrate_artifacts_classified_total",
		Help: "Total number of artifacts classified, by namespace state.",
	}, []string{"state"})

	BlockersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nsmigrate_blockers_total",
		Help: "Total number of blockers detected, by kind.",
	}, []string{"kind"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nsmigrate_scan_file_seconds",
		Help:    "Time spent scanning a single file for legacy namespace usage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nsmigrate_operation_seconds",
		Help:    "Time spent on high-level engine operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	FilesTransformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nsmigrate_files_transformed_total",
		Help: "Total number of per-file transformations, by phase and result.",
	}, []string{"phase", "result"})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nsmigrate_phase_seconds",
		Help:    "Wall-clock time to execute one migration phase.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	RollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nsmigrate_rollbacks_total",
		Help: "Total number of rollbacks performed.",
	})

	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nsmigrate_verifications_total",
		Help: "Total number of runtime verification runs, by terminal status.",
	}, []string{"status"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nsmigrate_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})
)
