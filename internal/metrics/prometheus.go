package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollwin_stage_duration_seconds",
			Help:    "Per-window stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage"},
	)

	WindowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollwin_windows_total",
			Help: "Windows processed by outcome",
		},
		[]string{"status"},
	)

	RetryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollwin_retry_attempts_total",
			Help: "Window retries by cause",
		},
		[]string{"cause"},
	)

	AlgorithmFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollwin_algorithm_failures_total",
			Help: "Optional algorithms that failed and were left out of a window",
		},
		[]string{"algorithm"},
	)

	SubgraphNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollwin_subgraph_nodes",
			Help: "Node count of the last filtered subgraph",
		},
		[]string{"pass"},
	)

	PrunedNodes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rollwin_pruned_nodes",
			Help:    "Isolated nodes removed by the degree pass per window",
			Buckets: []float64{0, 10, 100, 1000, 10000, 100000},
		},
	)

	IDCoverage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollwin_id_coverage_ratio",
			Help: "Fraction of subgraph nodes resolved to persistent ids in the last window",
		},
	)

	BaseGraphBuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollwin_base_graph_ensures_total",
			Help: "Base graph checks at run start",
		},
	)

	LinkPredictionAUC = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollwin_link_prediction_auc",
			Help: "Held-out ROC-AUC of the selected variant in the last window",
		},
		[]string{"variant"},
	)

	PredictedEdges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollwin_predicted_edges_total",
			Help: "Inferred kinship edges emitted",
		},
	)

	FilesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollwin_files_written_total",
			Help: "Parquet files written by kind",
		},
		[]string{"kind"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(WindowsTotal)
		prometheus.MustRegister(RetryAttempts)
		prometheus.MustRegister(AlgorithmFailures)
		prometheus.MustRegister(SubgraphNodes)
		prometheus.MustRegister(PrunedNodes)
		prometheus.MustRegister(IDCoverage)
		prometheus.MustRegister(BaseGraphBuilds)
		prometheus.MustRegister(LinkPredictionAUC)
		prometheus.MustRegister(PredictedEdges)
		prometheus.MustRegister(FilesWritten)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
