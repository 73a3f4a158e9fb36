package models

import "time"

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

type Run struct {
	ID         string
	ParamsHash string
	Params     string
	Status     RunStatus
	Windows    int
	Exported   int
	Skipped    int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ManifestEntry describes the files written for one window. It is stored in
// SQLite and mirrored to the manifest Parquet file.
type ManifestEntry struct {
	RunID            string `parquet:"run_id"`
	ParamsHash       string `parquet:"params_hash"`
	Window           string `parquet:"window_graph_name"`
	StartYear        int32  `parquet:"window_start_year"`
	EndYearInclusive int32  `parquet:"window_end_year_inclusive"`
	StartMs          int64  `parquet:"window_start_ms"`
	EndMs            int64  `parquet:"window_end_ms"`
	NodeFile         string `parquet:"node_file"`
	EdgeFile         string `parquet:"edge_file,optional"`
	PredictedFile    string `parquet:"predicted_file,optional"`
	Nodes            int64  `parquet:"node_count"`
	Edges            int64  `parquet:"edge_count"`
	PrunedNodes      int64  `parquet:"pruned_nodes"`
	Properties       string `parquet:"properties"`
	FCRIncluded      bool   `parquet:"fcr_included"`
	LinkPrediction   string `parquet:"lp_state,optional"`
	CreatedAtMs      int64  `parquet:"created_at_ms"`
}

// VariantRecord is one link prediction variant's outcome in a window.
type VariantRecord struct {
	RunID      string
	ParamsHash string
	Window     string
	Variant    string
	Selected   bool
	Skipped    string
	AUC        float64
	Threshold  float64
	Recall     float64
	Precision  float64
	FBeta      float64
	C          float64
	TrainSize  int
	TestSize   int
	CreatedAt  time.Time
}
