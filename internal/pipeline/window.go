package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/algorithms"
	"github.com/ownership-graph/rollwin/internal/export"
	"github.com/ownership-graph/rollwin/internal/fcr"
	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/idmap"
	"github.com/ownership-graph/rollwin/internal/linkpred"
	"github.com/ownership-graph/rollwin/internal/metrics"
	"github.com/ownership-graph/rollwin/internal/storage/models"
	"github.com/ownership-graph/rollwin/internal/window"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

// windowResult is everything a successful attempt produced. Nothing is
// written until an attempt has completed.
type windowResult struct {
	window   window.Window
	pruned   int64
	produced algorithms.Produced
	rows     []idmap.Row
	edges    []idmap.Edge
	extra    map[string]map[gds.PersistentID]float64
	outcome  *linkpred.Outcome
}

func observe(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (p *Pipeline) process(ctx context.Context, w window.Window) (*windowResult, error) {
	start := time.Now()
	scope, err := p.filter.Apply(ctx, w)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := scope.Close(ctx); err != nil {
			logger.Warn("Failed to drop window subgraphs", zap.String("window", w.GraphName), zap.Error(err))
		}
	}()
	observe("filter", start)
	metrics.SubgraphNodes.WithLabelValues("pass1").Set(float64(scope.Stats.Pass1Nodes))
	metrics.SubgraphNodes.WithLabelValues("pass2").Set(float64(scope.Stats.Pass2Nodes))
	metrics.PrunedNodes.Observe(float64(scope.Stats.PrunedNodes()))

	res := &windowResult{
		window: w,
		pruned: scope.Stats.PrunedNodes(),
		extra:  make(map[string]map[gds.PersistentID]float64),
	}

	start = time.Now()
	res.produced, err = p.runner.Run(ctx, scope.Graph)
	if err != nil {
		return nil, err
	}
	observe("algorithms", start)

	start = time.Now()
	props := append([]string{gds.PropIsPrimary}, res.produced.Names()...)
	records, err := idmap.Stream(ctx, p.deps.Backend, scope.Graph, props)
	if err != nil {
		return nil, fmt.Errorf("failed to stream node properties: %w", err)
	}
	arena, err := idmap.Build(records)
	if err != nil {
		return nil, err
	}
	res.rows, err = arena.Join(records)
	if err != nil {
		return nil, err
	}
	if scope.Stats.Pass2Nodes > 0 {
		metrics.IDCoverage.Set(float64(arena.Len()) / float64(scope.Stats.Pass2Nodes))
	}

	if p.cfg.Export.ExportEdges {
		rels, err := p.deps.Backend.StreamRelationships(ctx, scope.Graph, p.cfg.Graph.RelTypes)
		if err != nil {
			return nil, fmt.Errorf("failed to stream relationships: %w", err)
		}
		res.edges, err = arena.JoinRelationships(scope.Graph, rels)
		if err != nil {
			return nil, err
		}
	}
	observe("stream", start)

	if p.cfg.FCR.Enabled {
		if !res.produced.Has(algorithms.Louvain) {
			logger.Warn("Louvain communities missing, FCR column omitted", zap.String("window", w.GraphName))
		} else {
			start = time.Now()
			values, err := p.fcr.Compute(ctx, w, fcr.Primaries(res.rows), fcr.Communities(res.rows, algorithms.Louvain))
			if err != nil {
				return nil, err
			}
			res.extra[p.fcr.Column()] = values
			observe("fcr", start)
		}
	}

	if p.predictor != nil {
		start = time.Now()
		res.outcome, err = p.predictor.Run(ctx, w, res.rows, res.produced)
		if err != nil {
			return nil, err
		}
		observe("link_prediction", start)
	}

	return res, nil
}

// persist writes the window's files and then its manifest entry, so an
// entry only ever points at complete files.
func (p *Pipeline) persist(ctx context.Context, runID string, res *windowResult) error {
	w := res.window
	start := time.Now()

	nodes, err := p.writer.WriteNodes(w, res.rows, res.produced, res.extra)
	if err != nil {
		return err
	}
	metrics.FilesWritten.WithLabelValues("nodes").Inc()

	properties := res.produced.Names()
	if p.fcrIncluded(res) {
		properties = append(properties, p.fcr.Column())
	}
	entry := &models.ManifestEntry{
		RunID:            runID,
		ParamsHash:       p.paramsHash,
		Window:           w.GraphName,
		StartYear:        int32(w.StartYear),
		EndYearInclusive: int32(w.EndYearInclusive),
		StartMs:          w.StartMs,
		EndMs:            w.EndMs,
		NodeFile:         nodes.Path,
		Nodes:            int64(nodes.Rows),
		PrunedNodes:      res.pruned,
		Properties:       strings.Join(properties, ","),
		FCRIncluded:      p.fcrIncluded(res),
		CreatedAtMs:      time.Now().UnixMilli(),
	}

	if p.cfg.Export.ExportEdges {
		edges, err := p.writer.WriteEdges(w, res.edges)
		if err != nil {
			return err
		}
		metrics.FilesWritten.WithLabelValues("edges").Inc()
		entry.EdgeFile = edges.Path
		entry.Edges = int64(edges.Rows)
	}

	var variants []models.VariantRecord
	if o := res.outcome; o != nil {
		if o.State() == linkpred.StateScored {
			predicted, err := p.writePredictions(ctx, runID, w, o)
			if err != nil {
				return err
			}
			entry.PredictedFile = predicted.Path
		}
		entry.LinkPrediction = string(o.State())
		variants = p.variantRecords(runID, w, o)
	}

	if err := p.deps.Manifest.InsertManifestEntry(entry); err != nil {
		return fmt.Errorf("failed to record manifest entry: %w", err)
	}
	if len(variants) > 0 {
		if err := p.deps.Manifest.InsertVariantRecords(variants); err != nil {
			logger.Warn("Failed to record link prediction variants", zap.String("window", w.GraphName), zap.Error(err))
		}
	}
	observe("export", start)

	logger.Info("Window exported",
		zap.String("window", w.GraphName),
		zap.Int64("nodes", entry.Nodes),
		zap.Int64("edges", entry.Edges),
		zap.Int64("pruned", entry.PrunedNodes),
		zap.String("link_prediction", entry.LinkPrediction),
	)
	return nil
}

// fcrIncluded is true once the column was computed, even for a window with
// no primary entity.
func (p *Pipeline) fcrIncluded(res *windowResult) bool {
	_, ok := res.extra[p.fcr.Column()]
	return ok
}

func (p *Pipeline) writePredictions(ctx context.Context, runID string, w window.Window, o *linkpred.Outcome) (export.File, error) {
	file, err := p.writer.WritePredicted(w, o.Predictions)
	if err != nil {
		return export.File{}, err
	}
	metrics.FilesWritten.WithLabelValues("predicted_edges").Inc()
	metrics.PredictedEdges.Add(float64(len(o.Predictions)))
	if o.Best != nil {
		metrics.LinkPredictionAUC.WithLabelValues(o.Best.Variant.Name).Set(o.Best.Report.AUC)
	}

	if p.cfg.LinkPrediction.WriteBack {
		n, err := p.deps.Backend.WriteInferredLinks(ctx, gds.WriteBack{
			RunID:   runID,
			Window:  w.GraphName,
			StartMs: w.StartMs,
			EndMs:   w.EndMs,
			Links:   o.Predictions,
		})
		if err != nil {
			return export.File{}, fmt.Errorf("failed to write inferred links: %w", err)
		}
		logger.Info("Inferred links written back", zap.String("window", w.GraphName), zap.Int("links", n))
	}

	if err := o.MarkExported(); err != nil {
		return export.File{}, err
	}
	return file, nil
}

func (p *Pipeline) variantRecords(runID string, w window.Window, o *linkpred.Outcome) []models.VariantRecord {
	now := time.Now()
	out := make([]models.VariantRecord, 0, len(o.Variants))
	for _, v := range o.Variants {
		rec := models.VariantRecord{
			RunID:      runID,
			ParamsHash: p.paramsHash,
			Window:     w.GraphName,
			Variant:    v.Variant,
			Skipped:    v.Skipped,
			CreatedAt:  now,
		}
		if r := v.Result; r != nil {
			rec.AUC = r.Report.AUC
			rec.Threshold = r.Report.Threshold
			rec.Recall = r.Report.Recall
			rec.Precision = r.Report.Precision
			rec.FBeta = r.Report.FBeta
			rec.C = r.C
			rec.TrainSize = r.TrainSize
			rec.TestSize = r.TestSize
			rec.Selected = o.Best != nil && o.Best.Variant.Name == v.Variant
		}
		out = append(out, rec)
	}
	return out
}
