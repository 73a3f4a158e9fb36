// Package linkpred proposes missing kinship edges between persons of a window.
// It blocks persons by surname prefix, trains one logistic model per feature
// variant against trusted kinship labels, and scores the blocked candidates
// with the best variant.
package linkpred

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/algorithms"
	"github.com/ownership-graph/rollwin/internal/evaluation"
	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/idmap"
	"github.com/ownership-graph/rollwin/internal/window"
	"github.com/ownership-graph/rollwin/pkg/config"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

// VariantOutcome records what happened to one variant in a window.
type VariantOutcome struct {
	Variant string
	Result  *Result
	Skipped string
}

// Outcome is the per-window result. Predictions is empty when State is
// SKIPPED.
type Outcome struct {
	Window      string
	Candidates  int
	Samples     int
	Variants    []VariantOutcome
	Best        *Result
	Predictions []gds.InferredLink
	SkipReason  string
	tracker     *Tracker
}

func (o *Outcome) State() State {
	return o.tracker.State()
}

func (o *Outcome) History() []State {
	return o.tracker.History()
}

func (o *Outcome) Skipped() bool {
	return o.tracker.State() == StateSkipped
}

// MarkExported closes a scored window once its predictions are on disk.
func (o *Outcome) MarkExported() error {
	return o.tracker.Advance(StateExported)
}

type Predictor struct {
	store    gds.Store
	cfg      config.LinkPredictionConfig
	variants []Variant
}

func NewPredictor(store gds.Store, cfg config.LinkPredictionConfig) (*Predictor, error) {
	variants, err := Variants(cfg.Variants)
	if err != nil {
		return nil, err
	}
	return &Predictor{store: store, cfg: cfg, variants: variants}, nil
}

func (p *Predictor) candidateOptions() CandidateOptions {
	return CandidateOptions{
		BlockingPrefixLen: p.cfg.BlockingPrefixLen,
		MinLastNameSim:    p.cfg.MinLastNameSim,
		MinPatronymicSim:  p.cfg.MinPatronymicSim,
		CommonSurnames:    p.cfg.CommonSurnames,
	}
}

func (p *Predictor) skip(o *Outcome, reason string) (*Outcome, error) {
	o.SkipReason = reason
	if err := o.tracker.Advance(StateSkipped); err != nil {
		return nil, err
	}
	logger.Info("Link prediction skipped",
		zap.String("window", o.Window),
		zap.String("reason", reason),
	)
	return o, nil
}

// Run executes the per-window stages. Only store failures and context
// cancellation are returned as errors; a window without usable data ends
// SKIPPED.
func (p *Predictor) Run(ctx context.Context, w window.Window, rows []idmap.Row, produced algorithms.Produced) (*Outcome, error) {
	o := &Outcome{Window: w.GraphName, tracker: NewTracker(w.GraphName)}

	var ids []gds.PersistentID
	for _, r := range rows {
		if v, ok := r.Values[gds.PropIsPrimary].(float64); ok && v == 1 {
			continue
		}
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return p.skip(o, "no secondary entities")
	}

	persons, err := p.store.Persons(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load persons for %s: %w", w.GraphName, err)
	}
	links, err := p.store.Links(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load kinship links for %s: %w", w.GraphName, err)
	}

	candidates := GenerateCandidates(persons, links, p.candidateOptions())
	o.Candidates = len(candidates)
	if len(candidates) == 0 {
		return p.skip(o, "no blocked candidates")
	}

	samples, err := BuildTrainingSet(candidates, links, persons, TrainingOptions{
		CandidateOptions: p.candidateOptions(),
		MaxNegativeRatio: p.cfg.MaxNegativeRatio,
		Seed:             uint64(p.cfg.RandomSeed),
	})
	switch {
	case errors.Is(err, ErrNoPositives):
		return p.skip(o, "no trusted kinship labels")
	case err != nil:
		return nil, err
	}
	o.Samples = len(samples)
	if len(samples) < p.cfg.MinTrainingSamples {
		return p.skip(o, fmt.Sprintf("%d training samples, need %d", len(samples), p.cfg.MinTrainingSamples))
	}

	nf := NewNodeFeatures(rows, produced)
	if err := o.tracker.Advance(StateFeaturesBuilt); err != nil {
		return nil, err
	}

	opts := TrainOptions{
		TestSplit:     p.cfg.TestSplit,
		CVFolds:       p.cfg.CVFolds,
		CGrid:         p.cfg.CGrid,
		Beta:          p.cfg.Beta,
		MaxIterations: p.cfg.MaxIterations,
		LearningRate:  p.cfg.LearningRate,
		Seed:          uint64(p.cfg.RandomSeed),
	}
	var results []Result
	for _, v := range p.variants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if missing := v.Missing(produced); len(missing) > 0 {
			o.Variants = append(o.Variants, VariantOutcome{Variant: v.Name, Skipped: fmt.Sprintf("missing %v", missing)})
			continue
		}
		r, err := Train(v, nf, samples, opts)
		if err != nil {
			if !errors.Is(err, evaluation.ErrDegenerateLabels) {
				logger.Warn("Link prediction variant failed",
					zap.String("window", w.GraphName),
					zap.String("variant", v.Name),
					zap.Error(err),
				)
			}
			o.Variants = append(o.Variants, VariantOutcome{Variant: v.Name, Skipped: err.Error()})
			continue
		}
		logger.Debug("Link prediction variant trained",
			zap.String("window", w.GraphName),
			zap.String("variant", v.Name),
			zap.String("report", r.Report.Summary()),
		)
		results = append(results, r)
		o.Variants = append(o.Variants, VariantOutcome{Variant: v.Name, Result: &r})
	}
	if len(results) == 0 {
		return p.skip(o, ErrNoUsableVariant.Error())
	}
	if err := o.tracker.Advance(StateTrained); err != nil {
		return nil, err
	}

	best, _ := HorseRace(results)
	o.Best = &best
	if err := o.tracker.Advance(StateBestSelected); err != nil {
		return nil, err
	}

	o.Predictions = Score(best, nf, candidates)
	if err := o.tracker.Advance(StateScored); err != nil {
		return nil, err
	}
	logger.Info("Link prediction scored",
		zap.String("window", w.GraphName),
		zap.String("variant", best.Variant.Name),
		zap.Float64("auc", best.Report.AUC),
		zap.Float64("threshold", best.Report.Threshold),
		zap.Int("candidates", len(candidates)),
		zap.Int("predicted", len(o.Predictions)),
	)
	return o, nil
}
