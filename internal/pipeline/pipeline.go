// Package pipeline runs the rolling-window analysis: it keeps the base graph
// alive, processes each window with retries, and writes outputs only for
// windows that completed.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/algorithms"
	"github.com/ownership-graph/rollwin/internal/export"
	"github.com/ownership-graph/rollwin/internal/fcr"
	"github.com/ownership-graph/rollwin/internal/filter"
	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/kg/builder"
	"github.com/ownership-graph/rollwin/internal/linkpred"
	"github.com/ownership-graph/rollwin/internal/metrics"
	"github.com/ownership-graph/rollwin/internal/storage/models"
	"github.com/ownership-graph/rollwin/internal/window"
	"github.com/ownership-graph/rollwin/pkg/config"
	"github.com/ownership-graph/rollwin/pkg/logger"
	"github.com/ownership-graph/rollwin/pkg/retry"
)

// ManifestStore records runs and written windows.
type ManifestStore interface {
	StartRun(run *models.Run) error
	FinishRun(id string, status models.RunStatus, exported, skipped int, runErr error) error
	InsertManifestEntry(e *models.ManifestEntry) error
	ManifestEntries(paramsHash string) ([]models.ManifestEntry, error)
	ShouldSkip(paramsHash, window string, requireEdges bool) (bool, error)
	InsertVariantRecords(records []models.VariantRecord) error
}

// ProgressSink mirrors run progress to an external store.
type ProgressSink interface {
	SetProgress(ctx context.Context, runID string, fields map[string]any) error
}

// Lease is refreshed between windows; losing it stops the run.
type Lease interface {
	Refresh(ctx context.Context) error
}

type Deps struct {
	Backend  gds.Backend
	Manifest ManifestStore
	Progress ProgressSink
	Lease    Lease
	Status   *Status
}

// Summary describes a finished run.
type Summary struct {
	RunID      string
	ParamsHash string
	Windows    int
	Exported   int
	Skipped    int
}

type Pipeline struct {
	cfg        *config.Config
	deps       Deps
	schedule   window.Schedule
	paramsHash string
	builder    *builder.Builder
	filter     *filter.Filter
	runner     *algorithms.Runner
	fcr        *fcr.Calculator
	predictor  *linkpred.Predictor
	writer     *export.Writer
	retry      retry.Config
}

func Schema(cfg *config.Config) gds.Schema {
	g := cfg.Graph
	return gds.Schema{
		PrimaryLabel:       g.PrimaryLabel,
		SecondaryLabels:    g.SecondaryLabels,
		RelTypes:           g.RelTypes,
		KinshipType:        g.KinshipType,
		OwnershipType:      g.OwnershipType,
		SimilarityType:     g.SimilarityType,
		IDProperty:         g.IDProperty,
		StartProperty:      g.StartProperty,
		EndProperty:        g.EndProperty,
		WeightProperty:     g.WeightProperty,
		ProvenanceProperty: g.ProvenanceProperty,
		ImputedValue:       g.ImputedValue,
		PredictedValue:     g.PredictedValue,
		FirstNameProperty:  g.FirstNameProperty,
		LastNameProperty:   g.LastNameProperty,
		PatronymicProperty: g.PatronymicProperty,
		OpenStartMs:        window.OpenStartMs,
		OpenEndMs:          window.OpenEndMs,
	}
}

func BaseProjection(cfg *config.Config) gds.BaseProjection {
	var extra []string
	if cfg.Algorithms.HashGNN {
		extra = cfg.Algorithms.HashGNNFeatureProperties
	}
	return gds.BaseProjection{
		GraphName:       cfg.Graph.BaseGraphName,
		PrimaryLabel:    cfg.Graph.PrimaryLabel,
		NodeLabels:      Schema(cfg).NodeLabels(),
		RelTypes:        cfg.Graph.RelTypes,
		ExtraNodeProps:  extra,
		ReadConcurrency: cfg.Graph.ReadConcurrency,
	}
}

func ScheduleFor(cfg *config.Config) (window.Schedule, string, error) {
	hash, err := cfg.ParamsHash()
	if err != nil {
		return window.Schedule{}, "", fmt.Errorf("failed to hash parameters: %w", err)
	}
	w := cfg.Windows
	s, err := window.NewSchedule(w.StartYear, w.EndYearExclusive, w.WindowYears, w.StepYears)
	if err != nil {
		return window.Schedule{}, "", err
	}
	return s.WithParamsHash(hash), hash, nil
}

// New validates the configuration and wires the stages. Errors here are
// fatal for the run.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Backend == nil || deps.Manifest == nil {
		return nil, errors.New("pipeline needs a backend and a manifest store")
	}
	if deps.Status == nil {
		deps.Status = NewStatus()
	}

	schedule, hash, err := ScheduleFor(cfg)
	if err != nil {
		return nil, err
	}

	writer, err := export.NewWriter(export.Options{
		OutputDir:  cfg.Export.OutputDir,
		RunName:    cfg.Export.RunName,
		VectorMode: cfg.Export.VectorMode,
	})
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:        cfg,
		deps:       deps,
		schedule:   schedule,
		paramsHash: hash,
		builder:    builder.NewBuilder(deps.Backend, BaseProjection(cfg), cfg.Resilience.BaseEnsureAttempts),
		filter: filter.New(deps.Backend, filter.Options{
			BaseGraph:           cfg.Graph.BaseGraphName,
			NodeLabels:          Schema(cfg).NodeLabels(),
			RelTypes:            cfg.Graph.RelTypes,
			KinshipType:         cfg.Graph.KinshipType,
			IncludeImputed:      cfg.Filter.IncludeImputed,
			KeepIsolatedPrimary: cfg.Filter.KeepIsolatedPrimary,
			Concurrency:         cfg.Algorithms.Concurrency,
		}),
		runner: algorithms.NewRunner(deps.Backend, algorithms.Plan(cfg.Algorithms)),
		fcr:    fcr.NewCalculator(deps.Backend, cfg.FCR.Column),
		writer: writer,
		retry: retry.Config{
			MaxAttempts:    cfg.Resilience.MaxRetries + 1,
			InitialDelay:   time.Duration(cfg.Resilience.InitialBackoffSec * float64(time.Second)),
			MaxDelay:       time.Duration(cfg.Resilience.MaxBackoffSec * float64(time.Second)),
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Retryable:      gds.IsRetryable,
			Logger:         logger.GetLogger(),
		},
	}
	p.runner.OnFailure = func(alg string, _ error) {
		metrics.AlgorithmFailures.WithLabelValues(alg).Inc()
	}
	if cfg.LinkPrediction.Enabled {
		p.predictor, err = linkpred.NewPredictor(deps.Backend, cfg.LinkPrediction)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
	}
	return p, nil
}

func (p *Pipeline) ParamsHash() string {
	return p.paramsHash
}

func (p *Pipeline) Schedule() window.Schedule {
	return p.schedule
}

func (p *Pipeline) Status() *Status {
	return p.deps.Status
}

func (p *Pipeline) DropBase(ctx context.Context) error {
	return p.builder.DropBase(ctx)
}

// Run processes every scheduled window in order. Cancellation is honoured
// between windows.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		RunID:      uuid.NewString(),
		ParamsHash: p.paramsHash,
		Windows:    p.schedule.Count(),
	}
	status := p.deps.Status
	status.update(func(s *Snapshot) {
		*s = Snapshot{RunID: summary.RunID, ParamsHash: p.paramsHash, Phase: PhaseStarting, Windows: summary.Windows, StartedAt: time.Now()}
	})

	if err := p.writer.Probe(); err != nil {
		return summary, p.fail(summary, err)
	}

	params, err := json.Marshal(p.cfg.ParamsMetadata())
	if err != nil {
		return summary, p.fail(summary, fmt.Errorf("failed to encode parameters: %w", err))
	}
	if err := p.deps.Manifest.StartRun(&models.Run{
		ID:         summary.RunID,
		ParamsHash: p.paramsHash,
		Params:     string(params),
		Status:     models.RunRunning,
		Windows:    summary.Windows,
		StartedAt:  time.Now(),
	}); err != nil {
		return summary, p.fail(summary, err)
	}

	logger.WithRun(summary.RunID, p.paramsHash)
	logger.Info("Run started",
		zap.Int("windows", summary.Windows),
		zap.String("output", p.writer.Root()),
	)

	if _, err := p.builder.Ensure(ctx, p.cfg.Graph.RebuildBase); err != nil {
		return summary, p.finish(ctx, summary, err)
	}
	metrics.BaseGraphBuilds.Inc()
	status.update(func(s *Snapshot) { s.Phase = PhaseRunning })

	for w := range p.schedule.Windows() {
		if err := ctx.Err(); err != nil {
			return summary, p.finish(ctx, summary, err)
		}
		if p.deps.Lease != nil {
			if err := p.deps.Lease.Refresh(ctx); err != nil {
				return summary, p.finish(ctx, summary, err)
			}
		}

		if p.cfg.Export.SkipExisting {
			skip, err := p.deps.Manifest.ShouldSkip(p.paramsHash, w.GraphName, p.cfg.Export.ExportEdges)
			if err != nil {
				return summary, p.finish(ctx, summary, err)
			}
			if skip {
				summary.Skipped++
				metrics.WindowsTotal.WithLabelValues("resumed").Inc()
				logger.Info("Window already exported, skipping", zap.String("window", w.GraphName))
				p.progress(ctx, summary, w.GraphName, "skipped")
				continue
			}
		}

		if err := p.runWindow(ctx, summary.RunID, w); err != nil {
			metrics.WindowsTotal.WithLabelValues("failed").Inc()
			return summary, p.finish(ctx, summary, fmt.Errorf("window %s: %w", w.GraphName, err))
		}
		summary.Exported++
		metrics.WindowsTotal.WithLabelValues("exported").Inc()
		p.progress(ctx, summary, w.GraphName, "exported")
	}

	return summary, p.finish(ctx, summary, nil)
}

func (p *Pipeline) runWindow(ctx context.Context, runID string, w window.Window) error {
	cfg := p.retry
	cfg.BeforeRetry = func(_ context.Context, attempt int) error {
		metrics.RetryAttempts.WithLabelValues("window").Inc()
		logger.Warn("Retrying window", zap.String("window", w.GraphName), zap.Int("attempt", attempt))
		return nil
	}

	result, err := retry.DoWithResult(ctx, cfg, func() (*windowResult, error) {
		if _, err := p.builder.Ensure(ctx, false); err != nil {
			return nil, err
		}
		return p.process(ctx, w)
	})
	if err != nil {
		return err
	}
	return p.persist(ctx, runID, result)
}

func (p *Pipeline) progress(ctx context.Context, s Summary, window, state string) {
	p.deps.Status.update(func(snap *Snapshot) {
		snap.Exported = s.Exported
		snap.Skipped = s.Skipped
		snap.Current = window
		snap.Stage = state
	})
	if p.deps.Progress == nil {
		return
	}
	err := p.deps.Progress.SetProgress(ctx, s.RunID, map[string]any{
		"params_hash": s.ParamsHash,
		"windows":     s.Windows,
		"exported":    s.Exported,
		"skipped":     s.Skipped,
		"window":      window,
		"state":       state,
	})
	if err != nil {
		logger.Warn("Failed to publish progress", zap.Error(err))
	}
}

func (p *Pipeline) fail(s Summary, err error) error {
	logger.Error("Run aborted before start", zap.String("run_id", s.RunID), zap.Error(err))
	p.deps.Status.update(func(snap *Snapshot) {
		snap.Phase = PhaseFailed
		snap.Error = err.Error()
	})
	return err
}

// finish writes the manifest Parquet and closes the run record.
func (p *Pipeline) finish(ctx context.Context, s Summary, runErr error) error {
	entries, err := p.deps.Manifest.ManifestEntries(p.paramsHash)
	if err == nil && len(entries) > 0 {
		_, err = p.writer.WriteManifest(p.paramsHash, entries)
	}
	if err != nil {
		logger.Error("Failed to write manifest parquet", zap.Error(err))
		runErr = errors.Join(runErr, err)
	}

	status := models.RunCompleted
	switch {
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		status = models.RunCancelled
	case runErr != nil:
		status = models.RunFailed
	}
	if err := p.deps.Manifest.FinishRun(s.RunID, status, s.Exported, s.Skipped, runErr); err != nil {
		logger.Error("Failed to close run record", zap.Error(err))
	}

	p.deps.Status.update(func(snap *Snapshot) {
		snap.Exported = s.Exported
		snap.Skipped = s.Skipped
		snap.Phase = PhaseDone
		if runErr != nil {
			snap.Phase = PhaseFailed
			snap.Error = runErr.Error()
		}
	})
	p.progress(context.WithoutCancel(ctx), s, "", string(status))

	if runErr != nil {
		logger.Error("Run failed",
			zap.Int("exported", s.Exported),
			zap.Int("skipped", s.Skipped),
			zap.Error(runErr),
		)
		return runErr
	}
	logger.Info("Run complete",
		zap.Int("exported", s.Exported),
		zap.Int("skipped", s.Skipped),
	)
	return nil
}
