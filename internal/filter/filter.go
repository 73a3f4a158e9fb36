// Package filter carves a window subgraph out of the base graph in two
// passes: a temporal pass and an isolate-pruning pass.
package filter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/window"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

type Options struct {
	BaseGraph           string
	NodeLabels          []string
	RelTypes            []string
	KinshipType         string
	IncludeImputed      bool
	KeepIsolatedPrimary bool
	Concurrency         int
}

type Stats struct {
	Pass1Nodes         int64
	Pass1Relationships int64
	Pass2Nodes         int64
	Pass2Relationships int64
}

func (s Stats) PrunedNodes() int64 {
	return s.Pass1Nodes - s.Pass2Nodes
}

// Scope owns the subgraphs created for one window. Close drops them and is
// safe to call more than once.
type Scope struct {
	engine gds.Engine
	Window window.Window
	Pass1  string
	Graph  string
	Stats  Stats
	closed bool
}

func (s *Scope) Close(ctx context.Context) error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	// Cleanup must run even when the caller's context was cancelled.
	ctx = context.WithoutCancel(ctx)
	return errors.Join(s.engine.Drop(ctx, s.Graph), s.engine.Drop(ctx, s.Pass1))
}

type Filter struct {
	engine gds.Engine
	opts   Options
}

func New(engine gds.Engine, opts Options) *Filter {
	return &Filter{engine: engine, opts: opts}
}

func Pass1Name(w window.Window) string {
	return w.GraphName + "_p1"
}

func (f *Filter) Temporal(w window.Window) gds.TemporalPredicate {
	return gds.TemporalPredicate{
		StartMs:        w.StartMs,
		EndMs:          w.EndMs,
		NodeLabels:     f.opts.NodeLabels,
		RelTypes:       f.opts.RelTypes,
		KinshipType:    f.opts.KinshipType,
		IncludeImputed: f.opts.IncludeImputed,
	}
}

func (f *Filter) Pruning() gds.DegreePredicate {
	return gds.DegreePredicate{
		DegreeProperty: gds.PropActiveDegree,
		KeepPrimary:    f.opts.KeepIsolatedPrimary,
	}
}

// Apply builds the pruned window subgraph. On error nothing is left in the
// catalog.
func (f *Filter) Apply(ctx context.Context, w window.Window) (*Scope, error) {
	scope := &Scope{engine: f.engine, Window: w, Pass1: Pass1Name(w), Graph: w.GraphName}

	if err := f.apply(ctx, scope); err != nil {
		if cerr := scope.Close(ctx); cerr != nil {
			logger.Warn("Failed to drop window subgraphs", zap.String("window", w.GraphName), zap.Error(cerr))
		}
		return nil, err
	}
	return scope, nil
}

func (f *Filter) apply(ctx context.Context, scope *Scope) error {
	// A crashed earlier attempt may have left either name behind.
	if err := errors.Join(f.engine.Drop(ctx, scope.Graph), f.engine.Drop(ctx, scope.Pass1)); err != nil {
		return fmt.Errorf("failed to clear stale window graphs: %w", err)
	}

	p1, err := f.engine.Filter(ctx, scope.Pass1, f.opts.BaseGraph, f.Temporal(scope.Window), f.opts.Concurrency)
	if err != nil {
		return fmt.Errorf("temporal filter: %w", err)
	}
	scope.Stats.Pass1Nodes = p1.NodeCount
	scope.Stats.Pass1Relationships = p1.RelationshipCount

	err = f.engine.Mutate(ctx, scope.Pass1, gds.Algorithm{
		Name:           gds.AlgDegree,
		MutateProperty: gds.PropActiveDegree,
		Required:       true,
		Config: map[string]any{
			"orientation": "UNDIRECTED",
			"concurrency": max(f.opts.Concurrency, 1),
		},
	})
	if err != nil {
		return fmt.Errorf("active degree: %w", err)
	}

	p2, err := f.engine.Filter(ctx, scope.Graph, scope.Pass1, f.Pruning(), f.opts.Concurrency)
	if err != nil {
		return fmt.Errorf("isolate pruning: %w", err)
	}
	scope.Stats.Pass2Nodes = p2.NodeCount
	scope.Stats.Pass2Relationships = p2.RelationshipCount

	if err := f.engine.Drop(ctx, scope.Pass1); err != nil {
		logger.Warn("Failed to drop pass-1 graph early", zap.String("graph", scope.Pass1), zap.Error(err))
	}

	logger.Info("Window subgraph filtered",
		zap.String("window", scope.Graph),
		zap.Int64("pass1_nodes", p1.NodeCount),
		zap.Int64("pass1_relationships", p1.RelationshipCount),
		zap.Int64("nodes", p2.NodeCount),
		zap.Int64("relationships", p2.RelationshipCount),
		zap.Int64("pruned", scope.Stats.PrunedNodes()),
	)
	return nil
}
