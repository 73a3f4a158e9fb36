// Package algorithms runs the per-window centrality, community and embedding
// algorithms in mutate mode and reports which properties they produced.
package algorithms

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/pkg/config"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

// Mutated property names. They double as export column names.
const (
	InDegree    = "in_degree"
	OutDegree   = "out_degree"
	PageRank    = "page_rank"
	Betweenness = "betweenness"
	Closeness   = "closeness"
	Eigenvector = "eigenvector"
	WCC         = "wcc"
	Louvain     = "louvain"
	FastRP      = "fastrp"
	Node2Vec    = "node2vec"
	HashGNN     = "hashgnn"
)

type Property struct {
	Name      string
	Kind      gds.PropertyKind
	Dimension int
}

// Produced is the property set discovered for one window.
type Produced struct {
	Properties []Property
	Failed     map[string]error
}

func (p Produced) Has(name string) bool {
	_, ok := p.Get(name)
	return ok
}

func (p Produced) Get(name string) (Property, bool) {
	for _, prop := range p.Properties {
		if prop.Name == name {
			return prop, true
		}
	}
	return Property{}, false
}

func (p Produced) Names() []string {
	out := make([]string, len(p.Properties))
	for i, prop := range p.Properties {
		out[i] = prop.Name
	}
	return out
}

// Plan lists the algorithms to run, required ones first.
func Plan(cfg config.AlgorithmsConfig) []gds.Algorithm {
	concurrency := max(cfg.Concurrency, 1)
	with := func(m map[string]any) map[string]any {
		m["concurrency"] = concurrency
		return m
	}

	plan := []gds.Algorithm{
		{Name: gds.AlgDegree, MutateProperty: InDegree, Required: true, Config: with(map[string]any{"orientation": "REVERSE"})},
		{Name: gds.AlgDegree, MutateProperty: OutDegree, Required: true, Config: with(map[string]any{"orientation": "NATURAL"})},
		{Name: gds.AlgPageRank, MutateProperty: PageRank, Required: true, Config: with(map[string]any{
			"maxIterations":              cfg.PageRankMaxIterations,
			"dampingFactor":              cfg.PageRankDampingFactor,
			"relationshipWeightProperty": gds.PropWeight,
		})},
	}
	if cfg.Betweenness {
		plan = append(plan, gds.Algorithm{Name: gds.AlgBetweenness, MutateProperty: Betweenness, Config: with(map[string]any{})})
	}
	if cfg.Closeness {
		plan = append(plan, gds.Algorithm{Name: gds.AlgCloseness, MutateProperty: Closeness, Config: with(map[string]any{})})
	}
	if cfg.Eigenvector {
		plan = append(plan, gds.Algorithm{Name: gds.AlgEigenvector, MutateProperty: Eigenvector, Config: with(map[string]any{
			"maxIterations": cfg.EigenvectorMaxIterations,
		})})
	}
	if cfg.WCC {
		plan = append(plan, gds.Algorithm{Name: gds.AlgWCC, MutateProperty: WCC, Config: with(map[string]any{})})
	}
	if cfg.Louvain {
		plan = append(plan, gds.Algorithm{Name: gds.AlgLouvain, MutateProperty: Louvain, Config: with(map[string]any{
			"maxIterations":              cfg.LouvainMaxIterations,
			"relationshipWeightProperty": gds.PropWeight,
		})})
	}
	if cfg.FastRP {
		plan = append(plan, gds.Algorithm{Name: gds.AlgFastRP, MutateProperty: FastRP, Kind: gds.Vector, Dimension: cfg.EmbeddingDimension,
			Config: with(map[string]any{
				"embeddingDimension": cfg.EmbeddingDimension,
				"iterationWeights":   []float64{0.0, 1.0, 1.0},
				"randomSeed":         cfg.RandomSeed,
			})})
	}
	if cfg.Node2Vec {
		plan = append(plan, gds.Algorithm{Name: gds.AlgNode2Vec, MutateProperty: Node2Vec, Kind: gds.Vector, Dimension: cfg.Node2VecDimension,
			Config: with(map[string]any{
				"embeddingDimension": cfg.Node2VecDimension,
				"iterations":         cfg.Node2VecIterations,
				"randomSeed":         cfg.RandomSeed,
			})})
	}
	if cfg.HashGNN {
		plan = append(plan, gds.Algorithm{Name: gds.AlgHashGNN, MutateProperty: HashGNN, Kind: gds.Vector, Dimension: cfg.HashGNNOutputDimension,
			Config: with(map[string]any{
				"featureProperties": cfg.HashGNNFeatureProperties,
				"iterations":        cfg.HashGNNIterations,
				"outputDimension":   cfg.HashGNNOutputDimension,
				"embeddingDensity":  cfg.HashGNNEmbeddingDensity,
				"binarizeFeatures": map[string]any{
					"dimension": cfg.HashGNNBinarizeDimension,
					"threshold": cfg.HashGNNBinarizeThreshold,
				},
				"randomSeed": cfg.RandomSeed,
			})})
	}
	return plan
}

type Runner struct {
	engine gds.Engine
	plan   []gds.Algorithm
	// OnFailure observes optional algorithms that were skipped.
	OnFailure func(algorithm string, err error)
	// OnComplete observes every successful mutate call.
	OnComplete func(algorithm string, elapsed time.Duration)
}

func NewRunner(engine gds.Engine, plan []gds.Algorithm) *Runner {
	return &Runner{engine: engine, plan: plan}
}

// Run mutates graph with every planned algorithm in order. A failing
// required algorithm fails the run. A failing optional algorithm is logged
// and its property omitted, unless the failure is a backend outage, which
// would otherwise silently change the window's outputs.
func (r *Runner) Run(ctx context.Context, graph string) (Produced, error) {
	produced := Produced{Failed: make(map[string]error)}

	for _, alg := range r.plan {
		if err := ctx.Err(); err != nil {
			return produced, err
		}

		start := time.Now()
		err := r.engine.Mutate(ctx, graph, alg)
		if err != nil {
			if alg.Required || gds.IsRetryable(err) {
				return produced, fmt.Errorf("failed to run %s: %w", alg.MutateProperty, err)
			}
			logger.Warn("Optional algorithm failed, property omitted",
				zap.String("graph", graph),
				zap.String("algorithm", alg.Name),
				zap.String("property", alg.MutateProperty),
				zap.Error(err),
			)
			produced.Failed[alg.MutateProperty] = err
			if r.OnFailure != nil {
				r.OnFailure(alg.MutateProperty, err)
			}
			continue
		}

		if r.OnComplete != nil {
			r.OnComplete(alg.MutateProperty, time.Since(start))
		}
		produced.Properties = append(produced.Properties, Property{
			Name:      alg.MutateProperty,
			Kind:      alg.Kind,
			Dimension: alg.Dimension,
		})
	}

	logger.Debug("Algorithms complete",
		zap.String("graph", graph),
		zap.Strings("produced", produced.Names()),
		zap.Int("failed", len(produced.Failed)),
	)
	return produced, nil
}
