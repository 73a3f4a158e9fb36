package memgraph

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ownership-graph/rollwin/internal/gds"
)

type node struct {
	labels []string
	props  map[string]any
}

func (n *node) HasLabel(label string) bool {
	return slices.Contains(n.labels, label)
}

func (n *node) Property(name string) (float64, bool) {
	switch v := n.props[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

type rel struct {
	src, tgt int
	typ      string
	props    map[string]float64
}

func (r *rel) Type() string { return r.typ }

func (r *rel) Property(name string) (float64, bool) {
	v, ok := r.props[name]
	return v, ok
}

type graph struct {
	nodes []*node
	rels  []*rel
}

func (g *graph) info(name string) gds.GraphInfo {
	seen := make(map[string]bool)
	for _, n := range g.nodes {
		for k := range n.props {
			seen[k] = true
		}
	}
	props := make([]string, 0, len(seen))
	for k := range seen {
		props = append(props, k)
	}
	sort.Strings(props)
	return gds.GraphInfo{
		Name:              name,
		NodeCount:         int64(len(g.nodes)),
		RelationshipCount: int64(len(g.rels)),
		NodeProperties:    props,
	}
}

var _ gds.Backend = (*Engine)(nil)

// FaultFunc is consulted before every catalog operation; a non-nil return
// fails the operation.
type FaultFunc func(op, graph string) error

// Engine implements gds.Backend in memory.
type Engine struct {
	schema gds.Schema

	mu      sync.Mutex
	nodes   []NodeRow
	byID    map[int64]int
	rels    []RelRow
	catalog map[string]*graph
	fault   FaultFunc
}

func New(schema gds.Schema, nodes []NodeRow, rels []RelRow) *Engine {
	e := &Engine{
		schema:  schema,
		nodes:   nodes,
		rels:    rels,
		byID:    make(map[int64]int, len(nodes)),
		catalog: make(map[string]*graph),
	}
	for i, n := range nodes {
		e.byID[n.ID] = i
	}
	return e
}

// Open loads a stored graph written by SaveDir.
func Open(schema gds.Schema, dir string) (*Engine, error) {
	nodes, rels, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return New(schema, nodes, rels), nil
}

func (e *Engine) SetFault(f FaultFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fault = f
}

// Reset empties the catalog, as a backend restart would.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.catalog = make(map[string]*graph)
}

// GraphNames lists catalog entries in sorted order.
func (e *Engine) GraphNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.catalog))
	for name := range e.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) Close(context.Context) error {
	return nil
}

func (e *Engine) check(ctx context.Context, op, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.fault != nil {
		return e.fault(op, name)
	}
	return nil
}

func (e *Engine) lookup(name string) (*graph, error) {
	g, ok := e.catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gds.ErrGraphNotFound, name)
	}
	return g, nil
}

func (e *Engine) Exists(ctx context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "exists", name); err != nil {
		return false, err
	}
	_, ok := e.catalog[name]
	return ok, nil
}

func (e *Engine) Info(ctx context.Context, name string) (gds.GraphInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "info", name); err != nil {
		return gds.GraphInfo{}, err
	}
	g, err := e.lookup(name)
	if err != nil {
		return gds.GraphInfo{}, err
	}
	return g.info(name), nil
}

func (e *Engine) Project(ctx context.Context, p gds.BaseProjection) (gds.GraphInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "project", p.GraphName); err != nil {
		return gds.GraphInfo{}, err
	}
	if _, ok := e.catalog[p.GraphName]; ok {
		return gds.GraphInfo{}, fmt.Errorf("graph %s already exists", p.GraphName)
	}

	g := &graph{}
	index := make(map[int64]int)
	for _, row := range e.nodes {
		labels := row.labelList()
		if !anyIn(labels, p.NodeLabels) {
			continue
		}
		start, end := interval(row.StartMs, row.EndMs, e.schema)
		primary := 0.0
		if row.hasLabel(p.PrimaryLabel) {
			primary = 1.0
		}
		props := map[string]any{
			gds.PropPersistentID: float64(row.ID),
			gds.PropStart:        float64(start),
			gds.PropEnd:          float64(end),
			gds.PropIsPrimary:    primary,
		}
		// Stored dumps carry no feature arrays.
		for _, extra := range p.ExtraNodeProps {
			props[extra] = []float64{}
		}
		index[row.ID] = len(g.nodes)
		g.nodes = append(g.nodes, &node{labels: labels, props: props})
	}

	for _, row := range e.rels {
		if !slices.Contains(p.RelTypes, row.Type) {
			continue
		}
		src, okS := index[row.Source]
		tgt, okT := index[row.Target]
		if !okS || !okT {
			continue
		}
		start, end := interval(row.StartMs, row.EndMs, e.schema)
		weight := 1.0
		if row.Weight != nil {
			weight = *row.Weight
		}
		imputed := 0.0
		if e.schema.IsUntrusted(row.Provenance) {
			imputed = 1.0
		}
		g.rels = append(g.rels, &rel{
			src: src,
			tgt: tgt,
			typ: row.Type,
			props: map[string]float64{
				gds.PropWeight:  weight,
				gds.PropStart:   float64(start),
				gds.PropEnd:     float64(end),
				gds.PropImputed: imputed,
			},
		})
	}

	e.catalog[p.GraphName] = g
	return g.info(p.GraphName), nil
}

func (e *Engine) Filter(ctx context.Context, name, from string, pred gds.Predicate, _ int) (gds.GraphInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "filter", name); err != nil {
		return gds.GraphInfo{}, err
	}
	src, err := e.lookup(from)
	if err != nil {
		return gds.GraphInfo{}, err
	}
	if _, ok := e.catalog[name]; ok {
		return gds.GraphInfo{}, fmt.Errorf("graph %s already exists", name)
	}

	g := &graph{}
	remap := make(map[int]int)
	for i, n := range src.nodes {
		if !pred.MatchNode(n) {
			continue
		}
		remap[i] = len(g.nodes)
		g.nodes = append(g.nodes, &node{labels: n.labels, props: copyProps(n.props)})
	}
	for _, r := range src.rels {
		s, okS := remap[r.src]
		t, okT := remap[r.tgt]
		if !okS || !okT || !pred.MatchRel(r) {
			continue
		}
		g.rels = append(g.rels, &rel{src: s, tgt: t, typ: r.typ, props: r.props})
	}

	e.catalog[name] = g
	return g.info(name), nil
}

func (e *Engine) Drop(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "drop", name); err != nil {
		return err
	}
	delete(e.catalog, name)
	return nil
}

func (e *Engine) Mutate(ctx context.Context, name string, alg gds.Algorithm) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "mutate:"+alg.Name, name); err != nil {
		return err
	}
	g, err := e.lookup(name)
	if err != nil {
		return err
	}

	values, err := run(g, alg)
	if err != nil {
		return fmt.Errorf("failed to run %s on %s: %w", alg.Name, name, err)
	}
	for i, n := range g.nodes {
		n.props[alg.MutateProperty] = values[i]
	}
	return nil
}

func (e *Engine) StreamNodeProperties(ctx context.Context, name string, props []string) ([]gds.NodeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "stream-nodes", name); err != nil {
		return nil, err
	}
	g, err := e.lookup(name)
	if err != nil {
		return nil, err
	}

	out := make([]gds.NodeRecord, len(g.nodes))
	for i, n := range g.nodes {
		values := make(map[string]any, len(props))
		for _, p := range props {
			v, ok := n.props[p]
			if !ok {
				return nil, fmt.Errorf("node property %s not found in %s", p, name)
			}
			if vec, isVec := v.([]float64); isVec {
				v = slices.Clone(vec)
			}
			values[p] = v
		}
		out[i] = gds.NodeRecord{NodeID: gds.NodeID(i), Values: values}
	}
	return out, nil
}

func (e *Engine) StreamRelationships(ctx context.Context, name string, relTypes []string) ([]gds.RelRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "stream-rels", name); err != nil {
		return nil, err
	}
	g, err := e.lookup(name)
	if err != nil {
		return nil, err
	}

	var out []gds.RelRecord
	for _, r := range g.rels {
		if len(relTypes) > 0 && !slices.Contains(relTypes, r.typ) {
			continue
		}
		out = append(out, gds.RelRecord{Source: gds.NodeID(r.src), Target: gds.NodeID(r.tgt), Type: r.typ})
	}
	return out, nil
}

func copyProps(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func anyIn(have, want []string) bool {
	for _, h := range have {
		if slices.Contains(want, h) {
			return true
		}
	}
	return false
}
