package linkpred

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ownership-graph/rollwin/internal/algorithms"
	"github.com/ownership-graph/rollwin/internal/evaluation"
	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/idmap"
)

// Feature groups.
const (
	GroupString     = "string"
	GroupFastRP     = "fastrp"
	GroupNode2Vec   = "node2vec"
	GroupHashGNN    = "hashgnn"
	GroupLouvain    = "louvain"
	GroupWCC        = "wcc"
	GroupCentrality = "centrality"
)

var centralityProps = []string{algorithms.PageRank, algorithms.Betweenness, algorithms.Closeness}

// groupRequires lists the window properties a group reads.
var groupRequires = map[string][]string{
	GroupString:     nil,
	GroupFastRP:     {algorithms.FastRP},
	GroupNode2Vec:   {algorithms.Node2Vec},
	GroupHashGNN:    {algorithms.HashGNN},
	GroupLouvain:    {algorithms.Louvain},
	GroupWCC:        {algorithms.WCC},
	GroupCentrality: append([]string{algorithms.InDegree, algorithms.OutDegree}, centralityProps...),
}

var builtinVariants = map[string][]string{
	"string_only":           {GroupString},
	"fastrp_only":           {GroupFastRP},
	"fastrp_string":         {GroupFastRP, GroupString},
	"fastrp_string_louvain": {GroupFastRP, GroupString, GroupLouvain},
	"fastrp_string_wcc":     {GroupFastRP, GroupString, GroupWCC},
	"fastrp_string_full":    {GroupFastRP, GroupString, GroupLouvain, GroupWCC, GroupCentrality},
	"louvain_string":        {GroupLouvain, GroupString},
	"wcc_string":            {GroupWCC, GroupString},
	"centrality_string":     {GroupCentrality, GroupString},
	"node2vec_string":       {GroupNode2Vec, GroupString},
	"hashgnn_string":        {GroupHashGNN, GroupString},
}

// Variant is a named combination of feature groups.
type Variant struct {
	Name   string
	Groups []string
}

// Variants resolves configured variant names, rejecting unknown ones.
func Variants(names []string) ([]Variant, error) {
	out := make([]Variant, 0, len(names))
	for _, n := range names {
		groups, ok := builtinVariants[n]
		if !ok {
			return nil, fmt.Errorf("unknown link prediction variant %q", n)
		}
		out = append(out, Variant{Name: n, Groups: groups})
	}
	return out, nil
}

// Missing lists the properties the variant needs that the window lacks.
func (v Variant) Missing(produced algorithms.Produced) []string {
	var missing []string
	for _, g := range v.Groups {
		for _, prop := range groupRequires[g] {
			if !produced.Has(prop) {
				missing = append(missing, prop)
			}
		}
	}
	return missing
}

// NodeFeatures gives per-person access to the window's streamed properties.
// Persons absent from the window read as zero.
type NodeFeatures struct {
	values   map[gds.PersistentID]map[string]any
	produced algorithms.Produced
}

func NewNodeFeatures(rows []idmap.Row, produced algorithms.Produced) NodeFeatures {
	values := make(map[gds.PersistentID]map[string]any, len(rows))
	for _, r := range rows {
		values[r.ID] = r.Values
	}
	return NodeFeatures{values: values, produced: produced}
}

func (nf NodeFeatures) scalar(id gds.PersistentID, prop string) float64 {
	switch v := nf.values[id][prop].(type) {
	case float64:
		return finite(v)
	case int64:
		return float64(v)
	}
	return 0
}

func (nf NodeFeatures) label(id gds.PersistentID, prop string) (int64, bool) {
	switch v := nf.values[id][prop].(type) {
	case int64:
		return v, true
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

func (nf NodeFeatures) vector(id gds.PersistentID, prop string) []float64 {
	p, _ := nf.produced.Get(prop)
	out := make([]float64, p.Dimension)
	if v, ok := nf.values[id][prop].([]float64); ok && len(v) == p.Dimension {
		for i, x := range v {
			out[i] = finite(x)
		}
	}
	return out
}

func (nf NodeFeatures) degree(id gds.PersistentID) float64 {
	return nf.scalar(id, algorithms.InDegree) + nf.scalar(id, algorithms.OutDegree)
}

func (nf NodeFeatures) appendGroup(dst []float64, group string, c Candidate) []float64 {
	switch group {
	case GroupString:
		return append(dst, c.LastNameSim, c.PatronymicSim, c.SiblingSim, c.FirstNameSim, c.CommonSurname)
	case GroupFastRP, GroupNode2Vec, GroupHashGNN:
		return nf.appendEmbedding(dst, group, c)
	case GroupLouvain, GroupWCC:
		a, okA := nf.label(c.Source, group)
		b, okB := nf.label(c.Target, group)
		if okA && okB && a == b {
			return append(dst, 1)
		}
		return append(dst, 0)
	case GroupCentrality:
		a, b := nf.degree(c.Source), nf.degree(c.Target)
		dst = append(dst, a+b, math.Abs(a-b))
		for _, prop := range centralityProps {
			a, b = nf.scalar(c.Source, prop), nf.scalar(c.Target, prop)
			dst = append(dst, a+b, math.Abs(a-b))
		}
		return dst
	}
	return dst
}

// appendEmbedding adds the Hadamard product, the L2 distance and the cosine
// similarity of the two embeddings.
func (nf NodeFeatures) appendEmbedding(dst []float64, prop string, c Candidate) []float64 {
	a, b := nf.vector(c.Source, prop), nf.vector(c.Target, prop)
	had := make([]float64, len(a))
	floats.MulTo(had, a, b)
	dist := 0.0
	if len(a) > 0 {
		dist = floats.Distance(a, b, 2)
	}
	dst = append(dst, had...)
	return append(dst, dist, evaluation.CosineSimilarity(a, b))
}

// Matrix lays out one row per candidate for the variant's groups.
func (nf NodeFeatures) Matrix(v Variant, pairs []Candidate) *mat.Dense {
	if len(pairs) == 0 {
		return nil
	}
	var data []float64
	width := 0
	for i, c := range pairs {
		row := make([]float64, 0, width)
		for _, g := range v.Groups {
			row = nf.appendGroup(row, g, c)
		}
		if i == 0 {
			width = len(row)
			data = make([]float64, 0, width*len(pairs))
		}
		data = append(data, row...)
	}
	if width == 0 {
		return nil
	}
	return mat.NewDense(len(pairs), width, data)
}
