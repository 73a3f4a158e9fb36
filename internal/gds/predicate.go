package gds

import (
	"fmt"
	"strings"
)

// NodeView and RelView expose projected properties to predicates evaluated
// outside the backend.
type NodeView interface {
	HasLabel(label string) bool
	Property(name string) (float64, bool)
}

type RelView interface {
	Type() string
	Property(name string) (float64, bool)
}

// Predicate is a subgraph filter. Backends that speak the GDS filter
// language use the expressions; others evaluate Match* directly. Both forms
// must agree.
type Predicate interface {
	NodeExpr() string
	RelExpr() string
	Params() map[string]any
	MatchNode(n NodeView) bool
	MatchRel(r RelView) bool
}

// TemporalPredicate keeps entities and relationships whose validity interval
// overlaps [StartMs, EndMs). Kinship relationships flagged imputed are
// dropped unless IncludeImputed is set.
type TemporalPredicate struct {
	StartMs        int64
	EndMs          int64
	NodeLabels     []string
	RelTypes       []string
	KinshipType    string
	IncludeImputed bool
}

func (p TemporalPredicate) NodeExpr() string {
	labels := make([]string, len(p.NodeLabels))
	for i, l := range p.NodeLabels {
		labels[i] = "n:" + l
	}
	return fmt.Sprintf("(%s) AND n.%s < $end AND n.%s >= $start",
		strings.Join(labels, " OR "), PropStart, PropEnd)
}

func (p TemporalPredicate) RelExpr() string {
	types := make([]string, len(p.RelTypes))
	for i, t := range p.RelTypes {
		types[i] = "r:" + t
	}
	expr := fmt.Sprintf("(%s) AND r.%s < $end AND r.%s >= $start",
		strings.Join(types, " OR "), PropStart, PropEnd)
	if p.KinshipType != "" {
		expr += fmt.Sprintf(" AND (r:%s = FALSE OR $includeImputed = 1.0 OR r.%s = 0.0)", p.KinshipType, PropImputed)
	}
	return expr
}

func (p TemporalPredicate) Params() map[string]any {
	include := 0.0
	if p.IncludeImputed {
		include = 1.0
	}
	return map[string]any{
		"start":          float64(p.StartMs),
		"end":            float64(p.EndMs),
		"includeImputed": include,
	}
}

func (p TemporalPredicate) MatchNode(n NodeView) bool {
	labelled := false
	for _, l := range p.NodeLabels {
		if n.HasLabel(l) {
			labelled = true
			break
		}
	}
	return labelled && p.overlaps(n.Property)
}

func (p TemporalPredicate) MatchRel(r RelView) bool {
	typed := false
	for _, t := range p.RelTypes {
		if r.Type() == t {
			typed = true
			break
		}
	}
	if !typed || !p.overlaps(r.Property) {
		return false
	}
	if r.Type() == p.KinshipType && !p.IncludeImputed {
		imputed, _ := r.Property(PropImputed)
		return imputed == 0
	}
	return true
}

func (p TemporalPredicate) overlaps(prop func(string) (float64, bool)) bool {
	start, ok := prop(PropStart)
	if !ok {
		return false
	}
	end, ok := prop(PropEnd)
	if !ok {
		return false
	}
	return start < float64(p.EndMs) && end >= float64(p.StartMs)
}

// DegreePredicate drops entities with no surviving relationship. Primary
// entities stay regardless when KeepPrimary is set.
type DegreePredicate struct {
	DegreeProperty string
	KeepPrimary    bool
}

func (p DegreePredicate) NodeExpr() string {
	expr := fmt.Sprintf("n.%s > 0.0", p.DegreeProperty)
	if p.KeepPrimary {
		expr += fmt.Sprintf(" OR n.%s = 1.0", PropIsPrimary)
	}
	return expr
}

func (p DegreePredicate) RelExpr() string {
	return "*"
}

func (p DegreePredicate) Params() map[string]any {
	return map[string]any{}
}

func (p DegreePredicate) MatchNode(n NodeView) bool {
	if degree, ok := n.Property(p.DegreeProperty); ok && degree > 0 {
		return true
	}
	if p.KeepPrimary {
		primary, _ := n.Property(PropIsPrimary)
		return primary == 1
	}
	return false
}

func (p DegreePredicate) MatchRel(RelView) bool {
	return true
}
