package gds

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeNode struct {
	labels []string
	props  map[string]float64
}

func (n fakeNode) HasLabel(label string) bool {
	for _, l := range n.labels {
		if l == label {
			return true
		}
	}
	return false
}

func (n fakeNode) Property(name string) (float64, bool) {
	v, ok := n.props[name]
	return v, ok
}

type fakeRel struct {
	typ   string
	props map[string]float64
}

func (r fakeRel) Type() string { return r.typ }

func (r fakeRel) Property(name string) (float64, bool) {
	v, ok := r.props[name]
	return v, ok
}

func TestTemporalPredicate_Nodes(t *testing.T) {
	p := TemporalPredicate{StartMs: 100, EndMs: 200, NodeLabels: []string{"Bank", "Person"}}

	assert.True(t, p.MatchNode(fakeNode{[]string{"Bank"}, map[string]float64{PropStart: 0, PropEnd: 100}}))
	assert.True(t, p.MatchNode(fakeNode{[]string{"Person"}, map[string]float64{PropStart: 199, PropEnd: 1000}}))
	assert.False(t, p.MatchNode(fakeNode{[]string{"Bank"}, map[string]float64{PropStart: 200, PropEnd: 1000}}), "start at window end is outside")
	assert.False(t, p.MatchNode(fakeNode{[]string{"Bank"}, map[string]float64{PropStart: 0, PropEnd: 99}}))
	assert.False(t, p.MatchNode(fakeNode{[]string{"Company"}, map[string]float64{PropStart: 0, PropEnd: 1000}}))
	assert.False(t, p.MatchNode(fakeNode{[]string{"Bank"}, map[string]float64{PropStart: 0}}))
}

func TestTemporalPredicate_ImputedKinship(t *testing.T) {
	p := TemporalPredicate{
		StartMs:     100,
		EndMs:       200,
		RelTypes:    []string{"OWNERSHIP", "FAMILY"},
		KinshipType: "FAMILY",
	}
	active := map[string]float64{PropStart: 0, PropEnd: 1000, PropImputed: 0}
	imputed := map[string]float64{PropStart: 0, PropEnd: 1000, PropImputed: 1}

	assert.True(t, p.MatchRel(fakeRel{"FAMILY", active}))
	assert.False(t, p.MatchRel(fakeRel{"FAMILY", imputed}))
	assert.True(t, p.MatchRel(fakeRel{"OWNERSHIP", imputed}), "imputed flag only applies to kinship")
	assert.False(t, p.MatchRel(fakeRel{"MANAGEMENT", active}))

	p.IncludeImputed = true
	assert.True(t, p.MatchRel(fakeRel{"FAMILY", imputed}))
	assert.Equal(t, 1.0, p.Params()["includeImputed"])
}

func TestTemporalPredicate_Expressions(t *testing.T) {
	p := TemporalPredicate{
		StartMs:     1,
		EndMs:       2,
		NodeLabels:  []string{"Bank", "Person"},
		RelTypes:    []string{"OWNERSHIP", "FAMILY"},
		KinshipType: "FAMILY",
	}
	assert.Equal(t, "(n:Bank OR n:Person) AND n.t_start < $end AND n.t_end >= $start", p.NodeExpr())
	assert.Contains(t, p.RelExpr(), "(r:OWNERSHIP OR r:FAMILY)")
	assert.Contains(t, p.RelExpr(), "r:FAMILY = FALSE OR $includeImputed = 1.0 OR r.imputed = 0.0")
	assert.Equal(t, map[string]any{"start": 1.0, "end": 2.0, "includeImputed": 0.0}, p.Params())
}

func TestDegreePredicate(t *testing.T) {
	isolatedPrimary := fakeNode{props: map[string]float64{PropActiveDegree: 0, PropIsPrimary: 1}}
	isolatedOther := fakeNode{props: map[string]float64{PropActiveDegree: 0, PropIsPrimary: 0}}
	connected := fakeNode{props: map[string]float64{PropActiveDegree: 2, PropIsPrimary: 0}}

	keep := DegreePredicate{DegreeProperty: PropActiveDegree, KeepPrimary: true}
	assert.True(t, keep.MatchNode(isolatedPrimary))
	assert.False(t, keep.MatchNode(isolatedOther))
	assert.True(t, keep.MatchNode(connected))
	assert.Equal(t, "n.active_degree > 0.0 OR n.is_primary = 1.0", keep.NodeExpr())

	strict := DegreePredicate{DegreeProperty: PropActiveDegree}
	assert.False(t, strict.MatchNode(isolatedPrimary))
	assert.Equal(t, "n.active_degree > 0.0", strict.NodeExpr())
	assert.Equal(t, "*", strict.RelExpr())
}
