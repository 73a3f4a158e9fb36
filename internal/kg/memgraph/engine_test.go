package memgraph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/kg/memgraph"
	"github.com/ownership-graph/rollwin/internal/kg/memgraph/memgraphtest"
)

func projectToy(t *testing.T, e *memgraph.Engine) gds.GraphInfo {
	t.Helper()
	s := memgraphtest.Schema()
	info, err := e.Project(context.Background(), gds.BaseProjection{
		GraphName:    "base",
		PrimaryLabel: s.PrimaryLabel,
		NodeLabels:   s.NodeLabels(),
		RelTypes:     s.RelTypes,
	})
	require.NoError(t, err)
	return info
}

func TestProject(t *testing.T) {
	e := memgraphtest.ToyEngine()
	info := projectToy(t, e)

	assert.EqualValues(t, 10, info.NodeCount)
	assert.EqualValues(t, 10, info.RelationshipCount)
	assert.Empty(t, info.HasNodeProperties(gds.PropPersistentID, gds.PropStart, gds.PropEnd, gds.PropIsPrimary))

	records, err := e.StreamNodeProperties(context.Background(), "base", []string{gds.PropPersistentID, gds.PropIsPrimary})
	require.NoError(t, err)
	primaries := 0
	for _, r := range records {
		if r.Values[gds.PropIsPrimary] == 1.0 {
			primaries++
		}
	}
	assert.Equal(t, 2, primaries)

	_, err = e.Project(context.Background(), gds.BaseProjection{GraphName: "base"})
	assert.Error(t, err, "duplicate names are rejected")
}

func TestFilterAndDrop(t *testing.T) {
	ctx := context.Background()
	e := memgraphtest.ToyEngine()
	projectToy(t, e)

	pred := gds.TemporalPredicate{
		StartMs:     *memgraphtest.Year(2014),
		EndMs:       *memgraphtest.Year(2017),
		NodeLabels:  memgraphtest.Schema().NodeLabels(),
		RelTypes:    memgraphtest.Schema().RelTypes,
		KinshipType: "FAMILY",
	}
	info, err := e.Filter(ctx, "w", "base", pred, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 9, info.NodeCount, "inactive entity dropped")
	assert.EqualValues(t, 8, info.RelationshipCount, "inactive ownership and imputed kinship dropped")

	_, err = e.Filter(ctx, "x", "missing", pred, 1)
	assert.ErrorIs(t, err, gds.ErrGraphNotFound)

	require.NoError(t, e.Drop(ctx, "w"))
	require.NoError(t, e.Drop(ctx, "w"), "dropping a missing graph is not an error")
	assert.Equal(t, []string{"base"}, e.GraphNames())
}

func TestMutateAlgorithms(t *testing.T) {
	ctx := context.Background()
	e := memgraphtest.ToyEngine()
	projectToy(t, e)

	algs := []gds.Algorithm{
		{Name: gds.AlgDegree, MutateProperty: "out_degree", Config: map[string]any{"orientation": "NATURAL"}},
		{Name: gds.AlgDegree, MutateProperty: "in_degree", Config: map[string]any{"orientation": "REVERSE"}},
		{Name: gds.AlgPageRank, MutateProperty: "page_rank", Config: map[string]any{"maxIterations": 20, "dampingFactor": 0.85}},
		{Name: gds.AlgBetweenness, MutateProperty: "betweenness"},
		{Name: gds.AlgCloseness, MutateProperty: "closeness"},
		{Name: gds.AlgEigenvector, MutateProperty: "eigenvector"},
		{Name: gds.AlgWCC, MutateProperty: "wcc"},
		{Name: gds.AlgLouvain, MutateProperty: "louvain"},
		{Name: gds.AlgFastRP, MutateProperty: "fastrp", Kind: gds.Vector, Config: map[string]any{"embeddingDimension": 16, "randomSeed": 7}},
	}
	for _, alg := range algs {
		require.NoError(t, e.Mutate(ctx, "base", alg), alg.Name)
	}

	records, err := e.StreamNodeProperties(ctx, "base", []string{gds.PropPersistentID, "out_degree", "in_degree", "page_rank", "wcc", "louvain", "fastrp"})
	require.NoError(t, err)
	byID := make(map[int64]map[string]any)
	for _, r := range records {
		byID[int64(r.Values[gds.PropPersistentID].(float64))] = r.Values
	}

	bankA := byID[memgraphtest.BankA]
	assert.Equal(t, 3.0, bankA["in_degree"])
	assert.Equal(t, 0.0, bankA["out_degree"])
	assert.Greater(t, bankA["page_rank"].(float64), 0.15)
	assert.Len(t, bankA["fastrp"].([]float64), 16)

	assert.Equal(t, byID[memgraphtest.IvanIvanov]["wcc"], bankA["wcc"])
	assert.NotEqual(t, byID[memgraphtest.BankB]["wcc"], bankA["wcc"])
	assert.NotEqual(t, byID[memgraphtest.BankB]["louvain"], bankA["louvain"], "disconnected parts never share a community")

	err = e.Mutate(ctx, "base", gds.Algorithm{Name: gds.AlgHashGNN, MutateProperty: "hashgnn"})
	assert.ErrorIs(t, err, gds.ErrAlgorithmUnavailable)
}

func TestFaultInjection(t *testing.T) {
	ctx := context.Background()
	e := memgraphtest.ToyEngine()
	projectToy(t, e)

	e.SetFault(func(op, graph string) error {
		if op == "filter" {
			return gds.ErrTransient
		}
		return nil
	})
	_, err := e.Filter(ctx, "w", "base", gds.DegreePredicate{DegreeProperty: "x"}, 1)
	assert.True(t, errors.Is(err, gds.ErrTransient))

	e.SetFault(nil)
	e.Reset()
	exists, err := e.Exists(ctx, "base")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFamilyConnectionRatios(t *testing.T) {
	e := memgraphtest.ToyEngine()
	q := gds.FCRQuery{
		PrimaryIDs: []gds.PersistentID{1, 2},
		Communities: map[gds.PersistentID]int64{
			1: 0, 3: 0, 4: 0, 7: 0,
			2: 1, 6: 1, 8: 1,
		},
		StartMs: *memgraphtest.Year(2014),
		EndMs:   *memgraphtest.Year(2017),
	}
	ratios, err := e.FamilyConnectionRatios(context.Background(), q)
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, ratios[1], 1e-9, "two of three co-community owners have trusted kinship")
	assert.Equal(t, 0.0, ratios[2], "imputed kinship does not count")

	q.Communities[7] = 5
	ratios, err = e.FamilyConnectionRatios(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ratios[1], "owners outside the community are ignored")

	q.StartMs, q.EndMs = *memgraphtest.Year(1990), *memgraphtest.Year(1991)
	ratios, err = e.FamilyConnectionRatios(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 0.0, ratios[1], "no active owners yields zero")
}

func TestPersonsAndLinks(t *testing.T) {
	ctx := context.Background()
	e := memgraphtest.ToyEngine()
	ids := []gds.PersistentID{1, 3, 4, 5, 6, 10}

	persons, err := e.Persons(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, persons, 5, "banks carry no surname")

	links, err := e.Links(ctx, ids)
	require.NoError(t, err)
	kinds := map[gds.LinkKind]int{}
	for _, l := range links {
		kinds[l.Kind]++
	}
	assert.Equal(t, 2, kinds[gds.LinkTrustedKinship])
	assert.Equal(t, 1, kinds[gds.LinkImputedKinship])
}

func TestWriteInferredLinksIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := memgraphtest.ToyEngine()
	wb := gds.WriteBack{
		RunID:  "run-1",
		Window: "rw_2014_2016",
		Links:  []gds.InferredLink{{Source: 4, Target: 5, Probability: 0.9, Variant: "string_only"}},
	}

	for i := 0; i < 2; i++ {
		n, err := e.WriteInferredLinks(ctx, wb)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	predicted := 0
	for _, r := range e.Relationships() {
		if r.Provenance == "logistic_pred" {
			predicted++
		}
	}
	assert.Equal(t, 1, predicted)

	links, err := e.Links(ctx, []gds.PersistentID{4, 5})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, gds.LinkImputedKinship, links[0].Kind, "predicted edges are never trusted")
}

func TestSaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	nodes, rels := memgraphtest.Toy()
	require.NoError(t, memgraph.SaveDir(dir, nodes, rels))

	e, err := memgraph.Open(memgraphtest.Schema(), dir)
	require.NoError(t, err)
	info := projectToy(t, e)
	assert.EqualValues(t, 10, info.NodeCount)
	assert.EqualValues(t, 10, info.RelationshipCount)
}
