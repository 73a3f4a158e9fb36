package fcr

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/idmap"
	"github.com/ownership-graph/rollwin/internal/kg/memgraph/memgraphtest"
	"github.com/ownership-graph/rollwin/internal/window"
)

type stubStore struct {
	gds.Store
	ratios map[gds.PersistentID]float64
	got    gds.FCRQuery
}

func (s *stubStore) FamilyConnectionRatios(_ context.Context, q gds.FCRQuery) (map[gds.PersistentID]float64, error) {
	s.got = q
	return s.ratios, nil
}

func toyWindow(t *testing.T) window.Window {
	t.Helper()
	s, err := window.NewSchedule(2014, 2017, 3, 1)
	require.NoError(t, err)
	return s.All()[0]
}

func TestCompute_BoundsAndMissing(t *testing.T) {
	store := &stubStore{ratios: map[gds.PersistentID]float64{
		1: 0.5,
		2: 1.7,
		3: -0.2,
		4: math.NaN(),
	}}
	c := NewCalculator(store, "")
	w := toyWindow(t)

	out, err := c.Compute(context.Background(), w, []gds.PersistentID{1, 2, 3, 4, 5}, nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultColumn, c.Column())
	assert.Equal(t, 0.5, out[1])
	assert.Equal(t, 1.0, out[2])
	assert.Equal(t, 0.0, out[3])
	assert.Equal(t, 0.0, out[4])
	assert.Contains(t, out, gds.PersistentID(5))
	assert.Equal(t, 0.0, out[5])
	for _, v := range out {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Equal(t, w.StartMs, store.got.StartMs)
	assert.Equal(t, w.EndMs, store.got.EndMs)
}

func TestCompute_NoPrimaries(t *testing.T) {
	store := &stubStore{}
	out, err := NewCalculator(store, "fcr").Compute(context.Background(), toyWindow(t), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Nil(t, store.got.PrimaryIDs, "no query issued")
}

func TestCompute_AgainstStoredGraph(t *testing.T) {
	e := memgraphtest.ToyEngine()
	communities := map[gds.PersistentID]int64{1: 0, 3: 0, 4: 0, 7: 0, 5: 0, 2: 1, 6: 1, 8: 1}

	out, err := NewCalculator(e, "").Compute(context.Background(), toyWindow(t), []gds.PersistentID{1, 2}, communities)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, out[1], 1e-9)
	assert.Equal(t, 0.0, out[2], "bank whose owners lack trusted kinship")
}

func TestHelpers(t *testing.T) {
	rows := []idmap.Row{
		{ID: 1, Values: map[string]any{gds.PropIsPrimary: 1.0, "louvain": int64(3)}},
		{ID: 2, Values: map[string]any{gds.PropIsPrimary: 0.0, "louvain": 4.0}},
		{ID: 3, Values: map[string]any{gds.PropIsPrimary: 1.0}},
	}
	assert.Equal(t, []gds.PersistentID{1, 3}, Primaries(rows))
	assert.Equal(t, map[gds.PersistentID]int64{1: 3, 2: 4}, Communities(rows, "louvain"))
}
