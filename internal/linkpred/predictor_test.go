package linkpred

import (
	"context"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ownership-graph/rollwin/internal/algorithms"
	"github.com/ownership-graph/rollwin/internal/evaluation"
	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/idmap"
	"github.com/ownership-graph/rollwin/internal/window"
	"github.com/ownership-graph/rollwin/pkg/config"
)

type fakeStore struct {
	gds.Store
	persons []gds.Person
	links   []gds.Link
}

func (s *fakeStore) Persons(_ context.Context, ids []gds.PersistentID) ([]gds.Person, error) {
	var out []gds.Person
	for _, p := range s.persons {
		if slices.Contains(ids, p.ID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) Links(_ context.Context, ids []gds.PersistentID) ([]gds.Link, error) {
	var out []gds.Link
	for _, l := range s.links {
		if slices.Contains(ids, l.Source) && slices.Contains(ids, l.Target) {
			out = append(out, l)
		}
	}
	return out, nil
}

var (
	surnames    = []string{"ПЕТРОВ", "ПЕТРЕНКО", "ПЕТУХОВ", "ПЕТРОВСКИЙ"}
	patronymics = []string{"ИВАНОВИЧ", "СЕРГЕЕВИЧ", "ОЛЕГОВИЧ", "АНДРЕЕВИЧ", "ПАВЛОВИЧ", "НИКОЛАЕВИЧ", "ЮРЬЕВИЧ", "ДМИТРИЕВИЧ"}
	firstNames  = []string{"АНТОН", "БОРИС", "ВИКТОР", "ГЛЕБ", "ДЕНИС"}
)

// families builds 40 sibling pairs sharing surname and patronymic, each pair
// linked by trusted kinship, plus one imputed and one similarity link.
func families() *fakeStore {
	s := &fakeStore{}
	for f := 0; f < 40; f++ {
		a := gds.PersistentID(100 + 2*f)
		b := a + 1
		for i, id := range []gds.PersistentID{a, b} {
			s.persons = append(s.persons, gds.Person{
				ID:         id,
				FirstName:  firstNames[(f+i)%len(firstNames)],
				LastName:   surnames[f%len(surnames)],
				Patronymic: patronymics[f%len(patronymics)],
			})
		}
		s.links = append(s.links, gds.Link{Source: a, Target: b, Kind: gds.LinkTrustedKinship})
	}
	s.links = append(s.links,
		gds.Link{Source: 100, Target: 116, Kind: gds.LinkImputedKinship},
		gds.Link{Source: 102, Target: 118, Kind: gds.LinkSimilarity},
	)
	return s
}

func rowsFor(s *fakeStore) []idmap.Row {
	rows := []idmap.Row{{ID: 1, Values: map[string]any{gds.PropIsPrimary: 1.0}}}
	for _, p := range s.persons {
		rows = append(rows, idmap.Row{ID: p.ID, Values: map[string]any{gds.PropIsPrimary: 0.0}})
	}
	return rows
}

func testConfig() config.LinkPredictionConfig {
	cfg := config.Default().LinkPrediction
	cfg.Enabled = true
	cfg.MinTrainingSamples = 20
	cfg.MaxIterations = 200
	cfg.Variants = []string{"fastrp_only", "string_only"}
	return cfg
}

func testWindow(t *testing.T) window.Window {
	t.Helper()
	s, err := window.NewSchedule(2014, 2017, 3, 1)
	require.NoError(t, err)
	return s.All()[0]
}

func TestGenerateCandidates_ExcludesLinkedPairs(t *testing.T) {
	s := families()
	cfg := testConfig()
	p, err := NewPredictor(s, cfg)
	require.NoError(t, err)

	candidates := GenerateCandidates(s.persons, s.links, p.candidateOptions())
	require.NotEmpty(t, candidates)

	linked := make(map[Pair]bool)
	for _, l := range s.links {
		linked[newPair(l.Source, l.Target)] = true
	}
	for i, c := range candidates {
		assert.Less(t, c.Source, c.Target)
		assert.False(t, linked[c.Pair], "pair %v already linked", c.Pair)
		assert.True(t, c.LastNameSim >= cfg.MinLastNameSim || c.PatronymicSim >= cfg.MinPatronymicSim)
		if i > 0 {
			assert.Negative(t, comparePairs(candidates[i-1].Pair, c.Pair))
		}
	}
}

func TestGenerateCandidates_CommonSurnameAndBlocking(t *testing.T) {
	persons := []gds.Person{
		{ID: 1, LastName: "Иванов", Patronymic: "Петрович"},
		{ID: 2, LastName: "Иванова", Patronymic: "Петровна"},
		{ID: 3, LastName: "Сидоров", Patronymic: "Петрович"},
	}
	out := GenerateCandidates(persons, nil, CandidateOptions{
		BlockingPrefixLen: 3,
		MinLastNameSim:    0.8,
		MinPatronymicSim:  0.8,
		CommonSurnames:    []string{"ИВАНОВ"},
	})
	require.Len(t, out, 1, "Сидоров lands in another block")
	assert.Equal(t, Pair{Source: 1, Target: 2}, out[0].Pair)
	assert.Equal(t, 1.0, out[0].LastNameSim)
	assert.Equal(t, 1.0, out[0].CommonSurname)
}

func TestBuildTrainingSet(t *testing.T) {
	s := families()
	opts := TrainingOptions{CandidateOptions: CandidateOptions{BlockingPrefixLen: 3, MinLastNameSim: 0.8, MinPatronymicSim: 0.8}, MaxNegativeRatio: 1, Seed: 7}
	candidates := GenerateCandidates(s.persons, s.links, opts.CandidateOptions)

	samples, err := BuildTrainingSet(candidates, s.links, s.persons, opts)
	require.NoError(t, err)

	var pos, neg int
	for _, c := range samples {
		if c.Label == 1 {
			pos++
		} else {
			neg++
		}
		for _, v := range []float64{c.LastNameSim, c.PatronymicSim, c.SiblingSim, c.FirstNameSim, c.CommonSurname} {
			assert.False(t, math.IsNaN(v))
		}
	}
	assert.Equal(t, 40, pos, "imputed and similarity links are not labels")
	assert.Equal(t, 40, neg)

	again, err := BuildTrainingSet(candidates, s.links, s.persons, opts)
	require.NoError(t, err)
	assert.Equal(t, samples, again, "sampling is seeded")
}

func TestBuildTrainingSet_DetectsLeak(t *testing.T) {
	s := families()
	leaked := []Candidate{{Pair: newPair(101, 100)}}
	_, err := BuildTrainingSet(leaked, s.links, s.persons, TrainingOptions{})
	assert.ErrorIs(t, err, ErrLabelLeak)

	_, err = BuildTrainingSet(leaked, nil, s.persons, TrainingOptions{})
	assert.ErrorIs(t, err, ErrNoPositives)
}

func TestMatrix_MissingEmbeddingsAreZero(t *testing.T) {
	produced := algorithms.Produced{Properties: []algorithms.Property{
		{Name: algorithms.FastRP, Kind: gds.Vector, Dimension: 3},
		{Name: algorithms.Louvain, Kind: gds.Scalar},
	}}
	rows := []idmap.Row{
		{ID: 1, Values: map[string]any{algorithms.FastRP: []float64{1, 2, 3}, algorithms.Louvain: int64(4)}},
		{ID: 2, Values: map[string]any{algorithms.FastRP: []float64{1, math.NaN(), 3}, algorithms.Louvain: 4.0}},
	}
	nf := NewNodeFeatures(rows, produced)
	v := Variant{Name: "t", Groups: []string{GroupFastRP, GroupLouvain, GroupString}}

	x := nf.Matrix(v, []Candidate{{Pair: newPair(1, 2)}, {Pair: newPair(1, 9)}})
	require.NotNil(t, x)
	r, c := x.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3+2+1+5, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.False(t, math.IsNaN(x.At(i, j)), "cell %d,%d", i, j)
		}
	}
	assert.Equal(t, []float64{1, 0, 9}, mat.Row(nil, 0, x)[:3])
	assert.Equal(t, 1.0, x.At(0, 5), "same community")
	assert.Equal(t, 0.0, x.At(1, 5), "unknown person has no community")
	assert.Equal(t, []float64{0, 0, 0}, mat.Row(nil, 1, x)[:3])
}

func TestVariants(t *testing.T) {
	vs, err := Variants(config.Default().LinkPrediction.Variants)
	require.NoError(t, err)
	assert.Len(t, vs, 8)

	_, err = Variants([]string{"magic"})
	assert.Error(t, err)

	full := Variant{Name: "fastrp_string_full", Groups: builtinVariants["fastrp_string_full"]}
	missing := full.Missing(algorithms.Produced{Properties: []algorithms.Property{{Name: algorithms.FastRP}}})
	assert.Contains(t, missing, algorithms.Louvain)
	assert.Contains(t, missing, algorithms.PageRank)
	assert.NotContains(t, missing, algorithms.FastRP)
}

func TestFitLogistic_SeparatesClasses(t *testing.T) {
	n := 60
	data := make([]float64, 0, 2*n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		shift := -1.0
		if i%2 == 0 {
			y[i] = 1
			shift = 1
		}
		data = append(data, shift+0.1*float64(i%5), float64(i%3))
	}
	x := mat.NewDense(n, 2, data)
	std := FitStandardizer(x)
	m := FitLogistic(std.Transform(x), y, FitOptions{C: 1, MaxIterations: 300, LearningRate: 0.5})

	auc, err := evaluation.ROCAUC(m.Probabilities(std.Transform(x)), asBools(y))
	require.NoError(t, err)
	assert.Greater(t, auc, 0.99)
	assert.Greater(t, m.Weights[0], 0.0)
}

func TestHorseRace(t *testing.T) {
	_, ok := HorseRace(nil)
	assert.False(t, ok)

	results := []Result{
		{Variant: Variant{Name: "a"}, Report: evaluation.Report{AUC: 0.8, FBeta: 0.5}},
		{Variant: Variant{Name: "b"}, Report: evaluation.Report{AUC: 0.9, FBeta: 0.4}},
		{Variant: Variant{Name: "c"}, Report: evaluation.Report{AUC: 0.9, FBeta: 0.6}},
		{Variant: Variant{Name: "d"}, Report: evaluation.Report{AUC: 0.9, FBeta: 0.6}},
	}
	best, ok := HorseRace(results)
	require.True(t, ok)
	assert.Equal(t, "c", best.Variant.Name)
}

func TestTracker(t *testing.T) {
	tr := NewTracker("w")
	require.NoError(t, tr.Advance(StateFeaturesBuilt))
	assert.ErrorIs(t, tr.Advance(StateScored), ErrInvalidTransition)
	require.NoError(t, tr.Advance(StateTrained))
	require.NoError(t, tr.Advance(StateBestSelected))
	require.NoError(t, tr.Advance(StateScored))
	require.NoError(t, tr.Advance(StateExported))
	assert.True(t, tr.Terminal())
	assert.ErrorIs(t, tr.Advance(StateSkipped), ErrInvalidTransition)
	assert.Equal(t, []State{StateProjected, StateFeaturesBuilt, StateTrained, StateBestSelected, StateScored, StateExported}, tr.History())

	skipped := NewTracker("w")
	require.NoError(t, skipped.Advance(StateSkipped))
	assert.ErrorIs(t, skipped.Advance(StateFeaturesBuilt), ErrInvalidTransition)
}

func TestPredictor_Run(t *testing.T) {
	s := families()
	p, err := NewPredictor(s, testConfig())
	require.NoError(t, err)

	out, err := p.Run(context.Background(), testWindow(t), rowsFor(s), algorithms.Produced{})
	require.NoError(t, err)
	require.Equal(t, StateScored, out.State(), out.SkipReason)
	require.NotNil(t, out.Best)
	assert.Equal(t, "string_only", out.Best.Variant.Name)
	assert.Equal(t, 80, out.Samples)

	require.Len(t, out.Variants, 2)
	assert.Equal(t, "fastrp_only", out.Variants[0].Variant)
	assert.Contains(t, out.Variants[0].Skipped, algorithms.FastRP)

	linked := make(map[Pair]bool)
	for _, l := range s.links {
		linked[newPair(l.Source, l.Target)] = true
	}
	for i, l := range out.Predictions {
		assert.GreaterOrEqual(t, l.Probability, out.Best.Report.Threshold)
		assert.False(t, linked[newPair(l.Source, l.Target)])
		assert.NotEqual(t, gds.PersistentID(1), l.Source, "primary entities are never scored")
		if i > 0 {
			assert.GreaterOrEqual(t, out.Predictions[i-1].Probability, l.Probability)
		}
	}
	require.NoError(t, out.MarkExported())
	assert.Equal(t, StateExported, out.State())
}

func TestPredictor_SkipsWithoutLabels(t *testing.T) {
	s := families()
	s.links = nil
	p, err := NewPredictor(s, testConfig())
	require.NoError(t, err)

	out, err := p.Run(context.Background(), testWindow(t), rowsFor(s), algorithms.Produced{})
	require.NoError(t, err)
	assert.True(t, out.Skipped())
	assert.Empty(t, out.Predictions)
	assert.ErrorIs(t, out.MarkExported(), ErrInvalidTransition)
}

func TestPredictor_SkipsSmallTrainingSet(t *testing.T) {
	s := families()
	cfg := testConfig()
	cfg.MinTrainingSamples = 1000
	p, err := NewPredictor(s, cfg)
	require.NoError(t, err)

	out, err := p.Run(context.Background(), testWindow(t), rowsFor(s), algorithms.Produced{})
	require.NoError(t, err)
	assert.True(t, out.Skipped())
	assert.Contains(t, out.SkipReason, "need 1000")
}
