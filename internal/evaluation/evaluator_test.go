package evaluation

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestROCAUC(t *testing.T) {
	auc, err := ROCAUC([]float64{0.9, 0.8, 0.2, 0.1}, []bool{true, true, false, false})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, auc, 1e-9)

	auc, err = ROCAUC([]float64{0.1, 0.2, 0.8, 0.9}, []bool{true, true, false, false})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, auc, 1e-9)

	_, err = ROCAUC([]float64{0.1, 0.2}, []bool{true, true})
	assert.ErrorIs(t, err, ErrDegenerateLabels)
}

func TestThresholdGrid(t *testing.T) {
	grid := ThresholdGrid()
	require.Len(t, grid, 16)
	assert.Equal(t, 0.10, grid[0])
	assert.Equal(t, 0.85, grid[len(grid)-1])
	assert.Equal(t, 0.45, grid[7])
}

func TestRecallMonotoneInThreshold(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	scores := make([]float64, 200)
	labels := make([]bool, 200)
	for i := range scores {
		scores[i] = rng.Float64()
		labels[i] = rng.Float64() < scores[i]
	}

	prev := 2.0
	for _, th := range ThresholdGrid() {
		r := ConfusionAt(scores, labels, th).Recall()
		assert.LessOrEqual(t, r, prev, "recall rose at threshold %.2f", th)
		prev = r
	}
}

func TestFBetaFavoursRecall(t *testing.T) {
	highRecall := Counts{TP: 9, FN: 1, FP: 9}
	highPrecision := Counts{TP: 5, FN: 5, FP: 0}
	assert.Greater(t, highRecall.FBeta(2), highPrecision.FBeta(2))
	assert.Less(t, highRecall.FBeta(0.5), highPrecision.FBeta(0.5))
	assert.Zero(t, Counts{TN: 3}.FBeta(2))
}

func TestEvaluate(t *testing.T) {
	scores := []float64{0.95, 0.7, 0.6, 0.4, 0.3, 0.05}
	labels := []bool{true, true, false, true, false, false}

	r, err := Evaluate(scores, labels, 2)
	require.NoError(t, err)
	assert.InDelta(t, 8.0/9.0, r.AUC, 1e-9)
	assert.Equal(t, 3, r.Positives)
	assert.Equal(t, 3, r.Negatives)
	assert.Equal(t, 1.0, r.Recall, "beta=2 prefers catching every positive")
	assert.Contains(t, r.Summary(), "auc=0.889")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.Zero(t, CosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.Zero(t, CosineSimilarity([]float64{1}, []float64{1, 2}))
}
