package linkpred

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ownership-graph/rollwin/internal/evaluation"
)

// Standardizer centres each column and scales it to unit variance. Constant
// columns keep a scale of 1.
type Standardizer struct {
	Mean  []float64
	Scale []float64
}

func FitStandardizer(x *mat.Dense) Standardizer {
	rows, cols := x.Dims()
	s := Standardizer{Mean: make([]float64, cols), Scale: make([]float64, cols)}
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = mean
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Scale[j] = std
	}
	return s
}

func (s Standardizer) Transform(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, x)
	return out
}

type FitOptions struct {
	C             float64
	MaxIterations int
	LearningRate  float64
}

// Logistic is an L2-regularised logistic regression with balanced class
// weights, fitted by full-batch gradient descent.
type Logistic struct {
	Weights []float64
	Bias    float64
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func FitLogistic(x *mat.Dense, y []float64, opts FitOptions) Logistic {
	n, d := x.Dims()
	if opts.C <= 0 {
		opts.C = 1
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 500
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.5
	}

	pos := floats.Sum(y)
	neg := float64(n) - pos
	sampleWeight := make([]float64, n)
	for i, label := range y {
		if label == 1 {
			sampleWeight[i] = float64(n) / (2 * pos)
		} else {
			sampleWeight[i] = float64(n) / (2 * neg)
		}
	}

	w := mat.NewVecDense(d, nil)
	grad := mat.NewVecDense(d, nil)
	z := mat.NewVecDense(n, nil)
	residual := mat.NewVecDense(n, nil)
	bias := 0.0
	scale := 1 / float64(n)
	penalty := 1 / (opts.C * float64(n))

	for iter := 0; iter < opts.MaxIterations; iter++ {
		z.MulVec(x, w)
		for i := 0; i < n; i++ {
			p := sigmoid(z.AtVec(i) + bias)
			residual.SetVec(i, sampleWeight[i]*(p-y[i]))
		}
		grad.MulVec(x.T(), residual)
		grad.ScaleVec(scale, grad)
		grad.AddScaledVec(grad, penalty, w)
		gradBias := mat.Sum(residual) * scale

		w.AddScaledVec(w, -opts.LearningRate, grad)
		bias -= opts.LearningRate * gradBias

		if mat.Norm(grad, 2) < 1e-6 && math.Abs(gradBias) < 1e-6 {
			break
		}
	}

	weights := make([]float64, d)
	copy(weights, w.RawVector().Data)
	return Logistic{Weights: weights, Bias: bias}
}

func (m Logistic) Probabilities(x *mat.Dense) []float64 {
	n, _ := x.Dims()
	z := mat.NewVecDense(n, nil)
	z.MulVec(x, mat.NewVecDense(len(m.Weights), m.Weights))
	out := make([]float64, n)
	for i := range out {
		out[i] = sigmoid(z.AtVec(i) + m.Bias)
	}
	return out
}

// stratifiedSplit keeps the class balance of labels in both halves. A class
// with a single member goes to the training half.
func stratifiedSplit(labels []float64, testFraction float64, rng *rand.Rand) (train, test []int) {
	for _, class := range byClass(labels, rng) {
		k := int(math.Round(testFraction * float64(len(class))))
		if len(class) >= 2 {
			k = min(max(k, 1), len(class)-1)
		} else {
			k = 0
		}
		test = append(test, class[:k]...)
		train = append(train, class[k:]...)
	}
	return train, test
}

// stratifiedFolds deals each class round-robin into k folds.
func stratifiedFolds(labels []float64, k int, rng *rand.Rand) [][]int {
	folds := make([][]int, k)
	for _, class := range byClass(labels, rng) {
		for i, idx := range class {
			folds[i%k] = append(folds[i%k], idx)
		}
	}
	return folds
}

func byClass(labels []float64, rng *rand.Rand) [2][]int {
	var classes [2][]int
	for i, l := range labels {
		c := 0
		if l == 1 {
			c = 1
		}
		classes[c] = append(classes[c], i)
	}
	for _, class := range classes {
		rng.Shuffle(len(class), func(i, j int) { class[i], class[j] = class[j], class[i] })
	}
	return classes
}

func minorityCount(labels []float64) int {
	pos := int(floats.Sum(labels))
	return min(pos, len(labels)-pos)
}

func subset(x *mat.Dense, y []float64, idx []int) (*mat.Dense, []float64) {
	_, cols := x.Dims()
	out := mat.NewDense(len(idx), cols, nil)
	labels := make([]float64, len(idx))
	for i, r := range idx {
		out.SetRow(i, x.RawRowView(r))
		labels[i] = y[r]
	}
	return out, labels
}

func asBools(y []float64) []bool {
	out := make([]bool, len(y))
	for i, v := range y {
		out[i] = v == 1
	}
	return out
}

// crossValidate returns the C with the best mean fold AUC. Ties keep the
// earlier grid entry; folds with a single class are ignored.
func crossValidate(x *mat.Dense, y []float64, grid []float64, folds int, opts FitOptions, rng *rand.Rand) float64 {
	k := min(folds, minorityCount(y))
	if k < 2 || len(grid) == 0 {
		return 1
	}
	split := stratifiedFolds(y, k, rng)

	bestC, bestAUC := grid[0], math.Inf(-1)
	for _, c := range grid {
		opts.C = c
		var aucs []float64
		for f := range split {
			var trainIdx []int
			for g := range split {
				if g != f {
					trainIdx = append(trainIdx, split[g]...)
				}
			}
			xTrain, yTrain := subset(x, y, trainIdx)
			xVal, yVal := subset(x, y, split[f])
			if minorityCount(yTrain) == 0 {
				continue
			}
			std := FitStandardizer(xTrain)
			model := FitLogistic(std.Transform(xTrain), yTrain, opts)
			auc, err := evaluation.ROCAUC(model.Probabilities(std.Transform(xVal)), asBools(yVal))
			if err != nil {
				continue
			}
			aucs = append(aucs, auc)
		}
		if len(aucs) == 0 {
			continue
		}
		if mean := stat.Mean(aucs, nil); mean > bestAUC {
			bestC, bestAUC = c, mean
		}
	}
	return bestC
}
