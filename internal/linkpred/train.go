package linkpred

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/ownership-graph/rollwin/internal/evaluation"
	"github.com/ownership-graph/rollwin/internal/gds"
)

type TrainOptions struct {
	TestSplit     float64
	CVFolds       int
	CGrid         []float64
	Beta          float64
	MaxIterations int
	LearningRate  float64
	Seed          uint64
}

// Result is one variant's fitted model and held-out report.
type Result struct {
	Variant      Variant
	C            float64
	Report       evaluation.Report
	Model        Logistic
	Standardizer Standardizer
	TrainSize    int
	TestSize     int
}

// Train fits one variant. Labels with a single class in either half yield
// evaluation.ErrDegenerateLabels.
func Train(v Variant, nf NodeFeatures, samples []Candidate, opts TrainOptions) (Result, error) {
	x := nf.Matrix(v, samples)
	if x == nil {
		return Result{}, fmt.Errorf("variant %s has no feature columns", v.Name)
	}
	y := make([]float64, len(samples))
	for i, s := range samples {
		y[i] = float64(s.Label)
	}
	if minorityCount(y) == 0 {
		return Result{}, evaluation.ErrDegenerateLabels
	}

	rng := rand.New(rand.NewPCG(opts.Seed, uint64(len(samples))))
	trainIdx, testIdx := stratifiedSplit(y, opts.TestSplit, rng)
	xTrain, yTrain := subset(x, y, trainIdx)
	xTest, yTest := subset(x, y, testIdx)
	if minorityCount(yTrain) == 0 || minorityCount(yTest) == 0 {
		return Result{}, evaluation.ErrDegenerateLabels
	}

	fit := FitOptions{MaxIterations: opts.MaxIterations, LearningRate: opts.LearningRate}
	fit.C = crossValidate(xTrain, yTrain, opts.CGrid, opts.CVFolds, fit, rng)

	std := FitStandardizer(xTrain)
	model := FitLogistic(std.Transform(xTrain), yTrain, fit)
	report, err := evaluation.Evaluate(model.Probabilities(std.Transform(xTest)), asBools(yTest), opts.Beta)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Variant:      v,
		C:            fit.C,
		Report:       report,
		Model:        model,
		Standardizer: std,
		TrainSize:    len(trainIdx),
		TestSize:     len(testIdx),
	}, nil
}

func (r Result) predict(x *mat.Dense) []float64 {
	return r.Model.Probabilities(r.Standardizer.Transform(x))
}

// HorseRace picks the highest AUC, then the highest F-beta, then the earliest
// result.
func HorseRace(results []Result) (Result, bool) {
	if len(results) == 0 {
		return Result{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Report.AUC > best.Report.AUC ||
			(r.Report.AUC == best.Report.AUC && r.Report.FBeta > best.Report.FBeta) {
			best = r
		}
	}
	return best, true
}

// Score applies the winner to every candidate and keeps those at or above
// its threshold, most probable first.
func Score(winner Result, nf NodeFeatures, candidates []Candidate) []gds.InferredLink {
	x := nf.Matrix(winner.Variant, candidates)
	if x == nil {
		return nil
	}
	probs := winner.predict(x)

	var out []gds.InferredLink
	for i, c := range candidates {
		if probs[i] >= winner.Report.Threshold {
			out = append(out, gds.InferredLink{
				Source:      c.Source,
				Target:      c.Target,
				Probability: probs[i],
				Variant:     winner.Variant.Name,
			})
		}
	}
	slices.SortFunc(out, func(a, b gds.InferredLink) int {
		if c := cmp.Compare(b.Probability, a.Probability); c != 0 {
			return c
		}
		return comparePairs(Pair{a.Source, a.Target}, Pair{b.Source, b.Target})
	})
	return out
}
