// Package evaluation scores binary classifiers: ROC-AUC, confusion counts,
// and F-beta threshold selection.
package evaluation

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

var ErrDegenerateLabels = errors.New("labels contain a single class")

type Report struct {
	AUC       float64
	Threshold float64
	Recall    float64
	Precision float64
	FBeta     float64
	Accuracy  float64
	Positives int
	Negatives int
}

func (r Report) Summary() string {
	return fmt.Sprintf("auc=%.3f threshold=%.2f recall=%.3f precision=%.3f fbeta=%.3f accuracy=%.3f (pos=%d neg=%d)",
		r.AUC, r.Threshold, r.Recall, r.Precision, r.FBeta, r.Accuracy, r.Positives, r.Negatives)
}

type Counts struct {
	TP, FP, TN, FN int
}

func (c Counts) Recall() float64 {
	return ratio(c.TP, c.TP+c.FN)
}

func (c Counts) Precision() float64 {
	return ratio(c.TP, c.TP+c.FP)
}

func (c Counts) Accuracy() float64 {
	return ratio(c.TP+c.TN, c.TP+c.TN+c.FP+c.FN)
}

// FBeta weights recall beta times as much as precision.
func (c Counts) FBeta(beta float64) float64 {
	p, r := c.Precision(), c.Recall()
	b2 := beta * beta
	if p == 0 && r == 0 {
		return 0
	}
	return (1 + b2) * p * r / (b2*p + r)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func ConfusionAt(scores []float64, labels []bool, threshold float64) Counts {
	var c Counts
	for i, s := range scores {
		predicted := s >= threshold
		switch {
		case predicted && labels[i]:
			c.TP++
		case predicted:
			c.FP++
		case labels[i]:
			c.FN++
		default:
			c.TN++
		}
	}
	return c
}

// ThresholdGrid is 0.10, 0.15, ..., 0.85.
func ThresholdGrid() []float64 {
	grid := make([]float64, 0, 16)
	for i := 0; i < 16; i++ {
		grid = append(grid, math.Round((0.10+0.05*float64(i))*100)/100)
	}
	return grid
}

func classBalance(labels []bool) (pos, neg int) {
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	return pos, neg
}

func ROCAUC(scores []float64, labels []bool) (float64, error) {
	if len(scores) != len(labels) {
		return 0, fmt.Errorf("scores and labels differ in length: %d != %d", len(scores), len(labels))
	}
	if pos, neg := classBalance(labels); pos == 0 || neg == 0 {
		return 0, ErrDegenerateLabels
	}

	y := slices.Clone(scores)
	classes := slices.Clone(labels)
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// BestThreshold picks the grid threshold with the highest F-beta. Ties keep
// the lower threshold.
func BestThreshold(scores []float64, labels []bool, beta float64, grid []float64) (float64, Counts) {
	best, bestCounts, bestScore := grid[0], ConfusionAt(scores, labels, grid[0]), math.Inf(-1)
	for _, t := range grid {
		c := ConfusionAt(scores, labels, t)
		if f := c.FBeta(beta); f > bestScore {
			best, bestCounts, bestScore = t, c, f
		}
	}
	return best, bestCounts
}

func Evaluate(scores []float64, labels []bool, beta float64) (Report, error) {
	auc, err := ROCAUC(scores, labels)
	if err != nil {
		return Report{}, err
	}
	threshold, c := BestThreshold(scores, labels, beta, ThresholdGrid())
	pos, neg := classBalance(labels)
	return Report{
		AUC:       auc,
		Threshold: threshold,
		Recall:    c.Recall(),
		Precision: c.Precision(),
		FBeta:     c.FBeta(beta),
		Accuracy:  c.Accuracy(),
		Positives: pos,
		Negatives: neg,
	}, nil
}

func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	normA, normB := floats.Norm(a, 2), floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}
