package linkpred

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/ownership-graph/rollwin/internal/gds"
)

var (
	ErrLabelLeak       = errors.New("candidate pair overlaps a labelled kinship pair")
	ErrNoPositives     = errors.New("no trusted kinship pairs among persons")
	ErrTooFewSamples   = errors.New("training set below minimum size")
	ErrNoUsableVariant = errors.New("every feature variant was skipped")
)

type TrainingOptions struct {
	CandidateOptions
	MaxNegativeRatio float64
	Seed             uint64
}

// BuildTrainingSet labels trusted kinship pairs as positives and samples
// negatives from the candidates. Candidates never share a pair with a
// positive since they exclude every linked pair.
func BuildTrainingSet(candidates []Candidate, trusted []gds.Link, persons []gds.Person, opts TrainingOptions) ([]Candidate, error) {
	byID := make(map[gds.PersistentID]gds.Person, len(persons))
	for _, p := range persons {
		byID[p.ID] = p
	}
	common := newSurnameSet(opts.CommonSurnames)

	seen := make(map[Pair]bool)
	var positives []Candidate
	for _, l := range trusted {
		if l.Kind != gds.LinkTrustedKinship {
			continue
		}
		a, okA := byID[l.Source]
		b, okB := byID[l.Target]
		pair := newPair(l.Source, l.Target)
		if !okA || !okB || a.ID == b.ID || seen[pair] {
			continue
		}
		seen[pair] = true
		c := stringFeatures(a, b, common)
		c.Label = 1
		positives = append(positives, c)
	}
	if len(positives) == 0 {
		return nil, ErrNoPositives
	}

	for _, c := range candidates {
		if seen[c.Pair] {
			return nil, fmt.Errorf("%w: %d-%d", ErrLabelLeak, c.Source, c.Target)
		}
	}

	ratio := opts.MaxNegativeRatio
	if ratio <= 0 {
		ratio = 1
	}
	want := min(int(math.Ceil(ratio*float64(len(positives)))), len(candidates))
	negatives := make([]Candidate, len(candidates))
	copy(negatives, candidates)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	rng.Shuffle(len(negatives), func(i, j int) { negatives[i], negatives[j] = negatives[j], negatives[i] })
	negatives = negatives[:want]
	for i := range negatives {
		negatives[i].Label = 0
	}

	out := append(positives, negatives...)
	for i := range out {
		out[i].LastNameSim = finite(out[i].LastNameSim)
		out[i].PatronymicSim = finite(out[i].PatronymicSim)
		out[i].SiblingSim = finite(out[i].SiblingSim)
		out[i].FirstNameSim = finite(out[i].FirstNameSim)
		out[i].CommonSurname = finite(out[i].CommonSurname)
	}
	slices.SortFunc(out, func(x, y Candidate) int { return comparePairs(x.Pair, y.Pair) })
	return out, nil
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
