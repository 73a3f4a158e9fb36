package linkpred

import (
	"cmp"
	"slices"

	"github.com/ownership-graph/rollwin/internal/gds"
)

// Pair is an unordered pair of persons with Source < Target.
type Pair struct {
	Source gds.PersistentID
	Target gds.PersistentID
}

func newPair(a, b gds.PersistentID) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{Source: a, Target: b}
}

func comparePairs(x, y Pair) int {
	if c := cmp.Compare(x.Source, y.Source); c != 0 {
		return c
	}
	return cmp.Compare(x.Target, y.Target)
}

// Candidate is a blocked person pair with its string features. Label is 1 for
// trusted kinship, 0 otherwise.
//
// PatronymicSim compares one person's first name with the other's patronymic,
// the larger of both directions, which is how a parent and child show up.
// SiblingSim compares the two patronymics.
type Candidate struct {
	Pair
	LastNameSim   float64
	PatronymicSim float64
	SiblingSim    float64
	FirstNameSim  float64
	CommonSurname float64
	Label         int
}

type CandidateOptions struct {
	BlockingPrefixLen int
	MinLastNameSim    float64
	MinPatronymicSim  float64
	CommonSurnames    []string
}

func stringFeatures(a, b gds.Person, common surnameSet) Candidate {
	c := Candidate{
		Pair:          newPair(a.ID, b.ID),
		LastNameSim:   Similarity(surnameStem(Normalize(a.LastName)), surnameStem(Normalize(b.LastName))),
		PatronymicSim: max(Similarity(a.FirstName, b.Patronymic), Similarity(b.FirstName, a.Patronymic)),
		SiblingSim:    Similarity(a.Patronymic, b.Patronymic),
		FirstNameSim:  Similarity(a.FirstName, b.FirstName),
	}
	if common.common(a.LastName) || common.common(b.LastName) {
		c.CommonSurname = 1
	}
	return c
}

// GenerateCandidates pairs persons that share a blocking key, are not already
// linked by any stored kinship or similarity edge, and whose surnames or
// first-name/patronymic cross similarity are close enough. Output is ordered by pair.
func GenerateCandidates(persons []gds.Person, existing []gds.Link, opts CandidateOptions) []Candidate {
	linked := make(map[Pair]bool, len(existing))
	for _, l := range existing {
		linked[newPair(l.Source, l.Target)] = true
	}
	common := newSurnameSet(opts.CommonSurnames)

	blocks := make(map[string][]gds.Person)
	for _, p := range persons {
		key := BlockingKey(surnameStem(Normalize(p.LastName)), opts.BlockingPrefixLen)
		if key == "" {
			continue
		}
		blocks[key] = append(blocks[key], p)
	}

	var out []Candidate
	for _, block := range blocks {
		slices.SortFunc(block, func(x, y gds.Person) int { return cmp.Compare(x.ID, y.ID) })
		for i := 0; i < len(block); i++ {
			for j := i + 1; j < len(block); j++ {
				if block[i].ID == block[j].ID || linked[newPair(block[i].ID, block[j].ID)] {
					continue
				}
				c := stringFeatures(block[i], block[j], common)
				if c.LastNameSim >= opts.MinLastNameSim || c.PatronymicSim >= opts.MinPatronymicSim {
					out = append(out, c)
				}
			}
		}
	}
	slices.SortFunc(out, func(x, y Candidate) int { return comparePairs(x.Pair, y.Pair) })
	return out
}
