package memgraph

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/ownership-graph/rollwin/internal/gds"
)

func run(g *graph, alg gds.Algorithm) ([]any, error) {
	weightProp := alg.Text("relationshipWeightProperty", "")
	switch alg.Name {
	case gds.AlgDegree:
		return scalars(degree(g, alg.Text("orientation", "NATURAL"), weightProp)), nil
	case gds.AlgPageRank:
		return scalars(pageRank(g, alg.Float("dampingFactor", 0.85), alg.Int("maxIterations", 20), weightProp)), nil
	case gds.AlgBetweenness:
		return scalars(betweenness(g)), nil
	case gds.AlgCloseness:
		return scalars(closeness(g)), nil
	case gds.AlgEigenvector:
		return scalars(eigenvector(g, alg.Int("maxIterations", 20), weightProp)), nil
	case gds.AlgWCC:
		return labels(wcc(g)), nil
	case gds.AlgLouvain:
		return labels(louvain(g, alg.Int("maxIterations", 10), weightProp)), nil
	case gds.AlgFastRP:
		dim := alg.Int("embeddingDimension", 128)
		weights := []float64{0, 1, 1}
		if v, ok := alg.ConfigValue("iterationWeights"); ok {
			if w, ok := v.([]float64); ok {
				weights = w
			}
		}
		return vectors(fastRP(g, dim, weights, uint64(alg.Int("randomSeed", 42)))), nil
	}
	return nil, fmt.Errorf("%w: %s", gds.ErrAlgorithmUnavailable, alg.Name)
}

func scalars(v []float64) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

func labels(v []int64) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

func vectors(v [][]float64) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

func relWeight(r *rel, prop string) float64 {
	if prop == "" {
		return 1
	}
	if w, ok := r.props[prop]; ok {
		return w
	}
	return 1
}

func degree(g *graph, orientation, weightProp string) []float64 {
	out := make([]float64, len(g.nodes))
	for _, r := range g.rels {
		w := relWeight(r, weightProp)
		switch orientation {
		case "REVERSE":
			out[r.tgt] += w
		case "UNDIRECTED":
			out[r.src] += w
			out[r.tgt] += w
		default:
			out[r.src] += w
		}
	}
	return out
}

// pageRank uses the unnormalized formulation: every score starts at and is
// floored by 1-d, and dangling mass is not redistributed.
func pageRank(g *graph, damping float64, iterations int, weightProp string) []float64 {
	n := len(g.nodes)
	outWeight := make([]float64, n)
	for _, r := range g.rels {
		outWeight[r.src] += relWeight(r, weightProp)
	}

	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1 - damping
	}
	for it := 0; it < iterations; it++ {
		next := make([]float64, n)
		for i := range next {
			next[i] = 1 - damping
		}
		for _, r := range g.rels {
			if outWeight[r.src] > 0 {
				next[r.tgt] += damping * rank[r.src] * relWeight(r, weightProp) / outWeight[r.src]
			}
		}
		rank = next
	}
	return rank
}

func outAdjacency(g *graph) [][]int {
	adj := make([][]int, len(g.nodes))
	for _, r := range g.rels {
		adj[r.src] = append(adj[r.src], r.tgt)
	}
	return adj
}

// betweenness is Brandes' algorithm over directed, unweighted paths.
func betweenness(g *graph) []float64 {
	n := len(g.nodes)
	adj := outAdjacency(g)
	cb := make([]float64, n)

	for s := 0; s < n; s++ {
		stack := make([]int, 0, n)
		preds := make([][]int, n)
		sigma := make([]float64, n)
		dist := make([]int, n)
		for i := range dist {
			dist[i] = -1
		}
		sigma[s] = 1
		dist[s] = 0
		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range adj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		delta := make([]float64, n)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}
	return cb
}

// closeness is reached/sum(distances) over outgoing shortest paths.
func closeness(g *graph) []float64 {
	n := len(g.nodes)
	adj := outAdjacency(g)
	out := make([]float64, n)
	dist := make([]int, n)

	for s := 0; s < n; s++ {
		for i := range dist {
			dist[i] = -1
		}
		dist[s] = 0
		queue := []int{s}
		var sum, reached float64
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			for _, w := range adj[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					sum += float64(dist[w])
					reached++
					queue = append(queue, w)
				}
			}
		}
		if sum > 0 {
			out[s] = reached / sum
		}
	}
	return out
}

func eigenvector(g *graph, iterations int, weightProp string) []float64 {
	n := len(g.nodes)
	if n == 0 {
		return nil
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = 1 / float64(n)
	}
	for it := 0; it < iterations; it++ {
		next := make([]float64, n)
		for _, r := range g.rels {
			next[r.tgt] += x[r.src] * relWeight(r, weightProp)
		}
		norm := floats.Norm(next, 2)
		if norm == 0 {
			return next
		}
		floats.Scale(1/norm, next)
		x = next
	}
	return x
}

func wcc(g *graph) []int64 {
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for _, r := range g.rels {
		a, b := find(r.src), find(r.tgt)
		if a == b {
			continue
		}
		if a < b {
			parent[b] = a
		} else {
			parent[a] = b
		}
	}
	out := make([]int64, len(g.nodes))
	for i := range out {
		out[i] = int64(find(i))
	}
	return out
}

// louvain runs the local-moving phase of Louvain on the undirected weighted
// graph until no node changes community or iterations run out. Community ids
// are dense in order of first appearance.
func louvain(g *graph, iterations int, weightProp string) []int64 {
	n := len(g.nodes)
	adj := make([]map[int]float64, n)
	for i := range adj {
		adj[i] = make(map[int]float64)
	}
	k := make([]float64, n)
	var m2 float64
	for _, r := range g.rels {
		if r.src == r.tgt {
			continue
		}
		w := relWeight(r, weightProp)
		adj[r.src][r.tgt] += w
		adj[r.tgt][r.src] += w
		k[r.src] += w
		k[r.tgt] += w
		m2 += 2 * w
	}

	community := make([]int, n)
	tot := make([]float64, n)
	for i := range community {
		community[i] = i
		tot[i] = k[i]
	}

	if m2 > 0 {
		for it := 0; it < iterations; it++ {
			moved := false
			for i := 0; i < n; i++ {
				if k[i] == 0 {
					continue
				}
				links := make(map[int]float64)
				for j, w := range adj[i] {
					links[community[j]] += w
				}
				current := community[i]
				tot[current] -= k[i]

				candidates := make([]int, 0, len(links))
				for c := range links {
					candidates = append(candidates, c)
				}
				sort.Ints(candidates)

				best := current
				bestGain := links[current] - tot[current]*k[i]/m2
				for _, c := range candidates {
					gain := links[c] - tot[c]*k[i]/m2
					if gain > bestGain+1e-12 {
						best, bestGain = c, gain
					}
				}
				tot[best] += k[i]
				if best != current {
					community[i] = best
					moved = true
				}
			}
			if !moved {
				break
			}
		}
	}

	dense := make(map[int]int64)
	out := make([]int64, n)
	for i, c := range community {
		id, ok := dense[c]
		if !ok {
			id = int64(len(dense))
			dense[c] = id
		}
		out[i] = id
	}
	return out
}

// fastRP propagates sparse random vectors over the undirected graph and sums
// the L2-normalized iterates with iterationWeights. Initial vectors are
// seeded by persistent id, so an entity starts from the same vector in every
// window.
func fastRP(g *graph, dim int, iterationWeights []float64, seed uint64) [][]float64 {
	n := len(g.nodes)
	neighbors := make([][]int, n)
	for _, r := range g.rels {
		neighbors[r.src] = append(neighbors[r.src], r.tgt)
		neighbors[r.tgt] = append(neighbors[r.tgt], r.src)
	}

	sparsity := math.Sqrt(float64(dim))
	current := make([][]float64, n)
	for i, nd := range g.nodes {
		pid, _ := nd.Property(gds.PropPersistentID)
		rng := rand.New(rand.NewPCG(seed, uint64(int64(pid))))
		v := make([]float64, dim)
		for d := range v {
			u := rng.Float64()
			switch {
			case u < 1/(2*sparsity):
				v[d] = 1
			case u < 1/sparsity:
				v[d] = -1
			}
		}
		current[i] = v
	}

	result := make([][]float64, n)
	for i := range result {
		result[i] = make([]float64, dim)
	}
	for _, weight := range iterationWeights {
		next := make([][]float64, n)
		for i := range next {
			v := make([]float64, dim)
			for _, j := range neighbors[i] {
				floats.Add(v, current[j])
			}
			if len(neighbors[i]) > 0 {
				floats.Scale(1/float64(len(neighbors[i])), v)
			}
			if norm := floats.Norm(v, 2); norm > 0 {
				floats.Scale(1/norm, v)
			}
			next[i] = v
			if weight != 0 {
				floats.AddScaled(result[i], weight, v)
			}
		}
		current = next
	}
	return result
}
