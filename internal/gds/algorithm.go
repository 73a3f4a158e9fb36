package gds

// Algorithm names understood by every backend.
const (
	AlgDegree      = "degree"
	AlgPageRank    = "pageRank"
	AlgBetweenness = "betweenness"
	AlgCloseness   = "closeness"
	AlgEigenvector = "eigenvector"
	AlgWCC         = "wcc"
	AlgLouvain     = "louvain"
	AlgFastRP      = "fastRP"
	AlgNode2Vec    = "node2vec"
	AlgHashGNN     = "hashgnn"
)

type PropertyKind int

const (
	Scalar PropertyKind = iota
	Vector
)

func (k PropertyKind) String() string {
	if k == Vector {
		return "vector"
	}
	return "scalar"
}

// Algorithm is one mutate-mode invocation. Config carries the backend
// configuration map except mutateProperty, which the backend adds.
type Algorithm struct {
	Name           string
	MutateProperty string
	Kind           PropertyKind
	Dimension      int
	Required       bool
	Config         map[string]any
}

func (a Algorithm) ConfigValue(key string) (any, bool) {
	v, ok := a.Config[key]
	return v, ok
}

func (a Algorithm) Float(key string, def float64) float64 {
	switch v := a.Config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (a Algorithm) Int(key string, def int) int {
	switch v := a.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (a Algorithm) Text(key, def string) string {
	if v, ok := a.Config[key].(string); ok {
		return v
	}
	return def
}
