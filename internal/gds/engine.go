// Package gds defines the contract between the windowing pipeline and the
// graph analytics backend: an in-memory graph catalog that can project,
// filter, mutate and stream subgraphs, plus the stored graph it was
// projected from.
package gds

import (
	"context"
	"errors"
	"strconv"
)

// NodeID is the engine's subgraph-local node index. It is renumbered on every
// projection or filter and must never be compared across graphs.
type NodeID int64

// PersistentID is the entity identifier carried through every projection as
// the numeric node property PropPersistentID.
type PersistentID int64

func (id PersistentID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Numeric properties present on every projected graph.
const (
	PropPersistentID = "persistent_id"
	PropStart        = "t_start"
	PropEnd          = "t_end"
	PropIsPrimary    = "is_primary"
	PropWeight       = "weight"
	PropImputed      = "imputed"
	PropActiveDegree = "active_degree"
)

var (
	ErrGraphNotFound        = errors.New("graph not found in catalog")
	ErrTransient            = errors.New("transient backend failure")
	ErrAlgorithmUnavailable = errors.New("algorithm unavailable on backend")
	ErrEmptyProjection      = errors.New("projection produced no nodes")
)

// IsRetryable reports whether a window attempt that failed with err may
// succeed after reconnecting and re-checking the base graph.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrGraphNotFound)
}

type GraphInfo struct {
	Name              string
	NodeCount         int64
	RelationshipCount int64
	NodeProperties    []string
}

func (g GraphInfo) HasNodeProperties(required ...string) (missing []string) {
	have := make(map[string]bool, len(g.NodeProperties))
	for _, p := range g.NodeProperties {
		have[p] = true
	}
	for _, r := range required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	return missing
}

// BaseProjection describes the superset graph every window is filtered from.
type BaseProjection struct {
	GraphName       string
	PrimaryLabel    string
	NodeLabels      []string
	RelTypes        []string
	ExtraNodeProps  []string
	ReadConcurrency int
}

func (p BaseProjection) RequiredNodeProperties() []string {
	props := []string{PropPersistentID, PropStart, PropEnd, PropIsPrimary}
	return append(props, p.ExtraNodeProps...)
}

type NodeRecord struct {
	NodeID NodeID
	// Values holds float64, int64 or []float64 per requested property.
	Values map[string]any
}

type RelRecord struct {
	Source NodeID
	Target NodeID
	Type   string
}

// Engine is the in-memory analytics catalog. Graph names share one
// session-wide namespace, so callers own every graph they create and must
// drop it on all exit paths.
type Engine interface {
	Exists(ctx context.Context, graph string) (bool, error)
	Info(ctx context.Context, graph string) (GraphInfo, error)
	Project(ctx context.Context, p BaseProjection) (GraphInfo, error)
	Filter(ctx context.Context, graph, from string, pred Predicate, concurrency int) (GraphInfo, error)
	// Drop removes graph; a missing graph is not an error.
	Drop(ctx context.Context, graph string) error
	Mutate(ctx context.Context, graph string, alg Algorithm) error
	StreamNodeProperties(ctx context.Context, graph string, props []string) ([]NodeRecord, error)
	StreamRelationships(ctx context.Context, graph string, relTypes []string) ([]RelRecord, error)
}
