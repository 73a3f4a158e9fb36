// Package idmap translates subgraph-local node ids into persistent entity ids.
// An Arena is bound to the subgraph it was built from and refuses records
// from any other.
package idmap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/ownership-graph/rollwin/internal/gds"
)

var (
	ErrForeignSubgraph     = errors.New("record belongs to a different subgraph")
	ErrUnknownNode         = errors.New("node id not present in subgraph")
	ErrMissingPersistentID = errors.New("node has no persistent id")
	ErrDuplicateID         = errors.New("persistent id appears twice in subgraph")
)

type Arena struct {
	graph  string
	toPID  map[gds.NodeID]gds.PersistentID
	toNode map[gds.PersistentID]gds.NodeID
}

// Records is a node stream tagged with the subgraph it came from.
type Records struct {
	Graph string
	Nodes []gds.NodeRecord
}

func Stream(ctx context.Context, engine gds.Engine, graph string, props []string) (Records, error) {
	if !slices.Contains(props, gds.PropPersistentID) {
		props = append([]string{gds.PropPersistentID}, props...)
	}
	nodes, err := engine.StreamNodeProperties(ctx, graph, props)
	if err != nil {
		return Records{}, err
	}
	return Records{Graph: graph, Nodes: nodes}, nil
}

// Build indexes the persistent_id column of records.
func Build(records Records) (*Arena, error) {
	a := &Arena{
		graph:  records.Graph,
		toPID:  make(map[gds.NodeID]gds.PersistentID, len(records.Nodes)),
		toNode: make(map[gds.PersistentID]gds.NodeID, len(records.Nodes)),
	}
	for _, n := range records.Nodes {
		pid, err := persistentID(n)
		if err != nil {
			return nil, fmt.Errorf("%s node %d: %w", records.Graph, n.NodeID, err)
		}
		if _, dup := a.toNode[pid]; dup {
			return nil, fmt.Errorf("%w: %d in %s", ErrDuplicateID, pid, records.Graph)
		}
		a.toPID[n.NodeID] = pid
		a.toNode[pid] = n.NodeID
	}
	return a, nil
}

func persistentID(n gds.NodeRecord) (gds.PersistentID, error) {
	switch v := n.Values[gds.PropPersistentID].(type) {
	case float64:
		if math.IsNaN(v) {
			return 0, ErrMissingPersistentID
		}
		return gds.PersistentID(math.Round(v)), nil
	case int64:
		return gds.PersistentID(v), nil
	}
	return 0, ErrMissingPersistentID
}

func (a *Arena) Graph() string {
	return a.graph
}

func (a *Arena) Len() int {
	return len(a.toPID)
}

func (a *Arena) Resolve(id gds.NodeID) (gds.PersistentID, bool) {
	pid, ok := a.toPID[id]
	return pid, ok
}

func (a *Arena) Node(pid gds.PersistentID) (gds.NodeID, bool) {
	id, ok := a.toNode[pid]
	return id, ok
}

func (a *Arena) Contains(pid gds.PersistentID) bool {
	_, ok := a.toNode[pid]
	return ok
}

// PersistentIDs returns every id in ascending order.
func (a *Arena) PersistentIDs() []gds.PersistentID {
	out := make([]gds.PersistentID, 0, len(a.toNode))
	for pid := range a.toNode {
		out = append(out, pid)
	}
	slices.Sort(out)
	return out
}

type Row struct {
	ID     gds.PersistentID
	Values map[string]any
}

// Join keys every record by persistent id. Records must come from the
// arena's own subgraph.
func (a *Arena) Join(records Records) ([]Row, error) {
	if records.Graph != a.graph {
		return nil, fmt.Errorf("%w: arena %s, records %s", ErrForeignSubgraph, a.graph, records.Graph)
	}
	rows := make([]Row, 0, len(records.Nodes))
	for _, n := range records.Nodes {
		pid, ok := a.toPID[n.NodeID]
		if !ok {
			return nil, fmt.Errorf("%w: %d in %s", ErrUnknownNode, n.NodeID, a.graph)
		}
		rows = append(rows, Row{ID: pid, Values: n.Values})
	}
	slices.SortFunc(rows, func(x, y Row) int {
		return cmp.Compare(x.ID, y.ID)
	})
	return rows, nil
}

type Edge struct {
	Source gds.PersistentID
	Target gds.PersistentID
	Type   string
}

func (a *Arena) JoinRelationships(graph string, rels []gds.RelRecord) ([]Edge, error) {
	if graph != a.graph {
		return nil, fmt.Errorf("%w: arena %s, relationships %s", ErrForeignSubgraph, a.graph, graph)
	}
	out := make([]Edge, 0, len(rels))
	for _, r := range rels {
		src, okS := a.toPID[r.Source]
		tgt, okT := a.toPID[r.Target]
		if !okS || !okT {
			return nil, fmt.Errorf("%w: relationship %d->%d in %s", ErrUnknownNode, r.Source, r.Target, a.graph)
		}
		out = append(out, Edge{Source: src, Target: tgt, Type: r.Type})
	}
	return out, nil
}

// Coverage is the fraction of stored ids the arena recovers.
func Coverage(a *Arena, stored []gds.PersistentID) float64 {
	if len(stored) == 0 {
		return 1
	}
	found := 0
	for _, pid := range stored {
		if a.Contains(pid) {
			found++
		}
	}
	return float64(found) / float64(len(stored))
}
