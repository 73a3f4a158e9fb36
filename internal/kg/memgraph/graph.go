// Package memgraph is an in-process graph backend. It holds the stored graph
// in memory, keeps its own projection catalog, and runs the algorithms the
// pipeline mutates with. It serves local runs over Parquet graph dumps and
// the test suites.
package memgraph

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/ownership-graph/rollwin/internal/gds"
)

const (
	NodesFile         = "nodes.parquet"
	RelationshipsFile = "relationships.parquet"
)

// NodeRow is one stored entity. Labels are separated by ';'.
type NodeRow struct {
	ID         int64  `parquet:"id"`
	Labels     string `parquet:"labels"`
	StartMs    *int64 `parquet:"t_start_ms,optional"`
	EndMs      *int64 `parquet:"t_end_ms,optional"`
	FirstName  string `parquet:"first_name,optional"`
	LastName   string `parquet:"last_name,optional"`
	Patronymic string `parquet:"patronymic,optional"`
}

type RelRow struct {
	Source     int64    `parquet:"source"`
	Target     int64    `parquet:"target"`
	Type       string   `parquet:"type"`
	StartMs    *int64   `parquet:"t_start_ms,optional"`
	EndMs      *int64   `parquet:"t_end_ms,optional"`
	Weight     *float64 `parquet:"weight,optional"`
	Provenance string   `parquet:"provenance,optional"`
	Window     string   `parquet:"window,optional"`
	Confidence float64  `parquet:"confidence,optional"`
	Variant    string   `parquet:"model_variant,optional"`
	RunID      string   `parquet:"run_id,optional"`
}

func (n NodeRow) labelList() []string {
	if n.Labels == "" {
		return nil
	}
	parts := strings.Split(n.Labels, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func (n NodeRow) hasLabel(label string) bool {
	for _, l := range n.labelList() {
		if l == label {
			return true
		}
	}
	return false
}

func interval(start, end *int64, s gds.Schema) (int64, int64) {
	lo, hi := s.OpenStartMs, s.OpenEndMs
	if start != nil {
		lo = *start
	}
	if end != nil {
		hi = *end
	}
	return lo, hi
}

// Ms is a convenience for building optional timestamp columns.
func Ms(v int64) *int64 {
	return &v
}

// LoadDir reads NodesFile and RelationshipsFile from dir.
func LoadDir(dir string) ([]NodeRow, []RelRow, error) {
	nodes, err := parquet.ReadFile[NodeRow](filepath.Join(dir, NodesFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read nodes: %w", err)
	}
	rels, err := parquet.ReadFile[RelRow](filepath.Join(dir, RelationshipsFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read relationships: %w", err)
	}
	return nodes, rels, nil
}

// SaveDir writes a stored graph in the layout LoadDir expects.
func SaveDir(dir string, nodes []NodeRow, rels []RelRow) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create graph dir: %w", err)
	}
	if err := parquet.WriteFile(filepath.Join(dir, NodesFile), nodes); err != nil {
		return fmt.Errorf("failed to write nodes: %w", err)
	}
	if err := parquet.WriteFile(filepath.Join(dir, RelationshipsFile), rels); err != nil {
		return fmt.Errorf("failed to write relationships: %w", err)
	}
	return nil
}
