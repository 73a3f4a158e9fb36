// Package export writes per-window node features, edge lists and inferred
// edges as Parquet, plus the run manifest.
package export

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/ownership-graph/rollwin/internal/algorithms"
	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/idmap"
	"github.com/ownership-graph/rollwin/internal/storage/models"
	"github.com/ownership-graph/rollwin/internal/window"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

const (
	VectorModeList    = "list"
	VectorModeColumns = "columns"

	DegreeColumn = "degree"
)

var ErrOutputNotWritable = errors.New("output directory is not writable")

type Options struct {
	OutputDir  string
	RunName    string
	VectorMode string
}

// File is one written output.
type File struct {
	Path    string
	Rows    int
	Columns []string
}

type Writer struct {
	root       string
	vectorMode string
}

func NewWriter(opts Options) (*Writer, error) {
	mode := opts.VectorMode
	if mode == "" {
		mode = VectorModeList
	}
	if mode != VectorModeList && mode != VectorModeColumns {
		return nil, fmt.Errorf("unknown vector mode %q", mode)
	}
	return &Writer{root: filepath.Join(opts.OutputDir, opts.RunName), vectorMode: mode}, nil
}

func (w *Writer) Root() string {
	return w.root
}

// Probe creates the output tree and checks that a file can be created in it.
func (w *Writer) Probe() error {
	for _, sub := range []string{"nodes", "edges", "predicted_edges", "manifest"} {
		if err := os.MkdirAll(filepath.Join(w.root, sub), 0o755); err != nil {
			return fmt.Errorf("%w: %v", ErrOutputNotWritable, err)
		}
	}
	f, err := os.CreateTemp(w.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutputNotWritable, err)
	}
	f.Close()
	return os.Remove(f.Name())
}

func (w *Writer) NodePath(win window.Window) string {
	return filepath.Join(w.root, "nodes", "node_features_"+win.GraphName+".parquet")
}

func (w *Writer) EdgePath(win window.Window) string {
	return filepath.Join(w.root, "edges", "edge_list_"+win.GraphName+".parquet")
}

func (w *Writer) PredictedPath(win window.Window) string {
	return filepath.Join(w.root, "predicted_edges", "predicted_edges_"+win.GraphName+".parquet")
}

func (w *Writer) ManifestPath(paramsHash string) string {
	return filepath.Join(w.root, "manifest", "manifest_"+paramsHash+".parquet")
}

func windowColumns(t *table, win window.Window) {
	t.constant("window_start_ms", win.StartMs)
	t.constant("window_end_ms", win.EndMs)
	t.constant("window_start_year", int32(win.StartYear))
	t.constant("window_end_year_inclusive", int32(win.EndYearInclusive))
	t.constant("window_graph_name", win.GraphName)
	t.constant("params_hash", win.ParamsHash)
}

func isLabel(name string) bool {
	return name == algorithms.Louvain || name == algorithms.WCC
}

func scalar(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	}
	return math.NaN()
}

func label(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		if !math.IsNaN(x) {
			return int64(x)
		}
	}
	return -1
}

// packVectors copies one vector property of every row into a contiguous
// matrix. Rows without a vector of the right length stay zero.
func packVectors(rows []idmap.Row, prop string, dim int) *mat.Dense {
	m := mat.NewDense(len(rows), dim, nil)
	for i, r := range rows {
		if v, ok := r.Values[prop].([]float64); ok && len(v) == dim {
			m.SetRow(i, v)
		}
	}
	return m
}

// WriteNodes writes one row per node with the produced properties, the derived
// degree, any extra per-entity columns such as FCR, and the window columns.
func (w *Writer) WriteNodes(win window.Window, rows []idmap.Row, produced algorithms.Produced, extra map[string]map[gds.PersistentID]float64) (File, error) {
	t := &table{rows: len(rows)}
	t.add("persistent_id", int64Type, func(i int) any { return int64(rows[i].ID) })
	t.add(gds.PropIsPrimary, float64Type, func(i int) any { return scalar(rows[i].Values[gds.PropIsPrimary]) })

	for _, prop := range produced.Properties {
		name := prop.Name
		switch {
		case prop.Kind == gds.Vector:
			if len(rows) == 0 || prop.Dimension == 0 {
				if w.vectorMode == VectorModeList {
					t.addList(name, func(int) any { return []float64(nil) })
				}
				continue
			}
			packed := packVectors(rows, name, prop.Dimension)
			if w.vectorMode == VectorModeList {
				t.addList(name, func(i int) any { return packed.RawRowView(i) })
				continue
			}
			for d := 0; d < prop.Dimension; d++ {
				t.add(fmt.Sprintf("%s_%d", name, d), float64Type, func(i int) any { return packed.At(i, d) })
			}
		case isLabel(name):
			t.add(name, int64Type, func(i int) any { return label(rows[i].Values[name]) })
		default:
			t.add(name, float64Type, func(i int) any { return scalar(rows[i].Values[name]) })
		}
	}

	if produced.Has(algorithms.InDegree) && produced.Has(algorithms.OutDegree) {
		t.add(DegreeColumn, float64Type, func(i int) any {
			return scalar(rows[i].Values[algorithms.InDegree]) + scalar(rows[i].Values[algorithms.OutDegree])
		})
	}

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		values := extra[name]
		t.add(name, float64Type, func(i int) any {
			if v, ok := values[rows[i].ID]; ok {
				return v
			}
			return math.NaN()
		})
	}

	windowColumns(t, win)
	return w.write(t, w.NodePath(win))
}

func (w *Writer) WriteEdges(win window.Window, edges []idmap.Edge) (File, error) {
	t := &table{rows: len(edges)}
	t.add("source_id", int64Type, func(i int) any { return int64(edges[i].Source) })
	t.add("target_id", int64Type, func(i int) any { return int64(edges[i].Target) })
	t.add("relationship_type", stringType, func(i int) any { return edges[i].Type })
	windowColumns(t, win)
	return w.write(t, w.EdgePath(win))
}

func (w *Writer) WritePredicted(win window.Window, links []gds.InferredLink) (File, error) {
	t := &table{rows: len(links)}
	t.add("source_id", int64Type, func(i int) any { return int64(links[i].Source) })
	t.add("target_id", int64Type, func(i int) any { return int64(links[i].Target) })
	t.add("probability", float64Type, func(i int) any { return links[i].Probability })
	t.add("model_variant", stringType, func(i int) any { return links[i].Variant })
	windowColumns(t, win)
	return w.write(t, w.PredictedPath(win))
}

func (w *Writer) write(t *table, path string) (File, error) {
	if err := t.writeFile(path); err != nil {
		return File{}, err
	}
	logger.Debug("Parquet file written",
		zap.String("path", path),
		zap.Int("rows", t.rows),
		zap.Int("columns", len(t.columns)),
	)
	return File{Path: path, Rows: t.rows, Columns: t.Names()}, nil
}

// WriteManifest rewrites the manifest Parquet for a parameter set.
func (w *Writer) WriteManifest(paramsHash string, entries []models.ManifestEntry) (string, error) {
	path := w.ManifestPath(paramsHash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create manifest dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, entries); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to move manifest into place: %w", err)
	}
	return path, nil
}

// ReadManifest loads a manifest Parquet written by WriteManifest.
func ReadManifest(path string) ([]models.ManifestEntry, error) {
	return parquet.ReadFile[models.ManifestEntry](path)
}
