package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownership-graph/rollwin/internal/export"
	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/kg/memgraph"
	"github.com/ownership-graph/rollwin/internal/kg/memgraph/memgraphtest"
	"github.com/ownership-graph/rollwin/internal/linkpred"
	"github.com/ownership-graph/rollwin/internal/storage/models"
	"github.com/ownership-graph/rollwin/internal/storage/sqlite"
	"github.com/ownership-graph/rollwin/pkg/config"
)

type fixture struct {
	cfg    *config.Config
	engine *memgraph.Engine
	db     *sqlite.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Kind = "memory"
	cfg.Windows.StartYear = 2014
	cfg.Windows.EndYearExclusive = 2018
	cfg.Windows.WindowYears = 3
	cfg.Windows.StepYears = 1
	cfg.Algorithms.EmbeddingDimension = 8
	cfg.Export.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Resilience.InitialBackoffSec = 0.001
	cfg.Resilience.MaxBackoffSec = 0.001

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "rollwin.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	return &fixture{cfg: cfg, engine: memgraphtest.ToyEngine(), db: db}
}

func (f *fixture) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(f.cfg, Deps{Backend: f.engine, Manifest: f.db})
	require.NoError(t, err)
	return p
}

func (f *fixture) windowGraphs() []string {
	var out []string
	for _, name := range f.engine.GraphNames() {
		if name != f.cfg.Graph.BaseGraphName {
			out = append(out, name)
		}
	}
	return out
}

func TestRun_ExportsEveryWindow(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Windows)
	assert.Equal(t, 2, summary.Exported)
	assert.Zero(t, summary.Skipped)
	assert.Empty(t, f.windowGraphs(), "window subgraphs are dropped")

	entries, err := f.db.ManifestEntries(p.ParamsHash())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "rw_2014_2016", entries[0].Window)
	assert.Equal(t, "rw_2015_2017", entries[1].Window)
	for _, e := range entries {
		assert.FileExists(t, e.NodeFile)
		assert.FileExists(t, e.EdgeFile)
		assert.True(t, e.FCRIncluded)
		assert.Contains(t, e.Properties, "louvain")
		assert.Empty(t, e.LinkPrediction)
	}

	manifest, err := export.ReadManifest(p.writer.ManifestPath(p.ParamsHash()))
	require.NoError(t, err)
	assert.Len(t, manifest, 2)

	run, err := f.db.GetRun(summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, 2, run.Exported)

	snap := p.Status().Snapshot()
	assert.Equal(t, PhaseDone, snap.Phase)
	assert.Equal(t, 2, snap.Exported)
}

type exportedNode struct {
	ID        int64   `parquet:"persistent_id"`
	IsPrimary float64 `parquet:"is_primary"`
	FCR       float64 `parquet:"fcr_temporal"`
}

func TestRun_SingleWindowToyGraph(t *testing.T) {
	f := newFixture(t)
	f.cfg.Windows.EndYearExclusive = 2017
	p := f.pipeline(t)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Windows)
	assert.Equal(t, 1, summary.Exported)

	entries, err := f.db.ManifestEntries(p.ParamsHash())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rw_2014_2016", entries[0].Window)

	nodes, err := parquet.ReadFile[exportedNode](entries[0].NodeFile)
	require.NoError(t, err)
	require.Len(t, nodes, 8, "inactive and isolated persons are pruned")

	byID := make(map[int64]exportedNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	assert.NotContains(t, byID, memgraphtest.OldSidorov)
	assert.NotContains(t, byID, memgraphtest.AnnaPetrov)

	// BankA: Ivan and Maria share its community and are kin.
	// BankB: Oleg's only kinship tie is imputed.
	require.Contains(t, byID, memgraphtest.BankA)
	require.Contains(t, byID, memgraphtest.BankB)
	assert.Equal(t, 1.0, byID[memgraphtest.BankA].IsPrimary)
	assert.Equal(t, 1.0, byID[memgraphtest.BankA].FCR)
	assert.Equal(t, 1.0, byID[memgraphtest.BankB].IsPrimary)
	assert.Equal(t, 0.0, byID[memgraphtest.BankB].FCR)

	for id, n := range byID {
		if id == memgraphtest.BankA || id == memgraphtest.BankB {
			continue
		}
		assert.Zero(t, n.IsPrimary, "entity %d", id)
		assert.True(t, math.IsNaN(n.FCR), "entity %d has no ratio", id)
	}

	manifest, err := export.ReadManifest(p.writer.ManifestPath(p.ParamsHash()))
	require.NoError(t, err)
	assert.Len(t, manifest, 1)

	again, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Exported)
	assert.Equal(t, 1, again.Skipped)
}

func TestRun_ResumesFromManifest(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	summary, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Exported)
	assert.Equal(t, 2, summary.Skipped)
}

func TestRun_ReprocessesWhenFilesVanish(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	entries, err := f.db.ManifestEntries(p.ParamsHash())
	require.NoError(t, err)
	require.NoError(t, os.Remove(entries[0].NodeFile))

	summary, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Exported)
	assert.Equal(t, 1, summary.Skipped)
}

func TestRun_ChangedParametersDoNotResume(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	f.cfg.Filter.IncludeImputed = true
	summary, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Exported)
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	failures := 2
	f.engine.SetFault(func(op, graph string) error {
		if op == "filter" && failures > 0 {
			failures--
			if failures == 0 {
				return gds.ErrGraphNotFound
			}
			return gds.ErrTransient
		}
		return nil
	})

	summary, err := f.pipeline(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Exported)
	assert.Empty(t, f.windowGraphs())
}

func TestRun_NonRetryableFailureAbortsRun(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	f.engine.SetFault(func(op, graph string) error {
		if op == "filter" && strings.HasPrefix(graph, "rw_2015") {
			attempts++
			return errors.New("invalid filter expression")
		}
		return nil
	})
	p := f.pipeline(t)

	summary, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "rw_2015_2017")
	assert.Equal(t, 1, attempts, "non-retryable errors are not retried")
	assert.Equal(t, 1, summary.Exported)
	assert.Empty(t, f.windowGraphs())

	entries, err := f.db.ManifestEntries(p.ParamsHash())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rw_2014_2016", entries[0].Window)

	run, err := f.db.GetRun(summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
	assert.Equal(t, PhaseFailed, p.Status().Snapshot().Phase)
}

func TestRun_ExhaustedRetriesAbortRun(t *testing.T) {
	f := newFixture(t)
	f.cfg.Resilience.MaxRetries = 1
	attempts := 0
	f.engine.SetFault(func(op, graph string) error {
		if op == "filter" {
			attempts++
			return gds.ErrTransient
		}
		return nil
	})

	summary, err := f.pipeline(t).Run(context.Background())
	assert.ErrorIs(t, err, gds.ErrTransient)
	assert.Equal(t, 2, attempts)
	assert.Zero(t, summary.Exported)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.pipeline(t).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	run, err := f.db.GetRun(summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCancelled, run.Status)
}

func TestRun_LinkPredictionSkipsSmallWindows(t *testing.T) {
	f := newFixture(t)
	f.cfg.LinkPrediction.Enabled = true
	p := f.pipeline(t)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	entries, err := f.db.ManifestEntries(p.ParamsHash())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, string(linkpred.StateSkipped), e.LinkPrediction)
		assert.Empty(t, e.PredictedFile)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	f.cfg.Graph.RelTypes = nil
	_, err := New(f.cfg, Deps{Backend: f.engine, Manifest: f.db})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRun_UnwritableOutputFailsBeforeAnyWork(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	f.cfg.Export.OutputDir = blocker

	_, err := f.pipeline(t).Run(context.Background())
	assert.ErrorIs(t, err, export.ErrOutputNotWritable)
	assert.Empty(t, f.engine.GraphNames(), "no projection before the output check")
}
