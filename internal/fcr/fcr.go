// Package fcr computes the family connection ratio of each primary entity in
// a window: the share of its same-community owners that hold at least one
// trusted kinship tie.
package fcr

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/idmap"
	"github.com/ownership-graph/rollwin/internal/window"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

const DefaultColumn = "fcr_temporal"

type Calculator struct {
	store  gds.Store
	column string
}

func NewCalculator(store gds.Store, column string) *Calculator {
	if column == "" {
		column = DefaultColumn
	}
	return &Calculator{store: store, column: column}
}

func (c *Calculator) Column() string {
	return c.column
}

// Compute returns a ratio in [0,1] for every id in primaries. Entities the
// aggregation does not return get 0.
func (c *Calculator) Compute(ctx context.Context, w window.Window, primaries []gds.PersistentID, communities map[gds.PersistentID]int64) (map[gds.PersistentID]float64, error) {
	out := make(map[gds.PersistentID]float64, len(primaries))
	if len(primaries) == 0 {
		return out, nil
	}

	ratios, err := c.store.FamilyConnectionRatios(ctx, gds.FCRQuery{
		PrimaryIDs:  primaries,
		Communities: communities,
		StartMs:     w.StartMs,
		EndMs:       w.EndMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute %s for %s: %w", c.column, w.GraphName, err)
	}

	missing := 0
	for _, id := range primaries {
		v, ok := ratios[id]
		if !ok {
			missing++
		}
		out[id] = clamp(v)
	}
	if missing > 0 {
		logger.Debug("Primary entities absent from FCR aggregation",
			zap.String("window", w.GraphName),
			zap.Int("missing", missing),
		)
	}
	return out, nil
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}

// Communities extracts integer community labels keyed by persistent id.
func Communities(rows []idmap.Row, property string) map[gds.PersistentID]int64 {
	out := make(map[gds.PersistentID]int64, len(rows))
	for _, r := range rows {
		switch v := r.Values[property].(type) {
		case int64:
			out[r.ID] = v
		case float64:
			out[r.ID] = int64(v)
		}
	}
	return out
}

// Primaries lists the ids whose is_primary flag is set.
func Primaries(rows []idmap.Row) []gds.PersistentID {
	var out []gds.PersistentID
	for _, r := range rows {
		if v, ok := r.Values[gds.PropIsPrimary].(float64); ok && v == 1 {
			out = append(out, r.ID)
		}
	}
	return out
}
