package memgraph

import (
	"context"

	"github.com/ownership-graph/rollwin/internal/gds"
)

func (e *Engine) active(row RelRow, startMs, endMs int64) bool {
	lo, hi := interval(row.StartMs, row.EndMs, e.schema)
	return lo < endMs && hi >= startMs
}

func (e *Engine) FamilyConnectionRatios(ctx context.Context, q gds.FCRQuery) (map[gds.PersistentID]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "fcr", ""); err != nil {
		return nil, err
	}

	family := make(map[int64]bool)
	for _, r := range e.rels {
		if r.Type != e.schema.KinshipType || e.schema.IsUntrusted(r.Provenance) || !e.active(r, q.StartMs, q.EndMs) {
			continue
		}
		family[r.Source] = true
		family[r.Target] = true
	}

	primaries := make(map[int64]bool, len(q.PrimaryIDs))
	for _, id := range q.PrimaryIDs {
		primaries[int64(id)] = true
	}
	owners := make(map[int64]map[int64]bool)
	for _, r := range e.rels {
		if r.Type != e.schema.OwnershipType || !primaries[r.Target] || !e.active(r, q.StartMs, q.EndMs) {
			continue
		}
		target, ok := q.Communities[gds.PersistentID(r.Target)]
		if !ok {
			continue
		}
		if owner, ok := q.Communities[gds.PersistentID(r.Source)]; !ok || owner != target {
			continue
		}
		if owners[r.Target] == nil {
			owners[r.Target] = make(map[int64]bool)
		}
		owners[r.Target][r.Source] = true
	}

	out := make(map[gds.PersistentID]float64, len(q.PrimaryIDs))
	for _, id := range q.PrimaryIDs {
		if _, ok := e.byID[int64(id)]; !ok {
			continue
		}
		set := owners[int64(id)]
		if len(set) == 0 {
			out[id] = 0
			continue
		}
		connected := 0
		for o := range set {
			if family[o] {
				connected++
			}
		}
		out[id] = float64(connected) / float64(len(set))
	}
	return out, nil
}

func (e *Engine) Persons(ctx context.Context, ids []gds.PersistentID) ([]gds.Person, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "persons", ""); err != nil {
		return nil, err
	}
	var out []gds.Person
	for _, id := range ids {
		i, ok := e.byID[int64(id)]
		if !ok || e.nodes[i].LastName == "" {
			continue
		}
		n := e.nodes[i]
		out = append(out, gds.Person{ID: id, FirstName: n.FirstName, LastName: n.LastName, Patronymic: n.Patronymic})
	}
	return out, nil
}

func (e *Engine) Links(ctx context.Context, ids []gds.PersistentID) ([]gds.Link, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "links", ""); err != nil {
		return nil, err
	}
	in := make(map[int64]bool, len(ids))
	for _, id := range ids {
		in[int64(id)] = true
	}

	var out []gds.Link
	for _, r := range e.rels {
		if !in[r.Source] || !in[r.Target] {
			continue
		}
		var kind gds.LinkKind
		switch {
		case r.Type == e.schema.SimilarityType:
			kind = gds.LinkSimilarity
		case r.Type == e.schema.KinshipType && e.schema.IsUntrusted(r.Provenance):
			kind = gds.LinkImputedKinship
		case r.Type == e.schema.KinshipType:
			kind = gds.LinkTrustedKinship
		default:
			continue
		}
		out = append(out, gds.Link{Source: gds.PersistentID(r.Source), Target: gds.PersistentID(r.Target), Kind: kind})
	}
	return out, nil
}

func (e *Engine) WriteInferredLinks(ctx context.Context, wb gds.WriteBack) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.check(ctx, "write-back", wb.Window); err != nil {
		return 0, err
	}

	kept := e.rels[:0]
	for _, r := range e.rels {
		if r.Type == e.schema.KinshipType && r.Provenance == e.schema.PredictedValue && r.Window == wb.Window {
			continue
		}
		kept = append(kept, r)
	}
	e.rels = kept

	written := 0
	for _, l := range wb.Links {
		_, okS := e.byID[int64(l.Source)]
		_, okT := e.byID[int64(l.Target)]
		if !okS || !okT {
			continue
		}
		e.rels = append(e.rels, RelRow{
			Source:     int64(l.Source),
			Target:     int64(l.Target),
			Type:       e.schema.KinshipType,
			StartMs:    Ms(wb.StartMs),
			EndMs:      Ms(wb.EndMs),
			Provenance: e.schema.PredictedValue,
			Window:     wb.Window,
			Confidence: l.Probability,
			Variant:    l.Variant,
			RunID:      wb.RunID,
		})
		written++
	}
	return written, nil
}

// Relationships returns a copy of the stored relationships.
func (e *Engine) Relationships() []RelRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RelRow(nil), e.rels...)
}
