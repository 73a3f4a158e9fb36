package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

const writeBatchSize = 5000

func (c *Client) FamilyConnectionRatios(ctx context.Context, q gds.FCRQuery) (map[gds.PersistentID]float64, error) {
	if len(q.PrimaryIDs) == 0 {
		return map[gds.PersistentID]float64{}, nil
	}

	ids := make([]int64, len(q.PrimaryIDs))
	for i, id := range q.PrimaryIDs {
		ids[i] = int64(id)
	}
	communities := make(map[string]any, len(q.Communities))
	for id, label := range q.Communities {
		communities[id.String()] = label
	}

	s := c.schema
	query := fmt.Sprintf(`
		UNWIND $primaryIds AS pid
		MATCH (b:%[1]s) WHERE b.%[2]s = pid
		OPTIONAL MATCH (o)-[own:%[3]s]->(b)
		WHERE coalesce(own.%[4]s, $openStart) < $end
		  AND coalesce(own.%[5]s, $openEnd) >= $start
		  AND $communities[toString(toInteger(o.%[2]s))] IS NOT NULL
		  AND $communities[toString(toInteger(o.%[2]s))] = $communities[toString(pid)]
		WITH pid, collect(DISTINCT o) AS owners
		WITH pid, owners, [o IN owners WHERE EXISTS {
			MATCH (o)-[k:%[6]s]-()
			WHERE NOT coalesce(k.%[7]s, '') IN $untrusted
			  AND coalesce(k.%[4]s, $openStart) < $end
			  AND coalesce(k.%[5]s, $openEnd) >= $start
		}] AS connected
		RETURN pid AS id,
		       CASE WHEN size(owners) = 0 THEN 0.0
		            ELSE toFloat(size(connected)) / size(owners) END AS fcr`,
		s.PrimaryLabel, s.IDProperty, s.OwnershipType, s.StartProperty, s.EndProperty,
		s.KinshipType, s.ProvenanceProperty)

	records, err := c.collect(ctx, query, map[string]any{
		"primaryIds":  ids,
		"communities": communities,
		"start":       q.StartMs,
		"end":         q.EndMs,
		"openStart":   s.OpenStartMs,
		"openEnd":     s.OpenEndMs,
		"untrusted":   s.Untrusted(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate family connection ratios: %w", err)
	}

	out := make(map[gds.PersistentID]float64, len(records))
	for _, r := range records {
		ratio, _ := asFloat(get(r, "fcr"))
		out[gds.PersistentID(asInt(get(r, "id")))] = ratio
	}
	return out, nil
}

func (c *Client) Persons(ctx context.Context, ids []gds.PersistentID) ([]gds.Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s := c.schema
	query := fmt.Sprintf(`
		UNWIND $ids AS pid
		MATCH (p) WHERE p.%[1]s = pid AND p.%[3]s IS NOT NULL
		RETURN pid AS id,
		       coalesce(p.%[2]s, '') AS first,
		       p.%[3]s AS last,
		       coalesce(p.%[4]s, '') AS patronymic`,
		s.IDProperty, s.FirstNameProperty, s.LastNameProperty, s.PatronymicProperty)

	records, err := c.collect(ctx, query, map[string]any{"ids": int64IDs(ids)})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch persons: %w", err)
	}

	persons := make([]gds.Person, 0, len(records))
	for _, r := range records {
		persons = append(persons, gds.Person{
			ID:         gds.PersistentID(asInt(get(r, "id"))),
			FirstName:  asString(get(r, "first")),
			LastName:   asString(get(r, "last")),
			Patronymic: asString(get(r, "patronymic")),
		})
	}
	return persons, nil
}

func (c *Client) Links(ctx context.Context, ids []gds.PersistentID) ([]gds.Link, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s := c.schema
	query := fmt.Sprintf(`
		UNWIND $ids AS pid
		MATCH (a) WHERE a.%[1]s = pid
		MATCH (a)-[r]->(b)
		WHERE type(r) IN $types AND b.%[1]s IN $ids
		RETURN pid AS source, b.%[1]s AS target, type(r) AS type,
		       coalesce(r.%[2]s, '') IN $untrusted AS untrusted`,
		s.IDProperty, s.ProvenanceProperty)

	records, err := c.collect(ctx, query, map[string]any{
		"ids":       int64IDs(ids),
		"types":     []string{s.KinshipType, s.SimilarityType},
		"untrusted": s.Untrusted(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch kinship links: %w", err)
	}

	links := make([]gds.Link, 0, len(records))
	for _, r := range records {
		kind := gds.LinkSimilarity
		if asString(get(r, "type")) == s.KinshipType {
			kind = gds.LinkTrustedKinship
			if untrusted, _ := get(r, "untrusted").(bool); untrusted {
				kind = gds.LinkImputedKinship
			}
		}
		links = append(links, gds.Link{
			Source: gds.PersistentID(asInt(get(r, "source"))),
			Target: gds.PersistentID(asInt(get(r, "target"))),
			Kind:   kind,
		})
	}
	return links, nil
}

func (c *Client) WriteInferredLinks(ctx context.Context, wb gds.WriteBack) (int, error) {
	s := c.schema
	deleteQuery := fmt.Sprintf(`
		MATCH ()-[r:%[1]s]->()
		WHERE r.%[2]s = $predicted AND r.window = $window
		DELETE r`, s.KinshipType, s.ProvenanceProperty)
	mergeQuery := fmt.Sprintf(`
		UNWIND $rows AS row
		MATCH (a) WHERE a.%[1]s = row.source
		MATCH (b) WHERE b.%[1]s = row.target
		MERGE (a)-[r:%[2]s {%[3]s: $predicted, window: $window}]->(b)
		SET r.confidence = row.probability,
		    r.model_variant = row.variant,
		    r.run_id = $runId,
		    r.%[4]s = $start,
		    r.%[5]s = $end`,
		s.IDProperty, s.KinshipType, s.ProvenanceProperty, s.StartProperty, s.EndProperty)

	written := 0
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		written = 0
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, deleteQuery, map[string]any{"predicted": s.PredictedValue, "window": wb.Window})
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}

			for startIdx := 0; startIdx < len(wb.Links); startIdx += writeBatchSize {
				end := min(startIdx+writeBatchSize, len(wb.Links))
				rows := make([]map[string]any, 0, end-startIdx)
				for _, l := range wb.Links[startIdx:end] {
					rows = append(rows, map[string]any{
						"source":      int64(l.Source),
						"target":      int64(l.Target),
						"probability": l.Probability,
						"variant":     l.Variant,
					})
				}
				result, err := tx.Run(ctx, mergeQuery, map[string]any{
					"rows":      rows,
					"predicted": s.PredictedValue,
					"window":    wb.Window,
					"runId":     wb.RunID,
					"start":     wb.StartMs,
					"end":       wb.EndMs,
				})
				if err != nil {
					return nil, err
				}
				if _, err := result.Consume(ctx); err != nil {
					return nil, err
				}
				written += len(rows)
			}
			return nil, nil
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write inferred links for %s: %w", wb.Window, err)
	}

	logger.Info("Inferred kinship links written back",
		zap.String("window", wb.Window),
		zap.Int("links", written),
	)
	return written, nil
}

func int64IDs(ids []gds.PersistentID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
