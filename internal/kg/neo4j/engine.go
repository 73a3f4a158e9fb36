package neo4j

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

var _ gds.Backend = (*Client)(nil)

var procedures = map[string]string{
	gds.AlgDegree:      "gds.degree.mutate",
	gds.AlgPageRank:    "gds.pageRank.mutate",
	gds.AlgBetweenness: "gds.betweenness.mutate",
	gds.AlgCloseness:   "gds.closeness.mutate",
	gds.AlgEigenvector: "gds.eigenvector.mutate",
	gds.AlgWCC:         "gds.wcc.mutate",
	gds.AlgLouvain:     "gds.louvain.mutate",
	gds.AlgFastRP:      "gds.fastRP.mutate",
	gds.AlgNode2Vec:    "gds.node2vec.mutate",
	gds.AlgHashGNN:     "gds.hashgnn.mutate",
}

func (c *Client) Exists(ctx context.Context, graph string) (bool, error) {
	records, err := c.collect(ctx,
		`CALL gds.graph.exists($graphName) YIELD exists RETURN exists`,
		map[string]any{"graphName": graph})
	if err != nil {
		return false, fmt.Errorf("failed to check graph %s: %w", graph, err)
	}
	if len(records) == 0 {
		return false, nil
	}
	exists, _ := get(records[0], "exists").(bool)
	return exists, nil
}

func (c *Client) Info(ctx context.Context, graph string) (gds.GraphInfo, error) {
	records, err := c.collect(ctx, `
		CALL gds.graph.list($graphName)
		YIELD graphName, nodeCount, relationshipCount, schemaWithOrientation
		RETURN graphName, nodeCount, relationshipCount, schemaWithOrientation`,
		map[string]any{"graphName": graph})
	if err != nil {
		return gds.GraphInfo{}, fmt.Errorf("failed to list graph %s: %w", graph, err)
	}
	if len(records) == 0 {
		return gds.GraphInfo{}, fmt.Errorf("%w: %s", gds.ErrGraphNotFound, graph)
	}

	r := records[0]
	info := gds.GraphInfo{
		Name:              asString(get(r, "graphName")),
		NodeCount:         asInt(get(r, "nodeCount")),
		RelationshipCount: asInt(get(r, "relationshipCount")),
	}
	if schema, ok := get(r, "schemaWithOrientation").(map[string]any); ok {
		info.NodeProperties = schemaNodeProperties(schema)
	}
	return info, nil
}

// schemaNodeProperties unions property keys over every label in a catalog
// schema map.
func schemaNodeProperties(schema map[string]any) []string {
	nodes, ok := schema["nodes"].(map[string]any)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	for _, props := range nodes {
		m, ok := props.(map[string]any)
		if !ok {
			continue
		}
		for key := range m {
			seen[key] = true
		}
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func (c *Client) Project(ctx context.Context, p gds.BaseProjection) (gds.GraphInfo, error) {
	query := buildProjectionQuery(c.schema, p)
	params := map[string]any{
		"graphName":       p.GraphName,
		"relTypes":        p.RelTypes,
		"openStart":       float64(c.schema.OpenStartMs),
		"openEnd":         float64(c.schema.OpenEndMs),
		"untrusted":       c.schema.Untrusted(),
		"readConcurrency": max(p.ReadConcurrency, 1),
	}

	records, err := c.collect(ctx, query, params)
	if err != nil {
		return gds.GraphInfo{}, fmt.Errorf("failed to project graph %s: %w", p.GraphName, err)
	}
	if len(records) == 0 {
		return gds.GraphInfo{}, fmt.Errorf("%w: %s", gds.ErrEmptyProjection, p.GraphName)
	}

	info := gds.GraphInfo{
		Name:              p.GraphName,
		NodeCount:         asInt(get(records[0], "nodeCount")),
		RelationshipCount: asInt(get(records[0], "relationshipCount")),
		NodeProperties:    p.RequiredNodeProperties(),
	}
	logger.Info("Projected base graph",
		zap.String("graph", info.Name),
		zap.Int64("nodes", info.NodeCount),
		zap.Int64("relationships", info.RelationshipCount),
	)
	return info, nil
}

// buildProjectionQuery renders a Cypher aggregation projection. Labels, types
// and property keys come from validated configuration, never from user data.
func buildProjectionQuery(s gds.Schema, p gds.BaseProjection) string {
	labelPredicate := func(v string) string {
		parts := make([]string, len(p.NodeLabels))
		for i, l := range p.NodeLabels {
			parts[i] = v + ":" + l
		}
		return strings.Join(parts, " OR ")
	}
	nodeProps := func(v string) string {
		props := []string{
			fmt.Sprintf("%s: toFloat(%s.%s)", gds.PropPersistentID, v, s.IDProperty),
			fmt.Sprintf("%s: toFloat(coalesce(%s.%s, $openStart))", gds.PropStart, v, s.StartProperty),
			fmt.Sprintf("%s: toFloat(coalesce(%s.%s, $openEnd))", gds.PropEnd, v, s.EndProperty),
			fmt.Sprintf("%s: CASE WHEN %s:%s THEN 1.0 ELSE 0.0 END", gds.PropIsPrimary, v, p.PrimaryLabel),
		}
		for _, extra := range p.ExtraNodeProps {
			props = append(props, "."+extra)
		}
		return strings.Join(props, ", ")
	}
	relProps := strings.Join([]string{
		fmt.Sprintf("%s: toFloat(coalesce(r.%s, 1.0))", gds.PropWeight, s.WeightProperty),
		fmt.Sprintf("%s: toFloat(coalesce(r.%s, $openStart))", gds.PropStart, s.StartProperty),
		fmt.Sprintf("%s: toFloat(coalesce(r.%s, $openEnd))", gds.PropEnd, s.EndProperty),
		fmt.Sprintf("%s: CASE WHEN coalesce(r.%s, '') IN $untrusted THEN 1.0 ELSE 0.0 END", gds.PropImputed, s.ProvenanceProperty),
	}, ", ")

	return fmt.Sprintf(`
		MATCH (s)
		WHERE %s
		OPTIONAL MATCH (s)-[r]->(t)
		WHERE type(r) IN $relTypes AND (%s)
		WITH gds.graph.project(
			$graphName, s, t,
			{
				sourceNodeLabels: labels(s),
				targetNodeLabels: labels(t),
				sourceNodeProperties: s { %s },
				targetNodeProperties: t { %s },
				relationshipType: type(r),
				relationshipProperties: r { %s }
			},
			{readConcurrency: $readConcurrency}
		) AS g
		RETURN g.graphName AS graphName, g.nodeCount AS nodeCount, g.relationshipCount AS relationshipCount`,
		labelPredicate("s"), labelPredicate("t"), nodeProps("s"), nodeProps("t"), relProps)
}

func (c *Client) Filter(ctx context.Context, graph, from string, pred gds.Predicate, concurrency int) (gds.GraphInfo, error) {
	records, err := c.collect(ctx, `
		CALL gds.graph.filter($graphName, $fromGraphName, $nodeFilter, $relationshipFilter, $config)
		YIELD graphName, nodeCount, relationshipCount
		RETURN graphName, nodeCount, relationshipCount`,
		map[string]any{
			"graphName":          graph,
			"fromGraphName":      from,
			"nodeFilter":         pred.NodeExpr(),
			"relationshipFilter": pred.RelExpr(),
			"config": map[string]any{
				"parameters":  pred.Params(),
				"concurrency": max(concurrency, 1),
			},
		})
	if err != nil {
		return gds.GraphInfo{}, fmt.Errorf("failed to filter %s into %s: %w", from, graph, err)
	}
	if len(records) == 0 {
		return gds.GraphInfo{}, fmt.Errorf("%w: filter returned no summary for %s", gds.ErrTransient, graph)
	}
	return gds.GraphInfo{
		Name:              graph,
		NodeCount:         asInt(get(records[0], "nodeCount")),
		RelationshipCount: asInt(get(records[0], "relationshipCount")),
	}, nil
}

func (c *Client) Drop(ctx context.Context, graph string) error {
	_, err := c.collect(ctx,
		`CALL gds.graph.drop($graphName, false) YIELD graphName RETURN graphName`,
		map[string]any{"graphName": graph})
	if err != nil {
		return fmt.Errorf("failed to drop graph %s: %w", graph, err)
	}
	return nil
}

func (c *Client) Mutate(ctx context.Context, graph string, alg gds.Algorithm) error {
	procedure, ok := procedures[alg.Name]
	if !ok {
		return fmt.Errorf("%w: %s", gds.ErrAlgorithmUnavailable, alg.Name)
	}

	config := make(map[string]any, len(alg.Config)+1)
	for k, v := range alg.Config {
		config[k] = v
	}
	config["mutateProperty"] = alg.MutateProperty

	query := fmt.Sprintf(`
		CALL %s($graphName, $config)
		YIELD nodePropertiesWritten
		RETURN nodePropertiesWritten`, procedure)

	records, err := c.collect(ctx, query, map[string]any{"graphName": graph, "config": config})
	if err != nil {
		return fmt.Errorf("failed to run %s on %s: %w", alg.Name, graph, err)
	}

	var written int64
	if len(records) > 0 {
		written = asInt(get(records[0], "nodePropertiesWritten"))
	}
	logger.Debug("Algorithm mutated graph",
		zap.String("graph", graph),
		zap.String("algorithm", alg.Name),
		zap.String("property", alg.MutateProperty),
		zap.Int64("written", written),
	)
	return nil
}

func (c *Client) StreamNodeProperties(ctx context.Context, graph string, props []string) ([]gds.NodeRecord, error) {
	var out []gds.NodeRecord
	err := c.executeWithRetry(ctx, func(session neo4j.SessionWithContext) error {
		out = out[:0]
		result, err := session.Run(ctx, `
			CALL gds.graph.nodeProperties.stream($graphName, $properties)
			YIELD nodeId, nodeProperty, propertyValue
			RETURN nodeId, nodeProperty, propertyValue
			ORDER BY nodeId`,
			map[string]any{"graphName": graph, "properties": props})
		if err != nil {
			return err
		}

		index := make(map[gds.NodeID]int)
		for result.Next(ctx) {
			record := result.Record()
			id := gds.NodeID(asInt(get(record, "nodeId")))
			pos, ok := index[id]
			if !ok {
				pos = len(out)
				index[id] = pos
				out = append(out, gds.NodeRecord{NodeID: id, Values: make(map[string]any, len(props))})
			}
			out[pos].Values[asString(get(record, "nodeProperty"))] = propertyValue(get(record, "propertyValue"))
		}
		return result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to stream node properties of %s: %w", graph, err)
	}
	return out, nil
}

func propertyValue(v any) any {
	switch x := v.(type) {
	case int64, float64:
		return x
	}
	if vec, ok := asVector(v); ok {
		return vec
	}
	return v
}

func (c *Client) StreamRelationships(ctx context.Context, graph string, relTypes []string) ([]gds.RelRecord, error) {
	types := relTypes
	if len(types) == 0 {
		types = []string{"*"}
	}
	records, err := c.collect(ctx, `
		CALL gds.graph.relationships.stream($graphName, $relationshipTypes)
		YIELD sourceNodeId, targetNodeId, relationshipType
		RETURN sourceNodeId, targetNodeId, relationshipType`,
		map[string]any{"graphName": graph, "relationshipTypes": types})
	if err != nil {
		return nil, fmt.Errorf("failed to stream relationships of %s: %w", graph, err)
	}

	out := make([]gds.RelRecord, 0, len(records))
	for _, r := range records {
		out = append(out, gds.RelRecord{
			Source: gds.NodeID(asInt(get(r, "sourceNodeId"))),
			Target: gds.NodeID(asInt(get(r, "targetNodeId"))),
			Type:   asString(get(r, "relationshipType")),
		})
	}
	return out, nil
}
