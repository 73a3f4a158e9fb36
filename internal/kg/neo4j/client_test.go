package neo4j

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/pkg/retry"
)

func testSchema() gds.Schema {
	return gds.Schema{
		PrimaryLabel:       "Bank",
		SecondaryLabels:    []string{"Company", "Person"},
		RelTypes:           []string{"OWNERSHIP", "FAMILY"},
		KinshipType:        "FAMILY",
		OwnershipType:      "OWNERSHIP",
		SimilarityType:     "SIM_NAME",
		IDProperty:         "Id",
		StartProperty:      "tStart",
		EndProperty:        "tEnd",
		WeightProperty:     "weight",
		ProvenanceProperty: "source",
		ImputedValue:       "imputed",
		PredictedValue:     "logistic_pred",
	}
}

func TestBuildProjectionQuery(t *testing.T) {
	s := testSchema()
	q := buildProjectionQuery(s, gds.BaseProjection{
		GraphName:      "base",
		PrimaryLabel:   "Bank",
		NodeLabels:     s.NodeLabels(),
		RelTypes:       s.RelTypes,
		ExtraNodeProps: []string{"bank_feats"},
	})

	assert.Contains(t, q, "WHERE s:Bank OR s:Company OR s:Person")
	assert.Contains(t, q, "(t:Bank OR t:Company OR t:Person)")
	assert.Contains(t, q, "persistent_id: toFloat(s.Id)")
	assert.Contains(t, q, "t_start: toFloat(coalesce(t.tStart, $openStart))")
	assert.Contains(t, q, "is_primary: CASE WHEN s:Bank THEN 1.0 ELSE 0.0 END")
	assert.Contains(t, q, ".bank_feats")
	assert.Contains(t, q, "imputed: CASE WHEN coalesce(r.source, '') IN $untrusted THEN 1.0 ELSE 0.0 END")
	assert.Contains(t, q, "gds.graph.project(")
}

func TestSchemaNodeProperties(t *testing.T) {
	schema := map[string]any{
		"nodes": map[string]any{
			"Bank":   map[string]any{"persistent_id": "Float", "is_primary": "Float"},
			"Person": map[string]any{"persistent_id": "Float", "t_start": "Float"},
		},
	}
	assert.Equal(t, []string{"is_primary", "persistent_id", "t_start"}, schemaNodeProperties(schema))
	assert.Nil(t, schemaNodeProperties(map[string]any{}))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	notFound := classify(errors.New("Graph with name `rw_2014_2016` does not exist on database `neo4j`"))
	assert.ErrorIs(t, notFound, gds.ErrGraphNotFound)
	assert.True(t, gds.IsRetryable(notFound))

	missingProc := classify(errors.New("There is no procedure with the name `gds.hashgnn.mutate` registered"))
	assert.ErrorIs(t, missingProc, gds.ErrAlgorithmUnavailable)
	assert.False(t, gds.IsRetryable(missingProc))

	already := fmt.Errorf("wrapped: %w", gds.ErrTransient)
	assert.Same(t, already, classify(already))

	plain := errors.New("syntax error")
	assert.Equal(t, plain, classify(plain))
}

func TestValueConversion(t *testing.T) {
	vec, ok := asVector([]any{1.0, int64(2), 3.5})
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3.5}, vec)

	_, ok = asVector([]any{"x"})
	assert.False(t, ok)

	assert.Equal(t, int64(7), asInt(7.0))
	assert.Equal(t, []float64{0.5}, propertyValue([]any{0.5}))
	assert.Equal(t, int64(3), propertyValue(int64(3)))
}

func TestQueryRetryConfig_OnlyTransient(t *testing.T) {
	cfg := queryRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond

	attempts := 0
	err := retry.Do(context.Background(), cfg, func() error {
		attempts++
		return classify(errors.New("Graph with name `rw_2014_2016` does not exist on database `neo4j`"))
	})
	assert.ErrorIs(t, err, gds.ErrGraphNotFound)
	assert.Equal(t, 1, attempts, "a missing graph is left to the window retry")

	attempts = 0
	err = retry.Do(context.Background(), cfg, func() error {
		attempts++
		return fmt.Errorf("%w: connection reset", gds.ErrTransient)
	})
	assert.ErrorIs(t, err, gds.ErrTransient)
	assert.Equal(t, cfg.MaxAttempts, attempts)
}
