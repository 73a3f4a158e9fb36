package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ownership-graph/rollwin/internal/pipeline"
	"github.com/ownership-graph/rollwin/internal/storage/models"
)

type fakeManifest struct {
	entries  map[string][]models.ManifestEntry
	variants map[string][]models.VariantRecord
	err      error
}

func (f *fakeManifest) ManifestEntries(hash string) ([]models.ManifestEntry, error) {
	return f.entries[hash], f.err
}

func (f *fakeManifest) GetVariantRecords(hash, window string) ([]models.VariantRecord, error) {
	return f.variants[hash+"/"+window], f.err
}

func newTestServer() (*Server, *fakeManifest) {
	m := &fakeManifest{
		entries: map[string][]models.ManifestEntry{
			"abc": {
				{Window: "rw_2014_2016", StartYear: 2014, EndYearInclusive: 2016, Nodes: 8, Edges: 8, FCRIncluded: true},
				{Window: "rw_2015_2017", StartYear: 2015, EndYearInclusive: 2017, Nodes: 8, Edges: 8, LinkPrediction: "SKIPPED"},
			},
		},
		variants: map[string][]models.VariantRecord{
			"abc/rw_2014_2016": {
				{Variant: "string_only", AUC: 0.91, Selected: true},
				{Variant: "fastrp_only", Skipped: "missing properties"},
			},
		},
	}
	return NewServer("127.0.0.1", 0, pipeline.NewStatus(), m), m
}

func get(t *testing.T, s *Server, path string) (int, map[string]any, http.Header) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(body, &out))
	}
	return resp.StatusCode, out, resp.Header
}

func TestServerRoutes(t *testing.T) {
	s, m := newTestServer()
	// Warm up so that fasthttp's process-wide helpers exist before the
	// goroutine baseline is taken.
	get(t, s, "/api/v1/health")
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("health", func(t *testing.T) {
		code, body, headers := get(t, s, "/api/v1/health")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
	})

	t.Run("not ready before a run starts", func(t *testing.T) {
		code, body, _ := get(t, s, "/api/v1/ready")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, string(pipeline.PhaseIdle), body["phase"])
	})

	t.Run("status", func(t *testing.T) {
		code, body, _ := get(t, s, "/api/v1/status")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "idle", body["phase"])
	})

	t.Run("manifest needs a params hash when idle", func(t *testing.T) {
		code, _, _ := get(t, s, "/api/v1/manifest")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("manifest", func(t *testing.T) {
		code, body, _ := get(t, s, "/api/v1/manifest?params_hash=abc")
		require.Equal(t, http.StatusOK, code)
		windows := body["windows"].([]any)
		require.Len(t, windows, 2)
		first := windows[0].(map[string]any)
		assert.Equal(t, "rw_2014_2016", first["window"])
		assert.Equal(t, true, first["fcr_included"])
	})

	t.Run("variants", func(t *testing.T) {
		code, body, _ := get(t, s, "/api/v1/manifest/rw_2014_2016/variants?params_hash=abc")
		require.Equal(t, http.StatusOK, code)
		assert.Len(t, body["variants"], 2)

		code, _, _ = get(t, s, "/api/v1/manifest/rw_2015_2017/variants?params_hash=abc")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("store failure", func(t *testing.T) {
		m.err = errors.New("database is locked")
		defer func() { m.err = nil }()
		code, _, _ := get(t, s, "/api/v1/manifest?params_hash=abc")
		assert.Equal(t, http.StatusInternalServerError, code)
	})

	t.Run("metrics", func(t *testing.T) {
		code, _, _ := get(t, s, "/metrics")
		assert.Equal(t, http.StatusOK, code)
	})
}
