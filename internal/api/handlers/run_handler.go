package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ownership-graph/rollwin/internal/pipeline"
	"github.com/ownership-graph/rollwin/internal/storage/models"
	"github.com/ownership-graph/rollwin/pkg/logger"
)

type ManifestReader interface {
	ManifestEntries(paramsHash string) ([]models.ManifestEntry, error)
	GetVariantRecords(paramsHash, window string) ([]models.VariantRecord, error)
}

type RunHandler struct {
	status   *pipeline.Status
	manifest ManifestReader
}

func NewRunHandler(status *pipeline.Status, manifest ManifestReader) *RunHandler {
	return &RunHandler{
		status:   status,
		manifest: manifest,
	}
}

func (h *RunHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(h.status.Snapshot())
}

func (h *RunHandler) Ready(c *fiber.Ctx) error {
	snap := h.status.Snapshot()
	if !h.status.Ready() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not ready",
			"phase":  snap.Phase,
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
		"phase":  snap.Phase,
	})
}

// GetManifest lists the latest entry per window. params_hash defaults to the
// current run's.
func (h *RunHandler) GetManifest(c *fiber.Ctx) error {
	hash := c.Query("params_hash", h.status.Snapshot().ParamsHash)
	if hash == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "params_hash is required",
		})
	}

	entries, err := h.manifest.ManifestEntries(hash)
	if err != nil {
		logger.Error("Failed to read manifest", zap.String("params_hash", hash), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read manifest",
		})
	}

	windows := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		windows = append(windows, fiber.Map{
			"window":          e.Window,
			"start_year":      e.StartYear,
			"end_year":        e.EndYearInclusive,
			"node_file":       e.NodeFile,
			"edge_file":       e.EdgeFile,
			"predicted_file":  e.PredictedFile,
			"nodes":           e.Nodes,
			"edges":           e.Edges,
			"pruned_nodes":    e.PrunedNodes,
			"fcr_included":    e.FCRIncluded,
			"link_prediction": e.LinkPrediction,
		})
	}

	return c.JSON(fiber.Map{
		"params_hash": hash,
		"windows":     windows,
	})
}

func (h *RunHandler) GetVariants(c *fiber.Ctx) error {
	hash := c.Query("params_hash", h.status.Snapshot().ParamsHash)
	window := c.Params("window")

	records, err := h.manifest.GetVariantRecords(hash, window)
	if err != nil {
		logger.Error("Failed to read variant records", zap.String("window", window), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read variant records",
		})
	}
	if len(records) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No link prediction results for window",
		})
	}

	variants := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		variants = append(variants, fiber.Map{
			"variant":   r.Variant,
			"selected":  r.Selected,
			"skipped":   r.Skipped,
			"auc":       r.AUC,
			"threshold": r.Threshold,
			"recall":    r.Recall,
			"precision": r.Precision,
			"fbeta":     r.FBeta,
			"c":         r.C,
		})
	}

	return c.JSON(fiber.Map{
		"window":   window,
		"variants": variants,
	})
}
