// backend/src/handlers/pipeline_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/patrickmn/go-cache"
	"github.com/username/cryptofolio/backend/src/corrections"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/processors"
	"github.com/username/cryptofolio/backend/src/services"
	"github.com/username/cryptofolio/backend/src/utils"
)

// PipelineHandler triggers a full re-run of the batch pipeline.
type PipelineHandler struct {
	pipelineService services.PipelineService
	reportCache     *cache.Cache
}

func NewPipelineHandler(pipelineService services.PipelineService, reportCache *cache.Cache) *PipelineHandler {
	return &PipelineHandler{
		pipelineService: pipelineService,
		reportCache:     reportCache,
	}
}

func (h *PipelineHandler) HandleRunPipeline(w http.ResponseWriter, r *http.Request) {
	logger.L.Info("Handling RunPipeline")
	result, err := h.pipelineService.Run()
	if err != nil {
		logger.L.Error("Pipeline run failed", "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Pipeline run failed: %v", err), pipelineErrorStatus(err))
		return
	}

	if h.reportCache != nil {
		h.reportCache.Flush()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"raw_events":       len(result.RawEvents),
		"effective_events": len(result.EffectiveEvents),
		"acquisition_lots": len(result.Inventory.Lots),
		"disposal_links":   len(result.Inventory.DisposalLinks),
		"tax_events":       len(result.TaxEvents),
	})
}

// pipelineErrorStatus maps correction and inventory failures to 422 so the
// caller can tell bad inputs apart from server faults.
func pipelineErrorStatus(err error) int {
	var unknownOrigin *corrections.UnknownOriginError
	var conflicting *corrections.ConflictingCorrectionError
	var insufficientBalance *processors.InsufficientBalanceError
	var insufficientLots *processors.InsufficientLotsError
	if errors.As(err, &unknownOrigin) ||
		errors.As(err, &conflicting) ||
		errors.As(err, &insufficientBalance) ||
		errors.As(err, &insufficientLots) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
