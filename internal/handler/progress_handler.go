package handler

import (
	"net/http"

	"mailblast/internal/service"
)

// ProgressHandler answers progress polling for the UI
type ProgressHandler struct {
	progressService *service.ProgressService
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(progressService *service.ProgressService) *ProgressHandler {
	return &ProgressHandler{
		progressService: progressService,
	}
}

// Get handles GET /progress?campaignId= - returns accumulated counters,
// campaign status and the global pause state
func (h *ProgressHandler) Get(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("campaignId")
	if campaignID == "" {
		WriteValidationError(w, "campaignId query parameter is required")
		return
	}

	report, err := h.progressService.Progress(r.Context(), campaignID)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, report)
}
