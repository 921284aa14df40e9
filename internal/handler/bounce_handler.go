package handler

import (
	"io"
	"net/http"

	"mailblast/internal/service"
)

// BounceHandler ingests provider bounce/complaint webhooks
type BounceHandler struct {
	suppressionService *service.SuppressionService
}

// NewBounceHandler creates a new bounce webhook handler
func NewBounceHandler(suppressionService *service.SuppressionService) *BounceHandler {
	return &BounceHandler{
		suppressionService: suppressionService,
	}
}

// Receive handles POST /webhooks/bounce?provider= - normalizes the payload
// into a bounce record and re-evaluates the address's eligibility
func (h *BounceHandler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		WriteValidationError(w, "provider query parameter is required")
		return
	}
	campaignID := r.URL.Query().Get("campaignId")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty or unreadable")
		return
	}

	record, err := h.suppressionService.Classify(body, provider, campaignID)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	health, err := h.suppressionService.RecordAndEvaluate(r.Context(), record)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, map[string]interface{}{
		"record": record,
		"health": health,
	})
}

// Unsuppress handles POST /suppressions/unsuppress - removes a re-verified
// address from the suppression list
func (h *BounceHandler) Unsuppress(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		WriteValidationError(w, "address query parameter is required")
		return
	}

	if err := h.suppressionService.Unsuppress(r.Context(), address); err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteNoContent(w)
}
