package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"mailblast/internal/models"
	"mailblast/internal/service"
)

// CampaignHandler handles HTTP requests for the campaign lifecycle
type CampaignHandler struct {
	campaignService *service.CampaignService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
	}
}

// Start handles POST /campaigns - builds state and queues dispatch
func (h *CampaignHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req service.StartCampaignRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
			return
		}
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	result, err := h.campaignService.StartCampaign(r.Context(), &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteCreated(w, result)
}

// Resume handles POST /campaigns/{id}/resume - re-queues the unsent subset
func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["id"]
	if campaignID == "" {
		WriteValidationError(w, "campaign id is required")
		return
	}

	result, err := h.campaignService.ResumeCampaign(r.Context(), campaignID)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, result)
}

// Cancel handles POST /campaigns/{id}/cancel - requests a cooperative stop
func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["id"]
	if campaignID == "" {
		WriteValidationError(w, "campaign id is required")
		return
	}

	if err := h.campaignService.CancelCampaign(r.Context(), campaignID); err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, map[string]string{"campaign_id": campaignID, "status": "cancel_requested"})
}

// GetStatus handles GET /campaigns/{id} - persisted counts and summary
func (h *CampaignHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	campaignID := mux.Vars(r)["id"]
	if campaignID == "" {
		WriteValidationError(w, "campaign id is required")
		return
	}

	counts, summary, err := h.campaignService.GetStatus(r.Context(), campaignID)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, StatusResponse{
		CampaignID: campaignID,
		Counts:     counts,
		Summary:    summary,
	})
}

// StatusResponse is the campaign status payload
type StatusResponse struct {
	CampaignID string                 `json:"campaign_id"`
	Counts     *models.CampaignCounts `json:"counts"`
	Summary    string                 `json:"summary,omitempty"`
}
