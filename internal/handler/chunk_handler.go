package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"mailblast/internal/dispatch"
	"mailblast/internal/models"
	"mailblast/internal/service"
)

// ChunkHandler handles chunked batch submissions: the client splits a
// campaign across network calls and the server dispatches each slice
type ChunkHandler struct {
	coordinator     *dispatch.Coordinator
	progressService *service.ProgressService
}

// NewChunkHandler creates a new chunk handler
func NewChunkHandler(coordinator *dispatch.Coordinator, progressService *service.ProgressService) *ChunkHandler {
	return &ChunkHandler{
		coordinator:     coordinator,
		progressService: progressService,
	}
}

// SendChunkRequest is the POST /send-chunk body
type SendChunkRequest struct {
	CampaignID         string                       `json:"campaignId"`
	ChunkIndex         int                          `json:"chunkIndex"`
	TotalChunks        int                          `json:"totalChunks"`
	PersonalizedEmails []models.PersonalizedMessage `json:"personalizedEmails"`
}

// SendChunkResponse is the POST /send-chunk reply
type SendChunkResponse struct {
	Results []models.SendOutcome  `json:"results"`
	Summary *service.ChunkSummary `json:"summary"`
}

// SendChunk handles POST /send-chunk - dispatches one slice of messages and
// records the outcome counts. A chunk index that was already recorded is not
// re-sent; the original counts are returned instead.
func (h *ChunkHandler) SendChunk(w http.ResponseWriter, r *http.Request) {
	var req SendChunkRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
			return
		}
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return
	}

	if req.CampaignID == "" {
		WriteValidationError(w, "campaignId is required")
		return
	}
	if len(req.PersonalizedEmails) == 0 {
		WriteValidationError(w, "personalizedEmails cannot be empty")
		return
	}

	// Duplicate delivery of a retried chunk: answer from the record without
	// sending anything again
	if existing, err := h.progressService.RecordedChunk(r.Context(), req.CampaignID, req.ChunkIndex); err == nil && existing != nil {
		WriteOK(w, SendChunkResponse{Results: nil, Summary: existing})
		return
	}

	outcomes := h.coordinator.DispatchBatch(r.Context(), req.CampaignID, req.PersonalizedEmails)

	summary, err := h.progressService.RecordChunk(r.Context(), req.CampaignID, req.ChunkIndex, req.TotalChunks, outcomes)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, SendChunkResponse{Results: outcomes, Summary: summary})
}
