package service

import (
	"context"
	"fmt"

	"mailblast/internal/dispatch"
	"mailblast/internal/models"
	"mailblast/internal/repository"
)

// GlobalPauseInfo reports the shared rate-limit pause to polling clients
type GlobalPauseInfo struct {
	IsPaused           bool   `json:"isPaused"`
	PauseTimeRemaining int64  `json:"pauseTimeRemaining"` // milliseconds
	Reason             string `json:"reason,omitempty"`
}

// ProgressReport answers a progress poll for one campaign
type ProgressReport struct {
	CampaignID  string                `json:"campaignId"`
	Sent        int                   `json:"sent"`
	Failed      int                   `json:"failed"`
	Total       int                   `json:"total"`
	Status      models.CampaignStatus `json:"status"`
	GlobalPause GlobalPauseInfo       `json:"globalPause"`
}

// ChunkSummary is the accumulated result of one chunk submission
type ChunkSummary struct {
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	Total     int  `json:"total"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// ProgressService aggregates dispatch progress for polling. Worker-dispatched
// campaigns report through the persisted campaign state; chunked client
// submissions accumulate in the chunk store, de-duplicated by chunk index so
// a network-level retry of an already-counted chunk cannot double-count.
type ProgressService struct {
	campaignRepo repository.CampaignRepository
	chunkRepo    repository.ChunkRepository
	pause        *dispatch.PauseController
}

// NewProgressService creates a new progress service
func NewProgressService(campaignRepo repository.CampaignRepository, chunkRepo repository.ChunkRepository, pause *dispatch.PauseController) *ProgressService {
	return &ProgressService{
		campaignRepo: campaignRepo,
		chunkRepo:    chunkRepo,
		pause:        pause,
	}
}

// RecordChunk accumulates one chunk's outcomes. Counters come from the
// outcomes array itself, never from blind increments; a duplicate submission
// returns the originally recorded counts.
func (s *ProgressService) RecordChunk(ctx context.Context, campaignID string, chunkIndex, totalChunks int, outcomes []models.SendOutcome) (*ChunkSummary, error) {
	if campaignID == "" {
		return nil, &ValidationError{Message: "campaignId is required"}
	}
	if chunkIndex < 0 || totalChunks <= 0 || chunkIndex >= totalChunks {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid chunk position %d of %d", chunkIndex, totalChunks)}
	}

	summary := &ChunkSummary{Total: len(outcomes)}
	for i := range outcomes {
		switch outcomes[i].Status {
		case models.OutcomeSuccess:
			summary.Sent++
		case models.OutcomeError:
			summary.Failed++
		}
	}

	inserted, err := s.chunkRepo.Record(ctx, &repository.ChunkRecord{
		CampaignID:  campaignID,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		Sent:        summary.Sent,
		Failed:      summary.Failed,
		Total:       summary.Total,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.chunkRepo.Get(ctx, campaignID, chunkIndex)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &ChunkSummary{Sent: existing.Sent, Failed: existing.Failed, Total: existing.Total, Duplicate: true}, nil
		}
	}
	return summary, nil
}

// RecordedChunk returns the summary of a previously recorded chunk, or nil
// when the chunk has not been seen. Lets the chunk endpoint answer duplicate
// deliveries without dispatching anything again.
func (s *ProgressService) RecordedChunk(ctx context.Context, campaignID string, chunkIndex int) (*ChunkSummary, error) {
	existing, err := s.chunkRepo.Get(ctx, campaignID, chunkIndex)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	return &ChunkSummary{Sent: existing.Sent, Failed: existing.Failed, Total: existing.Total, Duplicate: true}, nil
}

// Progress answers a poll for one campaign. Worker-dispatched campaigns are
// read from the authoritative per-message state; chunk-mode campaigns from
// the accumulated chunk counters.
func (s *ProgressService) Progress(ctx context.Context, campaignID string) (*ProgressReport, error) {
	if campaignID == "" {
		return nil, &ValidationError{Message: "campaignId is required"}
	}

	report := &ProgressReport{CampaignID: campaignID}

	counts, err := s.campaignRepo.Counts(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if counts != nil {
		report.Sent = counts.Sent
		report.Failed = counts.Failed
		report.Total = counts.Total
		report.Status = counts.Status
	} else {
		totals, err := s.chunkRepo.Totals(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if totals.Chunks == 0 {
			return nil, &NotFoundError{Resource: "campaign", ID: campaignID}
		}
		report.Sent = totals.Sent
		report.Failed = totals.Failed
		report.Total = totals.Total
		report.Status = models.CampaignStatusInProgress
		if totals.TotalChunks > 0 && totals.Chunks >= totals.TotalChunks {
			report.Status = models.CampaignStatusCompleted
		}
	}

	if s.pause != nil {
		state := s.pause.State(ctx)
		if state.IsPaused {
			report.GlobalPause = GlobalPauseInfo{
				IsPaused:           true,
				PauseTimeRemaining: s.pause.Remaining(ctx).Milliseconds(),
				Reason:             state.Reason,
			}
		}
	}

	return report, nil
}
