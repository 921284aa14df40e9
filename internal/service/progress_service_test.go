package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailblast/internal/dispatch"
	"mailblast/internal/models"
)

func chunkOutcomes(sent, failed int) []models.SendOutcome {
	outcomes := make([]models.SendOutcome, 0, sent+failed)
	for i := 0; i < sent; i++ {
		outcomes = append(outcomes, models.SendOutcome{Index: i, Status: models.OutcomeSuccess})
	}
	for i := 0; i < failed; i++ {
		outcomes = append(outcomes, models.SendOutcome{Index: sent + i, Status: models.OutcomeError})
	}
	return outcomes
}

func TestRecordChunk_CountsFromOutcomes(t *testing.T) {
	svc := NewProgressService(newMockCampaignRepo(), newMemChunkRepo(), nil)

	summary, err := svc.RecordChunk(context.Background(), "camp-1", 0, 3, chunkOutcomes(8, 2))
	require.NoError(t, err)

	assert.Equal(t, 8, summary.Sent)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 10, summary.Total)
	assert.False(t, summary.Duplicate)
}

func TestRecordChunk_DuplicateReturnsOriginalCounts(t *testing.T) {
	ctx := context.Background()
	svc := NewProgressService(newMockCampaignRepo(), newMemChunkRepo(), nil)

	_, err := svc.RecordChunk(ctx, "camp-1", 1, 3, chunkOutcomes(5, 1))
	require.NoError(t, err)

	// A retried delivery of the same chunk reports different counts; the
	// first recording wins and nothing is double-counted
	summary, err := svc.RecordChunk(ctx, "camp-1", 1, 3, chunkOutcomes(6, 0))
	require.NoError(t, err)
	assert.True(t, summary.Duplicate)
	assert.Equal(t, 5, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
}

func TestRecordChunk_ValidatesPosition(t *testing.T) {
	svc := NewProgressService(newMockCampaignRepo(), newMemChunkRepo(), nil)
	ctx := context.Background()

	_, err := svc.RecordChunk(ctx, "", 0, 3, nil)
	assert.Error(t, err)
	_, err = svc.RecordChunk(ctx, "camp-1", -1, 3, nil)
	assert.Error(t, err)
	_, err = svc.RecordChunk(ctx, "camp-1", 3, 3, nil)
	assert.Error(t, err)
	_, err = svc.RecordChunk(ctx, "camp-1", 0, 0, nil)
	assert.Error(t, err)
}

func TestRecordedChunk(t *testing.T) {
	ctx := context.Background()
	svc := NewProgressService(newMockCampaignRepo(), newMemChunkRepo(), nil)

	seen, err := svc.RecordedChunk(ctx, "camp-1", 0)
	require.NoError(t, err)
	assert.Nil(t, seen)

	_, err = svc.RecordChunk(ctx, "camp-1", 0, 2, chunkOutcomes(4, 0))
	require.NoError(t, err)

	seen, err = svc.RecordedChunk(ctx, "camp-1", 0)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.True(t, seen.Duplicate)
	assert.Equal(t, 4, seen.Sent)
}

func TestProgress_WorkerCampaignUsesPersistedCounts(t *testing.T) {
	campaignRepo := newMockCampaignRepo()
	campaignRepo.CountsFunc = func(ctx context.Context, campaignID string) (*models.CampaignCounts, error) {
		return &models.CampaignCounts{
			Sent: 12, Failed: 1, Pending: 37, Total: 50,
			Status: models.CampaignStatusPaused,
		}, nil
	}
	svc := NewProgressService(campaignRepo, newMemChunkRepo(), nil)

	report, err := svc.Progress(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 12, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 50, report.Total)
	assert.Equal(t, models.CampaignStatusPaused, report.Status)
}

func TestProgress_ChunkCampaignAggregates(t *testing.T) {
	ctx := context.Background()
	svc := NewProgressService(newMockCampaignRepo(), newMemChunkRepo(), nil)

	_, err := svc.RecordChunk(ctx, "chunked", 0, 3, chunkOutcomes(10, 0))
	require.NoError(t, err)
	_, err = svc.RecordChunk(ctx, "chunked", 1, 3, chunkOutcomes(9, 1))
	require.NoError(t, err)

	report, err := svc.Progress(ctx, "chunked")
	require.NoError(t, err)
	assert.Equal(t, 19, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 20, report.Total)
	assert.Equal(t, models.CampaignStatusInProgress, report.Status)

	// The final chunk completes the campaign
	_, err = svc.RecordChunk(ctx, "chunked", 2, 3, chunkOutcomes(10, 0))
	require.NoError(t, err)

	report, err = svc.Progress(ctx, "chunked")
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, report.Status)
}

func TestProgress_UnknownCampaign(t *testing.T) {
	svc := NewProgressService(newMockCampaignRepo(), newMemChunkRepo(), nil)

	_, err := svc.Progress(context.Background(), "nope")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestProgress_IncludesGlobalPause(t *testing.T) {
	ctx := context.Background()
	pause := dispatch.NewPauseController(dispatch.NewMemoryPauseStore(), nil, 5*time.Minute)
	require.NoError(t, pause.TriggerPause(ctx, "429 from provider"))

	campaignRepo := newMockCampaignRepo()
	campaignRepo.CountsFunc = func(ctx context.Context, campaignID string) (*models.CampaignCounts, error) {
		return &models.CampaignCounts{Total: 10, Status: models.CampaignStatusPaused}, nil
	}
	svc := NewProgressService(campaignRepo, newMemChunkRepo(), pause)

	report, err := svc.Progress(ctx, "camp-1")
	require.NoError(t, err)
	assert.True(t, report.GlobalPause.IsPaused)
	assert.Greater(t, report.GlobalPause.PauseTimeRemaining, int64(0))
	assert.Equal(t, "429 from provider", report.GlobalPause.Reason)
}
