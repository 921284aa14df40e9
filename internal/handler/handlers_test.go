package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailblast/internal/dispatch"
	"mailblast/internal/models"
	"mailblast/internal/provider"
	"mailblast/internal/repository"
	"mailblast/internal/service"
)

// okSender accepts every message
type okSender struct{}

func (okSender) SendWithFallback(ctx context.Context, msg *models.PersonalizedMessage) *provider.SendResult {
	return &provider.SendResult{Success: true, Provider: "fake"}
}

// memChunks is a minimal in-memory ChunkRepository
type memChunks struct {
	chunks map[string]map[int]*repository.ChunkRecord
}

func newMemChunks() *memChunks {
	return &memChunks{chunks: make(map[string]map[int]*repository.ChunkRecord)}
}

func (r *memChunks) Record(ctx context.Context, chunk *repository.ChunkRecord) (bool, error) {
	if r.chunks[chunk.CampaignID] == nil {
		r.chunks[chunk.CampaignID] = make(map[int]*repository.ChunkRecord)
	}
	if _, exists := r.chunks[chunk.CampaignID][chunk.ChunkIndex]; exists {
		return false, nil
	}
	copied := *chunk
	r.chunks[chunk.CampaignID][chunk.ChunkIndex] = &copied
	return true, nil
}

func (r *memChunks) Get(ctx context.Context, campaignID string, chunkIndex int) (*repository.ChunkRecord, error) {
	chunk, ok := r.chunks[campaignID][chunkIndex]
	if !ok {
		return nil, nil
	}
	copied := *chunk
	return &copied, nil
}

func (r *memChunks) Totals(ctx context.Context, campaignID string) (*repository.ChunkTotals, error) {
	totals := &repository.ChunkTotals{}
	for _, chunk := range r.chunks[campaignID] {
		totals.Sent += chunk.Sent
		totals.Failed += chunk.Failed
		totals.Total += chunk.Total
		totals.Chunks++
		if chunk.TotalChunks > totals.TotalChunks {
			totals.TotalChunks = chunk.TotalChunks
		}
	}
	return totals, nil
}

// noCampaigns is a CampaignRepository that knows no campaigns, forcing the
// progress service onto the chunk path
type noCampaigns struct{}

func (noCampaigns) Create(ctx context.Context, state *models.CampaignState) error { return nil }
func (noCampaigns) Load(ctx context.Context, campaignID string) (*models.CampaignState, error) {
	return nil, nil
}
func (noCampaigns) UpdateOutcome(ctx context.Context, campaignID string, outcome *models.SendOutcome) error {
	return nil
}
func (noCampaigns) SetStatus(ctx context.Context, campaignID string, status models.CampaignStatus) error {
	return nil
}
func (noCampaigns) Clear(ctx context.Context, campaignID string) error { return nil }
func (noCampaigns) Outcomes(ctx context.Context, campaignID string) ([]models.SendOutcome, error) {
	return nil, nil
}
func (noCampaigns) Counts(ctx context.Context, campaignID string) (*models.CampaignCounts, error) {
	return nil, nil
}
func (noCampaigns) PauseInProgress(ctx context.Context, reason string) (int, error) { return 0, nil }
func (noCampaigns) ResumeRateLimited(ctx context.Context) (int, error)              { return 0, nil }

// memBounces is a minimal in-memory BounceRepository
type memBounces struct {
	records      []*models.BounceRecord
	suppressions map[string]string
}

func newMemBounces() *memBounces {
	return &memBounces{suppressions: make(map[string]string)}
}

func (r *memBounces) Insert(ctx context.Context, record *models.BounceRecord) error {
	copied := *record
	r.records = append(r.records, &copied)
	return nil
}

func (r *memBounces) ListByAddress(ctx context.Context, address string) ([]*models.BounceRecord, error) {
	return nil, nil
}

func (r *memBounces) CountByType(ctx context.Context, address string, bounceType models.BounceType, since time.Time) (int, error) {
	count := 0
	for _, rec := range r.records {
		if rec.Address == address && rec.Type == bounceType && !rec.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *memBounces) AddSuppression(ctx context.Context, address, reason string) error {
	r.suppressions[address] = reason
	return nil
}

func (r *memBounces) RemoveSuppression(ctx context.Context, address string) error {
	delete(r.suppressions, address)
	return nil
}

func (r *memBounces) ListSuppressed(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(r.suppressions))
	for addr := range r.suppressions {
		out = append(out, addr)
	}
	return out, nil
}

func newChunkStack() (*ChunkHandler, *ProgressHandler) {
	coordinator := dispatch.NewCoordinator(okSender{}, nil, nil, nil, nil, "api-test", dispatch.Options{
		MaxRetries:         1,
		RetryDelay:         time.Millisecond,
		BetweenEmailsDelay: time.Millisecond,
	})
	progressSvc := service.NewProgressService(noCampaigns{}, newMemChunks(), nil)
	return NewChunkHandler(coordinator, progressSvc), NewProgressHandler(progressSvc)
}

func sendChunkBody(campaignID string, chunkIndex, totalChunks int, recipients ...string) *bytes.Buffer {
	msgs := make([]models.PersonalizedMessage, len(recipients))
	for i, r := range recipients {
		msgs[i] = models.PersonalizedMessage{RecipientAddress: r, Subject: "Hi", BodyHTML: "<p>Hi</p>"}
	}
	body, _ := json.Marshal(map[string]interface{}{
		"campaignId":         campaignID,
		"chunkIndex":         chunkIndex,
		"totalChunks":        totalChunks,
		"personalizedEmails": msgs,
	})
	return bytes.NewBuffer(body)
}

func TestSendChunk_DispatchesAndRecords(t *testing.T) {
	chunkHandler, _ := newChunkStack()

	req := httptest.NewRequest(http.MethodPost, "/send-chunk", sendChunkBody("camp-1", 0, 2, "a@example.com", "b@example.com"))
	rec := httptest.NewRecorder()
	chunkHandler.SendChunk(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SendChunkResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.Summary.Sent)
	assert.Zero(t, resp.Summary.Failed)
	assert.False(t, resp.Summary.Duplicate)
}

func TestSendChunk_DuplicateIsNotResent(t *testing.T) {
	chunkHandler, _ := newChunkStack()

	req := httptest.NewRequest(http.MethodPost, "/send-chunk", sendChunkBody("camp-1", 0, 2, "a@example.com"))
	rec := httptest.NewRecorder()
	chunkHandler.SendChunk(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Same chunk index again: answered from the record, nothing dispatched
	req = httptest.NewRequest(http.MethodPost, "/send-chunk", sendChunkBody("camp-1", 0, 2, "a@example.com"))
	rec = httptest.NewRecorder()
	chunkHandler.SendChunk(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SendChunkResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Summary.Duplicate)
	assert.Equal(t, 1, resp.Summary.Sent)
	assert.Empty(t, resp.Results)
}

func TestSendChunk_Validation(t *testing.T) {
	chunkHandler, _ := newChunkStack()

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"bad json", "{nope"},
		{"missing campaign id", `{"chunkIndex": 0, "totalChunks": 1, "personalizedEmails": [{"recipient_address": "a@example.com"}]}`},
		{"no emails", `{"campaignId": "c", "chunkIndex": 0, "totalChunks": 1, "personalizedEmails": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/send-chunk", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			chunkHandler.SendChunk(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestProgressEndpoint(t *testing.T) {
	chunkHandler, progressHandler := newChunkStack()

	req := httptest.NewRequest(http.MethodPost, "/send-chunk", sendChunkBody("camp-1", 0, 2, "a@example.com", "b@example.com"))
	chunkHandler.SendChunk(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	progressHandler.Get(rec, httptest.NewRequest(http.MethodGet, "/progress?campaignId=camp-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report service.ProgressReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, models.CampaignStatusInProgress, report.Status)

	// Unknown campaign and missing parameter
	rec = httptest.NewRecorder()
	progressHandler.Get(rec, httptest.NewRequest(http.MethodGet, "/progress?campaignId=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	progressHandler.Get(rec, httptest.NewRequest(http.MethodGet, "/progress", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBounceWebhook(t *testing.T) {
	suppressionSvc := service.NewSuppressionService(newMemBounces())
	bounceHandler := NewBounceHandler(suppressionSvc)

	payload := `{"email": "gone@example.com", "event": "bounce", "status": "5.1.1", "reason": "550 user unknown"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bounce?provider=sendgrid", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	bounceHandler.Receive(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Record models.BounceRecord   `json:"record"`
		Health models.DeliveryHealth `json:"health"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.BounceHard, resp.Record.Type)
	assert.True(t, resp.Health.ShouldSuppress)
	assert.True(t, suppressionSvc.IsSuppressed("gone@example.com"))
}

func TestBounceWebhook_Validation(t *testing.T) {
	bounceHandler := NewBounceHandler(service.NewSuppressionService(newMemBounces()))

	// Missing provider parameter
	rec := httptest.NewRecorder()
	bounceHandler.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/bounce", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty body
	rec = httptest.NewRecorder()
	bounceHandler.Receive(rec, httptest.NewRequest(http.MethodPost, "/webhooks/bounce?provider=sendgrid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnsuppressEndpoint(t *testing.T) {
	suppressionSvc := service.NewSuppressionService(newMemBounces())
	bounceHandler := NewBounceHandler(suppressionSvc)

	payload := `{"email": "gone@example.com", "event": "bounce", "status": "5.1.1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bounce?provider=sendgrid", strings.NewReader(payload))
	bounceHandler.Receive(httptest.NewRecorder(), req)
	require.True(t, suppressionSvc.IsSuppressed("gone@example.com"))

	rec := httptest.NewRecorder()
	bounceHandler.Unsuppress(rec, httptest.NewRequest(http.MethodPost, "/suppressions/unsuppress?address=gone@example.com", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, suppressionSvc.IsSuppressed("gone@example.com"))
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"not found", &service.NotFoundError{Resource: "campaign", ID: "x"}, http.StatusNotFound},
		{"validation", &service.ValidationError{Message: "bad"}, http.StatusBadRequest},
		{"business logic", &service.BusinessLogicError{Message: "no"}, http.StatusBadRequest},
		{"conflict", &service.ConflictError{Resource: "campaign", Message: "locked"}, http.StatusConflict},
		{"unknown", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleServiceError(rec, tt.err)
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error.Code)
		})
	}
}
