package service

import (
	"context"
	"time"

	"mailblast/internal/models"
	"mailblast/internal/repository"
)

// memBounceRepo is an in-memory BounceRepository for service tests
type memBounceRepo struct {
	records      []*models.BounceRecord
	suppressions map[string]string
}

func newMemBounceRepo() *memBounceRepo {
	return &memBounceRepo{suppressions: make(map[string]string)}
}

func (r *memBounceRepo) Insert(ctx context.Context, record *models.BounceRecord) error {
	copied := *record
	r.records = append(r.records, &copied)
	return nil
}

func (r *memBounceRepo) ListByAddress(ctx context.Context, address string) ([]*models.BounceRecord, error) {
	var out []*models.BounceRecord
	for _, rec := range r.records {
		if rec.Address == address {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memBounceRepo) CountByType(ctx context.Context, address string, bounceType models.BounceType, since time.Time) (int, error) {
	count := 0
	for _, rec := range r.records {
		if rec.Address == address && rec.Type == bounceType && !rec.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *memBounceRepo) AddSuppression(ctx context.Context, address, reason string) error {
	r.suppressions[address] = reason
	return nil
}

func (r *memBounceRepo) RemoveSuppression(ctx context.Context, address string) error {
	delete(r.suppressions, address)
	return nil
}

func (r *memBounceRepo) ListSuppressed(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(r.suppressions))
	for addr := range r.suppressions {
		out = append(out, addr)
	}
	return out, nil
}

// memChunkRepo is an in-memory ChunkRepository for service tests
type memChunkRepo struct {
	chunks map[string]map[int]*repository.ChunkRecord
}

func newMemChunkRepo() *memChunkRepo {
	return &memChunkRepo{chunks: make(map[string]map[int]*repository.ChunkRecord)}
}

func (r *memChunkRepo) Record(ctx context.Context, chunk *repository.ChunkRecord) (bool, error) {
	if r.chunks[chunk.CampaignID] == nil {
		r.chunks[chunk.CampaignID] = make(map[int]*repository.ChunkRecord)
	}
	if _, exists := r.chunks[chunk.CampaignID][chunk.ChunkIndex]; exists {
		return false, nil
	}
	copied := *chunk
	copied.CreatedAt = time.Now()
	r.chunks[chunk.CampaignID][chunk.ChunkIndex] = &copied
	return true, nil
}

func (r *memChunkRepo) Get(ctx context.Context, campaignID string, chunkIndex int) (*repository.ChunkRecord, error) {
	chunk, ok := r.chunks[campaignID][chunkIndex]
	if !ok {
		return nil, nil
	}
	copied := *chunk
	return &copied, nil
}

func (r *memChunkRepo) Totals(ctx context.Context, campaignID string) (*repository.ChunkTotals, error) {
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

// mockCampaignRepo mocks CampaignRepository with overridable functions
type mockCampaignRepo struct {
	CreateFunc        func(ctx context.Context, state *models.CampaignState) error
	LoadFunc          func(ctx context.Context, campaignID string) (*models.CampaignState, error)
	UpdateOutcomeFunc func(ctx context.Context, campaignID string, outcome *models.SendOutcome) error
	SetStatusFunc     func(ctx context.Context, campaignID string, status models.CampaignStatus) error
	ClearFunc         func(ctx context.Context, campaignID string) error
	OutcomesFunc      func(ctx context.Context, campaignID string) ([]models.SendOutcome, error)
	CountsFunc        func(ctx context.Context, campaignID string) (*models.CampaignCounts, error)

	Calls map[string]int
}

func newMockCampaignRepo() *mockCampaignRepo {
	return &mockCampaignRepo{Calls: make(map[string]int)}
}

func (m *mockCampaignRepo) Create(ctx context.Context, state *models.CampaignState) error {
	m.Calls["Create"]++
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, state)
	}
	return nil
}

func (m *mockCampaignRepo) Load(ctx context.Context, campaignID string) (*models.CampaignState, error) {
	m.Calls["Load"]++
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, campaignID)
	}
	return nil, nil
}

func (m *mockCampaignRepo) UpdateOutcome(ctx context.Context, campaignID string, outcome *models.SendOutcome) error {
	m.Calls["UpdateOutcome"]++
	if m.UpdateOutcomeFunc != nil {
		return m.UpdateOutcomeFunc(ctx, campaignID, outcome)
	}
	return nil
}

func (m *mockCampaignRepo) SetStatus(ctx context.Context, campaignID string, status models.CampaignStatus) error {
	m.Calls["SetStatus"]++
	if m.SetStatusFunc != nil {
		return m.SetStatusFunc(ctx, campaignID, status)
	}
	return nil
}

func (m *mockCampaignRepo) Clear(ctx context.Context, campaignID string) error {
	m.Calls["Clear"]++
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, campaignID)
	}
	return nil
}

func (m *mockCampaignRepo) Outcomes(ctx context.Context, campaignID string) ([]models.SendOutcome, error) {
	m.Calls["Outcomes"]++
	if m.OutcomesFunc != nil {
		return m.OutcomesFunc(ctx, campaignID)
	}
	return nil, nil
}

func (m *mockCampaignRepo) Counts(ctx context.Context, campaignID string) (*models.CampaignCounts, error) {
	m.Calls["Counts"]++
	if m.CountsFunc != nil {
		return m.CountsFunc(ctx, campaignID)
	}
	return nil, nil
}

func (m *mockCampaignRepo) PauseInProgress(ctx context.Context, reason string) (int, error) {
	m.Calls["PauseInProgress"]++
	return 0, nil
}

func (m *mockCampaignRepo) ResumeRateLimited(ctx context.Context) (int, error) {
	m.Calls["ResumeRateLimited"]++
	return 0, nil
}

// mockPublisher records queued dispatch jobs
type mockPublisher struct {
	Published []struct {
		CampaignID string
		Resume     bool
	}
	Err error
}

func (m *mockPublisher) PublishDispatch(campaignID string, resume bool) error {
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, struct {
		CampaignID string
		Resume     bool
	}{campaignID, resume})
	return nil
}
