package repository

import (
	"context"
	"database/sql"
	"time"

	"mailblast/internal/models"
)

// CampaignRepository is the durable campaign state store. Progress is
// persisted after every message outcome so stored state always matches what
// has actually been attempted; rows are cleared only on clean completion.
type CampaignRepository interface {
	Create(ctx context.Context, state *models.CampaignState) error
	Load(ctx context.Context, campaignID string) (*models.CampaignState, error)
	UpdateOutcome(ctx context.Context, campaignID string, outcome *models.SendOutcome) error
	SetStatus(ctx context.Context, campaignID string, status models.CampaignStatus) error
	Clear(ctx context.Context, campaignID string) error
	Outcomes(ctx context.Context, campaignID string) ([]models.SendOutcome, error)
	Counts(ctx context.Context, campaignID string) (*models.CampaignCounts, error)

	// Used by the global pause controller
	PauseInProgress(ctx context.Context, reason string) (int, error)
	ResumeRateLimited(ctx context.Context) (int, error)
}

// BounceRepository stores append-only bounce records and the derived
// suppression list
type BounceRepository interface {
	Insert(ctx context.Context, record *models.BounceRecord) error
	ListByAddress(ctx context.Context, address string) ([]*models.BounceRecord, error)
	CountByType(ctx context.Context, address string, bounceType models.BounceType, since time.Time) (int, error)

	AddSuppression(ctx context.Context, address, reason string) error
	RemoveSuppression(ctx context.Context, address string) error
	ListSuppressed(ctx context.Context) ([]string, error)
}

// ChunkRepository accumulates chunked batch submissions per campaign.
// Recording is idempotent per (campaign_id, chunk_index): a retried chunk
// must not double-count.
type ChunkRepository interface {
	Record(ctx context.Context, chunk *ChunkRecord) (bool, error)
	Get(ctx context.Context, campaignID string, chunkIndex int) (*ChunkRecord, error)
	Totals(ctx context.Context, campaignID string) (*ChunkTotals, error)
}

// ChunkRecord is one accumulated chunk submission
type ChunkRecord struct {
	CampaignID  string    `json:"campaign_id" db:"campaign_id"`
	ChunkIndex  int       `json:"chunk_index" db:"chunk_index"`
	TotalChunks int       `json:"total_chunks" db:"total_chunks"`
	Sent        int       `json:"sent" db:"sent"`
	Failed      int       `json:"failed" db:"failed"`
	Total       int       `json:"total" db:"total"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ChunkTotals is the accumulated progress across recorded chunks
type ChunkTotals struct {
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	Total       int `json:"total"`
	Chunks      int `json:"chunks"`
	TotalChunks int `json:"total_chunks"`
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
