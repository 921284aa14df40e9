package repository

import (
	"context"
	"database/sql"
	"fmt"
)

type chunkRepository struct {
	db *sql.DB
}

// NewChunkRepository creates a new chunk submission repository
func NewChunkRepository(db *sql.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// Record stores one chunk submission. Returns false when the chunk was
// already recorded; duplicate deliveries of a retried chunk are ignored so
// counters are never incremented twice for the same chunk index.
func (r *chunkRepository) Record(ctx context.Context, chunk *ChunkRecord) (bool, error) {
	query := `
		INSERT INTO campaign_chunks (campaign_id, chunk_index, total_chunks, sent, failed, total)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (campaign_id, chunk_index) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		chunk.CampaignID, chunk.ChunkIndex, chunk.TotalChunks,
		chunk.Sent, chunk.Failed, chunk.Total)
	if err != nil {
		return false, fmt.Errorf("failed to record chunk: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check chunk insert: %w", err)
	}
	return affected > 0, nil
}

// Get returns a previously recorded chunk, or nil
func (r *chunkRepository) Get(ctx context.Context, campaignID string, chunkIndex int) (*ChunkRecord, error) {
	query := `
		SELECT campaign_id, chunk_index, total_chunks, sent, failed, total, created_at
		FROM campaign_chunks
		WHERE campaign_id = $1 AND chunk_index = $2
	`

	chunk := &ChunkRecord{}
	err := r.db.QueryRowContext(ctx, query, campaignID, chunkIndex).Scan(
		&chunk.CampaignID, &chunk.ChunkIndex, &chunk.TotalChunks,
		&chunk.Sent, &chunk.Failed, &chunk.Total, &chunk.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return chunk, nil
}

// Totals accumulates sent/failed counters across every recorded chunk
func (r *chunkRepository) Totals(ctx context.Context, campaignID string) (*ChunkTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(sent), 0),
			COALESCE(SUM(failed), 0),
			COALESCE(SUM(total), 0),
			COUNT(*),
			COALESCE(MAX(total_chunks), 0)
		FROM campaign_chunks
		WHERE campaign_id = $1
	`

	totals := &ChunkTotals{}
	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(
		&totals.Sent, &totals.Failed, &totals.Total, &totals.Chunks, &totals.TotalChunks)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk totals: %w", err)
	}
	return totals, nil
}
