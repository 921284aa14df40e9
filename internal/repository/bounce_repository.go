package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mailblast/internal/models"
)

type bounceRepository struct {
	db *sql.DB
}

// NewBounceRepository creates a new bounce record repository
func NewBounceRepository(db *sql.DB) BounceRepository {
	return &bounceRepository{db: db}
}

// Insert appends a bounce record. Records are never updated or deleted.
func (r *bounceRepository) Insert(ctx context.Context, record *models.BounceRecord) error {
	query := `
		INSERT INTO bounce_records (id, address, type, category, reason, campaign_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var campaignID *string
	if record.CampaignID != "" {
		campaignID = &record.CampaignID
	}

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.Address, record.Type, record.Category,
		record.Reason, campaignID, record.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert bounce record: %w", err)
	}
	return nil
}

// ListByAddress returns all bounce records for an address, newest first
func (r *bounceRepository) ListByAddress(ctx context.Context, address string) ([]*models.BounceRecord, error) {
	query := `
		SELECT id, address, type, category, reason, campaign_id, created_at
		FROM bounce_records
		WHERE address = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("failed to query bounce records: %w", err)
	}
	defer rows.Close()

	var records []*models.BounceRecord
	for rows.Next() {
		record := &models.BounceRecord{}
		var campaignID sql.NullString
		if err := rows.Scan(&record.ID, &record.Address, &record.Type, &record.Category,
			&record.Reason, &campaignID, &record.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan bounce record: %w", err)
		}
		record.CampaignID = campaignID.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bounce records: %w", err)
	}
	return records, nil
}

// CountByType counts records of a type for an address since the given time
func (r *bounceRepository) CountByType(ctx context.Context, address string, bounceType models.BounceType, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM bounce_records
		WHERE address = $1 AND type = $2 AND created_at >= $3
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, address, bounceType, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bounce records: %w", err)
	}
	return count, nil
}

// AddSuppression adds an address to the suppression list (idempotent)
func (r *bounceRepository) AddSuppression(ctx context.Context, address, reason string) error {
	query := `
		INSERT INTO suppressions (address, reason)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET reason = EXCLUDED.reason
	`

	if _, err := r.db.ExecContext(ctx, query, address, reason); err != nil {
		return fmt.Errorf("failed to add suppression: %w", err)
	}
	return nil
}

// RemoveSuppression removes an address from the suppression list, used when
// an address has been explicitly re-verified
func (r *bounceRepository) RemoveSuppression(ctx context.Context, address string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM suppressions WHERE address = $1`, address); err != nil {
		return fmt.Errorf("failed to remove suppression: %w", err)
	}
	return nil
}

// ListSuppressed returns every suppressed address
func (r *bounceRepository) ListSuppressed(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT address FROM suppressions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query suppressions: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, fmt.Errorf("failed to scan suppression: %w", err)
		}
		addresses = append(addresses, address)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate suppressions: %w", err)
	}
	return addresses, nil
}
