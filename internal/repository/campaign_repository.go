package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"mailblast/internal/models"
)

// pauseReasonRateLimit marks campaigns paused by the global rate limiter,
// so lifting the pause only flips those back and not user-paused ones
const pauseReasonRateLimit = "rate_limit"

type campaignRepository struct {
	db *sql.DB
}

// NewCampaignRepository creates a new campaign state repository
func NewCampaignRepository(db *sql.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

// Create persists a new campaign and all of its personalized messages
func (r *campaignRepository) Create(ctx context.Context, state *models.CampaignState) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO campaigns (id, subject, status, started_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.ExecContext(ctx, query, state.CampaignID, state.Subject, state.Status, state.StartedAt); err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	msgQuery := `
		INSERT INTO campaign_messages
			(campaign_id, idx, recipient, subject, body_html, template_fields, attachments, status, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
	`
	for i := range state.Messages {
		msg := &state.Messages[i]

		fields, err := json.Marshal(msg.TemplateFields)
		if err != nil {
			return fmt.Errorf("failed to encode template fields: %w", err)
		}
		attachments, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("failed to encode attachments: %w", err)
		}

		status := models.OutcomePending
		if state.SentIndices.Contains(i) {
			status = models.OutcomeSuccess
		}

		_, err = tx.ExecContext(ctx, msgQuery,
			state.CampaignID, i, msg.RecipientAddress, msg.Subject, msg.BodyHTML,
			fields, attachments, status)
		if err != nil {
			return fmt.Errorf("failed to create campaign message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load reconstructs a campaign's state, including the sent/failed index
// sets derived from per-message statuses
func (r *campaignRepository) Load(ctx context.Context, campaignID string) (*models.CampaignState, error) {
	query := `
		SELECT id, subject, status, started_at
		FROM campaigns
		WHERE id = $1
	`

	state := &models.CampaignState{
		SentIndices:   models.NewIndexSet(),
		FailedIndices: models.NewIndexSet(),
	}
	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(
		&state.CampaignID,
		&state.Subject,
		&state.Status,
		&state.StartedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}

	msgQuery := `
		SELECT idx, recipient, subject, body_html, template_fields, attachments, status
		FROM campaign_messages
		WHERE campaign_id = $1
		ORDER BY idx
	`
	rows, err := r.db.QueryContext(ctx, msgQuery, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idx         int
			msg         models.PersonalizedMessage
			fields      []byte
			attachments []byte
			status      models.OutcomeStatus
		)
		if err := rows.Scan(&idx, &msg.RecipientAddress, &msg.Subject, &msg.BodyHTML, &fields, &attachments, &status); err != nil {
			return nil, fmt.Errorf("failed to scan campaign message: %w", err)
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &msg.TemplateFields); err != nil {
				return nil, fmt.Errorf("failed to decode template fields: %w", err)
			}
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
				return nil, fmt.Errorf("failed to decode attachments: %w", err)
			}
		}

		state.Messages = append(state.Messages, msg)
		switch status {
		case models.OutcomeSuccess:
			state.SentIndices.Add(idx)
		case models.OutcomeError:
			state.FailedIndices.Add(idx)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaign messages: %w", err)
	}

	return state, nil
}

// UpdateOutcome persists one message outcome
func (r *campaignRepository) UpdateOutcome(ctx context.Context, campaignID string, outcome *models.SendOutcome) error {
	query := `
		UPDATE campaign_messages
		SET status = $3,
			retry_count = $4,
			error_message = $5,
			updated_at = NOW()
		WHERE campaign_id = $1 AND idx = $2
	`

	var errMsg *string
	if outcome.ErrorMessage != "" {
		errMsg = &outcome.ErrorMessage
	}

	_, err := r.db.ExecContext(ctx, query, campaignID, outcome.Index, outcome.Status, outcome.RetryCount, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update outcome: %w", err)
	}
	return nil
}

// SetStatus updates the campaign status. Moving back to in-progress clears
// any pause marker.
func (r *campaignRepository) SetStatus(ctx context.Context, campaignID string, status models.CampaignStatus) error {
	query := `
		UPDATE campaigns
		SET status = $2,
			pause_reason = CASE WHEN $2 = 'in-progress' THEN NULL ELSE pause_reason END,
			updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, campaignID, status)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	return nil
}

// Clear removes the campaign and its messages. Called only once every
// message reached success.
func (r *campaignRepository) Clear(ctx context.Context, campaignID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_messages WHERE campaign_id = $1`, campaignID); err != nil {
		return fmt.Errorf("failed to delete campaign messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, campaignID); err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Outcomes returns the persisted outcome for every message index
func (r *campaignRepository) Outcomes(ctx context.Context, campaignID string) ([]models.SendOutcome, error) {
	query := `
		SELECT idx, recipient, status, retry_count, error_message
		FROM campaign_messages
		WHERE campaign_id = $1
		ORDER BY idx
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.SendOutcome
	for rows.Next() {
		var (
			o      models.SendOutcome
			errMsg sql.NullString
		)
		if err := rows.Scan(&o.Index, &o.RecipientAddress, &o.Status, &o.RetryCount, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.ErrorMessage = errMsg.String
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// Counts returns aggregate outcome counts for progress polling
func (r *campaignRepository) Counts(ctx context.Context, campaignID string) (*models.CampaignCounts, error) {
	query := `
		SELECT
			c.status,
			COUNT(m.idx) AS total,
			COUNT(m.idx) FILTER (WHERE m.status = 'success') AS sent,
			COUNT(m.idx) FILTER (WHERE m.status = 'error') AS failed,
			COUNT(m.idx) FILTER (WHERE m.status IN ('pending', 'retrying')) AS pending
		FROM campaigns c
		LEFT JOIN campaign_messages m ON m.campaign_id = c.id
		WHERE c.id = $1
		GROUP BY c.status
	`

	counts := &models.CampaignCounts{}
	err := r.db.QueryRowContext(ctx, query, campaignID).Scan(
		&counts.Status,
		&counts.Total,
		&counts.Sent,
		&counts.Failed,
		&counts.Pending,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign counts: %w", err)
	}
	return counts, nil
}

// PauseInProgress marks every in-progress campaign paused by the rate
// limiter, returning how many were flipped
func (r *campaignRepository) PauseInProgress(ctx context.Context, reason string) (int, error) {
	query := `
		UPDATE campaigns
		SET status = 'paused', pause_reason = $1, updated_at = NOW()
		WHERE status = 'in-progress'
	`

	result, err := r.db.ExecContext(ctx, query, pauseReasonRateLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to pause in-progress campaigns: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count paused campaigns: %w", err)
	}
	return int(affected), nil
}

// ResumeRateLimited flips campaigns paused by the rate limiter back to
// in-progress once the pause window lifts
func (r *campaignRepository) ResumeRateLimited(ctx context.Context) (int, error) {
	query := `
		UPDATE campaigns
		SET status = 'in-progress', pause_reason = NULL, updated_at = NOW()
		WHERE status = 'paused' AND pause_reason = $1
	`

	result, err := r.db.ExecContext(ctx, query, pauseReasonRateLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to resume rate-limited campaigns: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count resumed campaigns: %w", err)
	}
	return int(affected), nil
}
