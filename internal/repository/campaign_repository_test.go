package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailblast/internal/models"
)

func newMockDB(t *testing.T) (*campaignRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return &campaignRepository{db: db}, mock, func() { db.Close() }
}

func TestCampaignRepository_Create(t *testing.T) {
	repo, mock, cleanup := newMockDB(t)
	defer cleanup()

	state := &models.CampaignState{
		CampaignID: "camp-1",
		Subject:    "Welcome",
		Messages: []models.PersonalizedMessage{
			{RecipientAddress: "a@example.com", Subject: "Welcome", BodyHTML: "<p>Hi</p>"},
			{RecipientAddress: "b@example.com", Subject: "Welcome", BodyHTML: "<p>Hi</p>"},
		},
		SentIndices:   models.NewIndexSet(),
		FailedIndices: models.NewIndexSet(),
		Status:        models.CampaignStatusInProgress,
		StartedAt:     time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO campaigns`).
		WithArgs("camp-1", "Welcome", string(models.CampaignStatusInProgress), state.StartedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO campaign_messages`).
		WithArgs("camp-1", 0, "a@example.com", "Welcome", "<p>Hi</p>", sqlmock.AnyArg(), sqlmock.AnyArg(), string(models.OutcomePending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO campaign_messages`).
		WithArgs("camp-1", 1, "b@example.com", "Welcome", "<p>Hi</p>", sqlmock.AnyArg(), sqlmock.AnyArg(), string(models.OutcomePending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), state))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_LoadRebuildsIndexSets(t *testing.T) {
	repo, mock, cleanup := newMockDB(t)
	defer cleanup()

	started := time.Now()
	mock.ExpectQuery(`SELECT id, subject, status, started_at`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject", "status", "started_at"}).
			AddRow("camp-1", "Welcome", string(models.CampaignStatusPaused), started))

	mock.ExpectQuery(`SELECT idx, recipient, subject, body_html`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"idx", "recipient", "subject", "body_html", "template_fields", "attachments", "status"}).
			AddRow(0, "a@example.com", "Welcome", "<p>Hi</p>", []byte(`{"first_name":"Ann"}`), []byte(`[]`), string(models.OutcomeSuccess)).
			AddRow(1, "b@example.com", "Welcome", "<p>Hi</p>", nil, nil, string(models.OutcomeError)).
			AddRow(2, "c@example.com", "Welcome", "<p>Hi</p>", nil, nil, string(models.OutcomePending)))

	state, err := repo.Load(context.Background(), "camp-1")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, models.CampaignStatusPaused, state.Status)
	assert.Len(t, state.Messages, 3)
	assert.Equal(t, "Ann", state.Messages[0].TemplateFields["first_name"])

	assert.True(t, state.SentIndices.Contains(0))
	assert.True(t, state.FailedIndices.Contains(1))
	assert.Equal(t, []int{1, 2}, state.UnsentIndices())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_LoadMissingReturnsNil(t *testing.T) {
	repo, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT id, subject, status, started_at`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subject", "status", "started_at"}))

	state, err := repo.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestCampaignRepository_UpdateOutcome(t *testing.T) {
	repo, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE campaign_messages`).
		WithArgs("camp-1", 3, string(models.OutcomeError), 3, "rate limit").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateOutcome(context.Background(), "camp-1", &models.SendOutcome{
		Index:        3,
		Status:       models.OutcomeError,
		RetryCount:   3,
		ErrorMessage: "rate limit",
	})
	require.NoError(t, err)

	// A success outcome stores NULL instead of an empty error string
	mock.ExpectExec(`UPDATE campaign_messages`).
		WithArgs("camp-1", 4, string(models.OutcomeSuccess), 0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.UpdateOutcome(context.Background(), "camp-1", &models.SendOutcome{
		Index:  4,
		Status: models.OutcomeSuccess,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_Counts(t *testing.T) {
	repo, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT\s+c.status`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "total", "sent", "failed", "pending"}).
			AddRow(string(models.CampaignStatusPaused), 50, 12, 1, 37))

	counts, err := repo.Counts(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 12, counts.Sent)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 37, counts.Pending)
	assert.Equal(t, 50, counts.Total)

	mock.ExpectQuery(`SELECT\s+c.status`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"status", "total", "sent", "failed", "pending"}))

	counts, err = repo.Counts(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, counts)
}

func TestCampaignRepository_Clear(t *testing.T) {
	repo, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM campaign_messages`).
		WithArgs("camp-1").
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(`DELETE FROM campaigns`).
		WithArgs("camp-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Clear(context.Background(), "camp-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_PauseAndResume(t *testing.T) {
	repo, mock, cleanup := newMockDB(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE campaigns`).
		WithArgs(pauseReasonRateLimit).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.PauseInProgress(context.Background(), "429 from provider")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	mock.ExpectExec(`UPDATE campaigns`).
		WithArgs(pauseReasonRateLimit).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err = repo.ResumeRateLimited(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_RecordIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := &chunkRepository{db: db}

	mock.ExpectExec(`INSERT INTO campaign_chunks`).
		WithArgs("camp-1", 0, 3, 8, 2, 10).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.Record(context.Background(), &ChunkRecord{
		CampaignID: "camp-1", ChunkIndex: 0, TotalChunks: 3, Sent: 8, Failed: 2, Total: 10,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	// ON CONFLICT DO NOTHING reports zero affected rows on a duplicate
	mock.ExpectExec(`INSERT INTO campaign_chunks`).
		WithArgs("camp-1", 0, 3, 8, 2, 10).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err = repo.Record(context.Background(), &ChunkRecord{
		CampaignID: "camp-1", ChunkIndex: 0, TotalChunks: 3, Sent: 8, Failed: 2, Total: 10,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepository_Totals(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	repo := &chunkRepository{db: db}

	mock.ExpectQuery(`SELECT\s+COALESCE`).
		WithArgs("camp-1").
		WillReturnRows(sqlmock.NewRows([]string{"sent", "failed", "total", "chunks", "total_chunks"}).
			AddRow(19, 1, 20, 2, 3))

	totals, err := repo.Totals(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 19, totals.Sent)
	assert.Equal(t, 2, totals.Chunks)
	assert.Equal(t, 3, totals.TotalChunks)
}
