package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mailblast/internal/models"
	"mailblast/internal/provider"
)

// Dispatch loop timing defaults
const (
	DefaultMaxRetries         = 3
	DefaultRetryDelay         = 2 * time.Second
	DefaultBetweenEmailsDelay = 1 * time.Second
)

// ErrLockHeld is returned when another worker already owns a campaign
var ErrLockHeld = errors.New("campaign is locked by another worker")

// Sender is the provider gateway contract the coordinator depends on
type Sender interface {
	SendWithFallback(ctx context.Context, msg *models.PersonalizedMessage) *provider.SendResult
}

// StateStore persists campaign progress. Implemented by the campaign
// repository; the coordinator writes through it after every message outcome
// so the stored state always matches what has actually been attempted.
type StateStore interface {
	UpdateOutcome(ctx context.Context, campaignID string, outcome *models.SendOutcome) error
	SetStatus(ctx context.Context, campaignID string, status models.CampaignStatus) error
	Clear(ctx context.Context, campaignID string) error
}

// Options tunes the dispatch loop
type Options struct {
	MaxRetries         int
	RetryDelay         time.Duration
	BetweenEmailsDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.BetweenEmailsDelay <= 0 {
		o.BetweenEmailsDelay = DefaultBetweenEmailsDelay
	}
	return o
}

// Coordinator runs the sequential send loop for a campaign: one message at a
// time in index order, with per-message retries, pacing delays, global pause
// checks and crash-safe state persistence. Sequential on purpose: the
// external quota is shared, and resume bookkeeping needs deterministic order.
type Coordinator struct {
	sender  Sender
	pause   *PauseController
	lock    WorkerLock
	flags   CancelFlags
	store   StateStore
	ownerID string
	opts    Options

	// sleep is injectable so tests can drive time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a dispatch coordinator. ownerID identifies this
// worker for lock ownership; store may be nil for stateless chunk dispatch.
func NewCoordinator(sender Sender, pause *PauseController, lock WorkerLock, flags CancelFlags, store StateStore, ownerID string, opts Options) *Coordinator {
	return &Coordinator{
		sender:  sender,
		pause:   pause,
		lock:    lock,
		flags:   flags,
		store:   store,
		ownerID: ownerID,
		opts:    opts.withDefaults(),
		sleep:   sleepContext,
	}
}

// Dispatch runs the full send loop for a campaign, processing every index
// not already in SentIndices. It acquires the cross-worker lock for the
// campaign and releases it on every exit path.
func (c *Coordinator) Dispatch(ctx context.Context, state *models.CampaignState) ([]models.SendOutcome, error) {
	acquired, err := c.lock.TryAcquire(ctx, state.CampaignID, c.ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire campaign lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}
	defer func() {
		if err := c.lock.Release(context.WithoutCancel(ctx), state.CampaignID, c.ownerID); err != nil {
			log.Printf("Warning: failed to release lock for campaign %s: %v", state.CampaignID, err)
		}
	}()

	if state.SentIndices == nil {
		state.SentIndices = models.NewIndexSet()
	}
	if state.FailedIndices == nil {
		state.FailedIndices = models.NewIndexSet()
	}

	unsent := state.UnsentIndices()
	log.Printf("📨 Dispatching campaign %s: %d of %d message(s) remaining", state.CampaignID, len(unsent), len(state.Messages))

	outcomes := c.run(ctx, state, unsent)

	if state.IsComplete() {
		state.Status = models.CampaignStatusCompleted
		if c.store != nil {
			// State is only cleared on a fully clean run; anything less
			// stays persisted so the campaign can resume
			if err := c.store.Clear(ctx, state.CampaignID); err != nil {
				return outcomes, fmt.Errorf("failed to clear completed campaign: %w", err)
			}
		}
		log.Printf("✅ Campaign %s completed: %d message(s) sent", state.CampaignID, len(state.SentIndices))
		return outcomes, nil
	}

	if err := c.setStatus(ctx, state, state.Status); err != nil {
		return outcomes, err
	}
	log.Printf("🛑 Campaign %s halted (%s)", state.CampaignID, state.Summary(outcomes))
	return outcomes, nil
}

// DispatchBatch runs the same per-message policy over a standalone slice of
// messages without lock or state persistence. Used by the chunked submission
// path, where the client owns campaign-level bookkeeping.
func (c *Coordinator) DispatchBatch(ctx context.Context, campaignID string, messages []models.PersonalizedMessage) []models.SendOutcome {
	state := &models.CampaignState{
		CampaignID:    campaignID,
		Messages:      messages,
		SentIndices:   models.NewIndexSet(),
		FailedIndices: models.NewIndexSet(),
		Status:        models.CampaignStatusInProgress,
	}

	indices := make([]int, len(messages))
	for i := range messages {
		indices[i] = i
	}

	// No lock or persistence: the submitting client owns both
	c2 := *c
	c2.store = nil
	c2.lock = nil

	return c2.run(ctx, state, indices)
}

// run executes the send loop over the given indices, mutating state as it
// goes. Returned outcomes are ordered like the input indices.
func (c *Coordinator) run(ctx context.Context, state *models.CampaignState, indices []int) []models.SendOutcome {
	outcomes := make([]models.SendOutcome, 0, len(indices))

	for pos, idx := range indices {
		msg := &state.Messages[idx]

		// 1. Cooperative cancellation, checked at the top of each iteration
		if c.isCancelled(ctx, state.CampaignID) {
			log.Printf("🚫 Campaign %s cancelled by user at index %d", state.CampaignID, idx)
			outcomes = append(outcomes, c.abandonRemainder(ctx, state, indices[pos:], models.OutcomeCancelled, "cancelled by user")...)
			state.Status = models.CampaignStatusPaused
			return outcomes
		}

		// 2. Global rate-limit pause set by any dispatcher
		if c.pause != nil && c.pause.IsPaused(ctx) {
			log.Printf("⏸️  Campaign %s deferring at index %d: global rate limit pause", state.CampaignID, idx)
			outcomes = append(outcomes, c.abandonRemainder(ctx, state, indices[pos:], models.OutcomeSkipped, "rate limit pause")...)
			state.Status = models.CampaignStatusPaused
			return outcomes
		}

		// Keep the lock alive during long campaigns
		if c.lock != nil {
			if err := c.lock.Refresh(ctx, state.CampaignID, c.ownerID); err != nil {
				log.Printf("Warning: failed to refresh lock for campaign %s: %v", state.CampaignID, err)
			}
		}

		outcome := c.attempt(ctx, state, idx, msg)
		outcomes = append(outcomes, outcome)

		switch outcome.Status {
		case models.OutcomeSuccess:
			state.SentIndices.Add(idx)
			c.persistOutcome(ctx, state.CampaignID, &outcome)

			// Pacing delay between messages, skipped after the last one
			if pos < len(indices)-1 {
				if err := c.sleep(ctx, c.opts.BetweenEmailsDelay); err != nil {
					outcomes = append(outcomes, c.abandonRemainder(ctx, state, indices[pos+1:], models.OutcomeCancelled, "dispatch interrupted")...)
					state.Status = models.CampaignStatusPaused
					return outcomes
				}
			}

		case models.OutcomeError:
			state.FailedIndices.Add(idx)
			c.persistOutcome(ctx, state.CampaignID, &outcome)

			if outcome.ErrorMessage == rateLimitMessage {
				// Throttling detected: the whole fleet stops, not just this loop
				outcomes = append(outcomes, c.abandonRemainder(ctx, state, indices[pos+1:], models.OutcomeSkipped, "rate limit pause")...)
			} else {
				// Fail fast: one confirmed failure abandons the remainder
				outcomes = append(outcomes, c.abandonRemainder(ctx, state, indices[pos+1:], models.OutcomeSkipped, "skipped due to previous error")...)
			}
			state.Status = models.CampaignStatusPaused
			return outcomes

		case models.OutcomeCancelled:
			c.persistOutcome(ctx, state.CampaignID, &outcome)
			outcomes = append(outcomes, c.abandonRemainder(ctx, state, indices[pos+1:], models.OutcomeCancelled, "cancelled by user")...)
			state.Status = models.CampaignStatusPaused
			return outcomes
		}
	}

	state.Status = models.CampaignStatusCompleted
	return outcomes
}

const rateLimitMessage = "rate limit"

// attempt sends one message with up to MaxRetries attempts and a fixed delay
// between them. Non-retryable errors abort the retry loop immediately; a
// throttling response triggers the global pause.
func (c *Coordinator) attempt(ctx context.Context, state *models.CampaignState, idx int, msg *models.PersonalizedMessage) models.SendOutcome {
	outcome := models.SendOutcome{
		RecipientAddress: msg.RecipientAddress,
		Index:            idx,
		Status:           models.OutcomePending,
	}

	for attemptNum := 1; attemptNum <= c.opts.MaxRetries; attemptNum++ {
		// Cancellation is also honored between retry attempts
		if attemptNum > 1 && c.isCancelled(ctx, state.CampaignID) {
			outcome.Status = models.OutcomeCancelled
			outcome.ErrorMessage = "cancelled by user"
			return outcome
		}

		result := c.sender.SendWithFallback(ctx, msg)
		if result.Success {
			outcome.Status = models.OutcomeSuccess
			outcome.ErrorMessage = ""
			return outcome
		}

		outcome.RetryCount = attemptNum

		if provider.IsRateLimited(result.Err) {
			// Stop retrying locally; suspend the whole fleet instead
			if c.pause != nil {
				if err := c.pause.TriggerPause(ctx, result.Err.Error()); err != nil {
					log.Printf("Warning: failed to trigger global pause: %v", err)
				}
			}
			outcome.Status = models.OutcomeError
			outcome.ErrorMessage = rateLimitMessage
			return outcome
		}

		if provider.IsFatal(result.Err) {
			outcome.Status = models.OutcomeError
			outcome.ErrorMessage = result.Err.Error()
			return outcome
		}

		// Retryable: wait and go again, unless the budget is spent
		if attemptNum < c.opts.MaxRetries {
			log.Printf("🔁 Attempt %d/%d failed for %s: %v", attemptNum, c.opts.MaxRetries, msg.RecipientAddress, result.Err)
			outcome.Status = models.OutcomeRetrying
			outcome.ErrorMessage = result.Err.Error()
			c.persistOutcome(ctx, state.CampaignID, &outcome)

			if err := c.sleep(ctx, c.opts.RetryDelay); err != nil {
				outcome.Status = models.OutcomeCancelled
				outcome.ErrorMessage = "dispatch interrupted"
				return outcome
			}
			continue
		}

		outcome.Status = models.OutcomeError
		outcome.ErrorMessage = result.Err.Error()
	}

	return outcome
}

// abandonRemainder marks every remaining index with the given terminal
// status and persists each outcome, so nothing is silently dropped
func (c *Coordinator) abandonRemainder(ctx context.Context, state *models.CampaignState, remaining []int, status models.OutcomeStatus, reason string) []models.SendOutcome {
	outcomes := make([]models.SendOutcome, 0, len(remaining))
	for _, idx := range remaining {
		outcome := models.SendOutcome{
			RecipientAddress: state.Messages[idx].RecipientAddress,
			Index:            idx,
			Status:           status,
			ErrorMessage:     reason,
		}
		c.persistOutcome(ctx, state.CampaignID, &outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (c *Coordinator) isCancelled(ctx context.Context, campaignID string) bool {
	if ctx.Err() != nil {
		return true
	}
	if c.flags == nil {
		return false
	}
	cancelled, err := c.flags.IsCancelled(ctx, campaignID)
	if err != nil {
		log.Printf("Warning: failed to read cancel flag for campaign %s: %v", campaignID, err)
		return false
	}
	return cancelled
}

func (c *Coordinator) persistOutcome(ctx context.Context, campaignID string, outcome *models.SendOutcome) {
	if c.store == nil {
		return
	}
	if err := c.store.UpdateOutcome(ctx, campaignID, outcome); err != nil {
		log.Printf("Warning: failed to persist outcome %d for campaign %s: %v", outcome.Index, campaignID, err)
	}
}

func (c *Coordinator) setStatus(ctx context.Context, state *models.CampaignState, status models.CampaignStatus) error {
	state.Status = status
	if c.store == nil {
		return nil
	}
	if err := c.store.SetStatus(ctx, state.CampaignID, status); err != nil {
		return fmt.Errorf("failed to persist campaign status: %w", err)
	}
	return nil
}

// sleepContext waits for the duration or until the context is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
