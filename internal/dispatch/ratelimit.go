package dispatch

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultPauseDuration is how long sending stays suspended after throttling
const DefaultPauseDuration = 5 * time.Minute

// PauseState is the cluster-wide rate-limit pause record. It is shared by
// all dispatchers because the external provider quota is shared.
type PauseState struct {
	IsPaused       bool          `json:"is_paused"`
	PauseStartedAt time.Time     `json:"pause_started_at"`
	PauseDuration  time.Duration `json:"pause_duration"`
	Reason         string        `json:"reason"`
}

// Elapsed reports whether the pause window has passed at the given instant
func (s *PauseState) Elapsed(now time.Time) bool {
	return !s.IsPaused || now.Sub(s.PauseStartedAt) >= s.PauseDuration
}

// PauseStore persists the shared pause state
type PauseStore interface {
	Get(ctx context.Context) (*PauseState, error)
	Set(ctx context.Context, state *PauseState) error
	Clear(ctx context.Context) error
}

// CampaignPauser flips campaign statuses when a global pause starts or lifts.
// Implemented by the campaign repository.
type CampaignPauser interface {
	// PauseInProgress marks every in-progress campaign paused with the
	// rate-limit marker, returning how many were flipped
	PauseInProgress(ctx context.Context, reason string) (int, error)

	// ResumeRateLimited flips campaigns paused by the rate limiter back to
	// in-progress (an explicit dispatch is still required to restart them)
	ResumeRateLimited(ctx context.Context) (int, error)
}

// PauseController tracks whether sending is globally suspended due to
// provider throttling. All dispatchers consult it before each send and any
// dispatcher can trigger it. Concurrent triggers are last-write-wins; the
// effect (stop everyone for the window) is idempotent in intent.
type PauseController struct {
	store     PauseStore
	campaigns CampaignPauser
	duration  time.Duration
	now       func() time.Time

	mu sync.Mutex
}

// NewPauseController creates a pause controller. campaigns may be nil when
// no campaign store is attached (e.g. chunk-only dispatch).
func NewPauseController(store PauseStore, campaigns CampaignPauser, duration time.Duration) *PauseController {
	if duration <= 0 {
		duration = DefaultPauseDuration
	}
	return &PauseController{
		store:     store,
		campaigns: campaigns,
		duration:  duration,
		now:       time.Now,
	}
}

// TriggerPause suspends all sending for the configured window
func (c *PauseController) TriggerPause(ctx context.Context, reason string) error {
	return c.TriggerPauseFor(ctx, reason, c.duration)
}

// TriggerPauseFor suspends all sending for an explicit window
func (c *PauseController) TriggerPauseFor(ctx context.Context, reason string, duration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := &PauseState{
		IsPaused:       true,
		PauseStartedAt: c.now(),
		PauseDuration:  duration,
		Reason:         reason,
	}
	if err := c.store.Set(ctx, state); err != nil {
		return err
	}

	log.Printf("⛔ Global send pause triggered for %s: %s", duration, reason)

	if c.campaigns != nil {
		count, err := c.campaigns.PauseInProgress(ctx, reason)
		if err != nil {
			return err
		}
		if count > 0 {
			log.Printf("⏸️  Paused %d in-progress campaign(s)", count)
		}
	}
	return nil
}

// IsPaused reports whether sending is currently suspended. A pause whose
// window has elapsed is cleared on read and previously-paused campaigns are
// flipped back to in-progress.
func (c *PauseController) IsPaused(ctx context.Context) bool {
	return c.Remaining(ctx) > 0
}

// Remaining returns how long the current pause has left, or zero
func (c *PauseController) Remaining(ctx context.Context) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := c.store.Get(ctx)
	if err != nil {
		// Fail open: an unreachable store must not stop all sending forever
		log.Printf("Warning: failed to read pause state: %v", err)
		return 0
	}
	if state == nil || !state.IsPaused {
		return 0
	}

	remaining := state.PauseDuration - c.now().Sub(state.PauseStartedAt)
	if remaining > 0 {
		return remaining
	}

	// Window elapsed: lift the pause
	if err := c.store.Clear(ctx); err != nil {
		log.Printf("Warning: failed to clear elapsed pause: %v", err)
		return 0
	}
	log.Printf("▶️  Global send pause lifted (was: %s)", state.Reason)

	if c.campaigns != nil {
		count, err := c.campaigns.ResumeRateLimited(ctx)
		if err != nil {
			log.Printf("Warning: failed to resume rate-limited campaigns: %v", err)
		} else if count > 0 {
			log.Printf("▶️  Marked %d campaign(s) resumable", count)
		}
	}
	return 0
}

// State returns the current pause state for reporting
func (c *PauseController) State(ctx context.Context) *PauseState {
	remaining := c.Remaining(ctx)
	if remaining <= 0 {
		return &PauseState{}
	}
	state, err := c.store.Get(ctx)
	if err != nil || state == nil {
		return &PauseState{}
	}
	return state
}
