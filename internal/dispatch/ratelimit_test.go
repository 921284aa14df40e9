package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePauser records campaign status flips
type fakePauser struct {
	Paused  int
	Resumed int
}

func (f *fakePauser) PauseInProgress(ctx context.Context, reason string) (int, error) {
	f.Paused++
	return 2, nil
}

func (f *fakePauser) ResumeRateLimited(ctx context.Context) (int, error) {
	f.Resumed++
	return 2, nil
}

func TestPauseController_TriggerAndLift(t *testing.T) {
	ctx := context.Background()
	pauser := &fakePauser{}
	c := NewPauseController(NewMemoryPauseStore(), pauser, 5*time.Minute)

	current := time.Now()
	c.now = func() time.Time { return current }

	assert.False(t, c.IsPaused(ctx))

	require.NoError(t, c.TriggerPause(ctx, "429 from provider"))
	assert.True(t, c.IsPaused(ctx))
	assert.Equal(t, 1, pauser.Paused, "in-progress campaigns flip to paused")

	remaining := c.Remaining(ctx)
	assert.Equal(t, 5*time.Minute, remaining)

	// Partway through the window the pause still holds
	current = current.Add(3 * time.Minute)
	assert.True(t, c.IsPaused(ctx))
	assert.Equal(t, 2*time.Minute, c.Remaining(ctx))

	// Past the window it lifts on read and campaigns flip back
	current = current.Add(3 * time.Minute)
	assert.False(t, c.IsPaused(ctx))
	assert.Equal(t, 1, pauser.Resumed)

	// Lift is sticky: subsequent reads see no pause
	assert.False(t, c.IsPaused(ctx))
	assert.Equal(t, 1, pauser.Resumed)
}

func TestPauseController_ExplicitWindow(t *testing.T) {
	ctx := context.Background()
	c := NewPauseController(NewMemoryPauseStore(), nil, 5*time.Minute)

	current := time.Now()
	c.now = func() time.Time { return current }

	require.NoError(t, c.TriggerPauseFor(ctx, "maintenance", 30*time.Second))
	assert.Equal(t, 30*time.Second, c.Remaining(ctx))

	state := c.State(ctx)
	assert.True(t, state.IsPaused)
	assert.Equal(t, "maintenance", state.Reason)

	current = current.Add(31 * time.Second)
	assert.False(t, c.IsPaused(ctx))
	assert.False(t, c.State(ctx).IsPaused)
}

func TestPauseController_RetriggerResetsWindow(t *testing.T) {
	ctx := context.Background()
	c := NewPauseController(NewMemoryPauseStore(), nil, time.Minute)

	current := time.Now()
	c.now = func() time.Time { return current }

	require.NoError(t, c.TriggerPause(ctx, "first"))
	current = current.Add(45 * time.Second)
	require.NoError(t, c.TriggerPause(ctx, "second"))

	// The second trigger restarts the full window
	assert.Equal(t, time.Minute, c.Remaining(ctx))
	assert.Equal(t, "second", c.State(ctx).Reason)
}

type failingPauseStore struct{}

func (failingPauseStore) Get(ctx context.Context) (*PauseState, error) {
	return nil, errors.New("store down")
}
func (failingPauseStore) Set(ctx context.Context, state *PauseState) error {
	return errors.New("store down")
}
func (failingPauseStore) Clear(ctx context.Context) error {
	return errors.New("store down")
}

func TestPauseController_FailsOpenWhenStoreUnavailable(t *testing.T) {
	c := NewPauseController(failingPauseStore{}, nil, time.Minute)

	// An unreachable store must never wedge the fleet in a paused state
	assert.False(t, c.IsPaused(context.Background()))
	assert.Zero(t, c.Remaining(context.Background()))
}

func TestPauseState_Elapsed(t *testing.T) {
	start := time.Now()
	state := &PauseState{IsPaused: true, PauseStartedAt: start, PauseDuration: time.Minute}

	assert.False(t, state.Elapsed(start.Add(30*time.Second)))
	assert.True(t, state.Elapsed(start.Add(time.Minute)))
	assert.True(t, (&PauseState{}).Elapsed(start))
}
