package dispatch

import (
	"context"
	"time"
)

// DefaultLockTTL is how long a worker lock lives without a refresh. A lock
// older than this is considered abandoned and reclaimable.
const DefaultLockTTL = 5 * time.Minute

// WorkerLock is the advisory mutual-exclusion mechanism that keeps two
// workers (or duplicated browser tabs) from dispatching the same campaign
// concurrently. Acquisition succeeds if no lock exists, the existing lock
// has outlived its TTL, or the caller already owns it.
type WorkerLock interface {
	// TryAcquire attempts to take the lock for a campaign
	TryAcquire(ctx context.Context, campaignID, ownerID string) (bool, error)

	// Refresh extends the TTL of a lock held by ownerID
	Refresh(ctx context.Context, campaignID, ownerID string) error

	// Release frees the lock if ownerID holds it
	Release(ctx context.Context, campaignID, ownerID string) error

	// Owner returns the current lock holder, or "" if unlocked
	Owner(ctx context.Context, campaignID string) (string, error)
}

// CancelFlags records cooperative stop requests per campaign. The dispatch
// loop polls the flag at the top of each iteration and between retries.
type CancelFlags interface {
	SetCancel(ctx context.Context, campaignID string) error
	IsCancelled(ctx context.Context, campaignID string) (bool, error)
	ClearCancel(ctx context.Context, campaignID string) error
}
