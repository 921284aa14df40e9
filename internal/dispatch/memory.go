package dispatch

import (
	"context"
	"sync"
	"time"
)

// MemoryPauseStore keeps the pause state in process memory. Suitable for
// single-node deployments and tests; multi-worker deployments use Redis.
type MemoryPauseStore struct {
	mu    sync.RWMutex
	state *PauseState
}

// NewMemoryPauseStore creates an empty in-memory pause store
func NewMemoryPauseStore() *MemoryPauseStore {
	return &MemoryPauseStore{}
}

func (s *MemoryPauseStore) Get(ctx context.Context) (*PauseState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, nil
	}
	copied := *s.state
	return &copied, nil
}

func (s *MemoryPauseStore) Set(ctx context.Context, state *PauseState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.state = &copied
	return nil
}

func (s *MemoryPauseStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}

type memoryLockEntry struct {
	ownerID    string
	acquiredAt time.Time
}

// MemoryLock is an in-process WorkerLock keyed by campaign id
type MemoryLock struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	locks map[string]memoryLockEntry
}

// NewMemoryLock creates an in-memory lock with the given TTL
func NewMemoryLock(ttl time.Duration) *MemoryLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &MemoryLock{
		ttl:   ttl,
		now:   time.Now,
		locks: make(map[string]memoryLockEntry),
	}
}

func (l *MemoryLock) TryAcquire(ctx context.Context, campaignID, ownerID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[campaignID]
	if exists && entry.ownerID != ownerID && l.now().Sub(entry.acquiredAt) < l.ttl {
		return false, nil
	}

	l.locks[campaignID] = memoryLockEntry{ownerID: ownerID, acquiredAt: l.now()}
	return true, nil
}

func (l *MemoryLock) Refresh(ctx context.Context, campaignID, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, exists := l.locks[campaignID]; exists && entry.ownerID == ownerID {
		entry.acquiredAt = l.now()
		l.locks[campaignID] = entry
	}
	return nil
}

func (l *MemoryLock) Release(ctx context.Context, campaignID, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, exists := l.locks[campaignID]; exists && entry.ownerID == ownerID {
		delete(l.locks, campaignID)
	}
	return nil
}

func (l *MemoryLock) Owner(ctx context.Context, campaignID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[campaignID]
	if !exists || l.now().Sub(entry.acquiredAt) >= l.ttl {
		return "", nil
	}
	return entry.ownerID, nil
}

// MemoryCancelFlags is an in-process CancelFlags implementation
type MemoryCancelFlags struct {
	mu    sync.Mutex
	flags map[string]bool
}

// NewMemoryCancelFlags creates an empty in-memory cancel flag set
func NewMemoryCancelFlags() *MemoryCancelFlags {
	return &MemoryCancelFlags{flags: make(map[string]bool)}
}

func (f *MemoryCancelFlags) SetCancel(ctx context.Context, campaignID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[campaignID] = true
	return nil
}

func (f *MemoryCancelFlags) IsCancelled(ctx context.Context, campaignID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags[campaignID], nil
}

func (f *MemoryCancelFlags) ClearCancel(ctx context.Context, campaignID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.flags, campaignID)
	return nil
}
