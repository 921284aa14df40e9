package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pauseKey        = "mailblast:global_pause"
	lockKeyPrefix   = "mailblast:lock:"
	cancelKeyPrefix = "mailblast:cancel:"

	// Cancel flags expire on their own so an abandoned campaign does not
	// leave a flag behind forever
	cancelFlagTTL = 24 * time.Hour
)

// RedisPauseStore keeps the shared pause state in Redis so every worker in
// the deployment observes the same rate-limit window. The key carries the
// pause duration as its TTL, so Redis itself expires an elapsed pause.
type RedisPauseStore struct {
	client *redis.Client
}

// NewRedisPauseStore creates a pause store over an existing Redis client
func NewRedisPauseStore(client *redis.Client) *RedisPauseStore {
	return &RedisPauseStore{client: client}
}

func (s *RedisPauseStore) Get(ctx context.Context) (*PauseState, error) {
	val, err := s.client.Get(ctx, pauseKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pause state: %w", err)
	}

	var state PauseState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to decode pause state: %w", err)
	}
	return &state, nil
}

func (s *RedisPauseStore) Set(ctx context.Context, state *PauseState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode pause state: %w", err)
	}
	if err := s.client.Set(ctx, pauseKey, body, state.PauseDuration).Err(); err != nil {
		return fmt.Errorf("failed to write pause state: %w", err)
	}
	return nil
}

func (s *RedisPauseStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, pauseKey).Err(); err != nil {
		return fmt.Errorf("failed to clear pause state: %w", err)
	}
	return nil
}

// releaseScript deletes the lock only when the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// refreshScript extends the lock TTL only when the caller still owns it
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock is a WorkerLock backed by SET NX with a TTL. Abandonment is
// handled by Redis expiry: a crashed worker's lock disappears when its TTL
// runs out even though Release never ran.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock creates a Redis-backed worker lock with the given TTL
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{client: client, ttl: ttl}
}

func (l *RedisLock) TryAcquire(ctx context.Context, campaignID, ownerID string) (bool, error) {
	key := lockKeyPrefix + campaignID

	ok, err := l.client.SetNX(ctx, key, ownerID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if ok {
		return true, nil
	}

	// Re-acquisition by the current owner is allowed
	current, err := l.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Lock expired between SETNX and GET; try once more
		return l.client.SetNX(ctx, key, ownerID, l.ttl).Result()
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect lock: %w", err)
	}
	if current == ownerID {
		if err := l.Refresh(ctx, campaignID, ownerID); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (l *RedisLock) Refresh(ctx context.Context, campaignID, ownerID string) error {
	key := lockKeyPrefix + campaignID
	if err := refreshScript.Run(ctx, l.client, []string{key}, ownerID, l.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to refresh lock: %w", err)
	}
	return nil
}

func (l *RedisLock) Release(ctx context.Context, campaignID, ownerID string) error {
	key := lockKeyPrefix + campaignID
	if err := releaseScript.Run(ctx, l.client, []string{key}, ownerID).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *RedisLock) Owner(ctx context.Context, campaignID string) (string, error) {
	owner, err := l.client.Get(ctx, lockKeyPrefix+campaignID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read lock owner: %w", err)
	}
	return owner, nil
}

// RedisCancelFlags stores cooperative cancel requests in Redis so a cancel
// issued through any API node reaches the worker that owns the dispatch loop
type RedisCancelFlags struct {
	client *redis.Client
}

// NewRedisCancelFlags creates cancel flags over an existing Redis client
func NewRedisCancelFlags(client *redis.Client) *RedisCancelFlags {
	return &RedisCancelFlags{client: client}
}

func (f *RedisCancelFlags) SetCancel(ctx context.Context, campaignID string) error {
	if err := f.client.Set(ctx, cancelKeyPrefix+campaignID, "1", cancelFlagTTL).Err(); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}
	return nil
}

func (f *RedisCancelFlags) IsCancelled(ctx context.Context, campaignID string) (bool, error) {
	n, err := f.client.Exists(ctx, cancelKeyPrefix+campaignID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return n > 0, nil
}

func (f *RedisCancelFlags) ClearCancel(ctx context.Context, campaignID string) error {
	if err := f.client.Del(ctx, cancelKeyPrefix+campaignID).Err(); err != nil {
		return fmt.Errorf("failed to clear cancel flag: %w", err)
	}
	return nil
}
