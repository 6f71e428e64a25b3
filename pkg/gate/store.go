// Package gate implements the distributed lock and fixed-window rate counter
// that guard every outbound connector operation. Both are backed by Redis;
// availability is preferred over perfect isolation, so a store outage makes
// the rate check fail open and the lock check fail closed (contention).
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock key only when the caller still owns it.
// The get+del must be one server-side round-trip so a lock that expired and
// was re-acquired by someone else is never deleted.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// Store is the Redis-backed lock and rate-limit store.
type Store struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewStore wraps an existing Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Connect creates a Redis client, verifies connectivity, and returns a Store.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	slog.Info("Connected to Redis lock store", "addr", cfg.Addr, "db", cfg.DB)
	return &Store{rdb: rdb}, nil
}

// AcquireLock atomically sets key=owner with the given TTL if the key is
// absent. A store error is treated as contention: the caller does not get
// the lock.
func (s *Store) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) bool {
	ok, err := s.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		slog.Warn("Lock acquire failed, treating as contention", "key", key, "error", err)
		return false
	}
	return ok
}

// ReleaseLock deletes key iff its current value equals owner. Safe to call
// repeatedly; a failed release is logged and swallowed — the TTL is the
// backstop.
func (s *Store) ReleaseLock(ctx context.Context, key, owner string) bool {
	n, err := releaseScript.Run(ctx, s.rdb, []string{key}, owner).Int()
	if err != nil {
		slog.Warn("Lock release failed, relying on TTL expiry", "key", key, "error", err)
		return false
	}
	return n == 1
}

// RateIncr increments the counter at key and sets its expiry to window on
// the first increment of a bucket. Returns the post-increment count. On a
// store error it returns (0, err); callers must treat that as an allow.
//
// This is a fixed window, not sliding: bursts across a bucket boundary can
// briefly double the effective rate, which is expected behaviour.
func (s *Store) RateIncr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("Rate counter unavailable, failing open", "key", key, "error", err)
		return 0, err
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, key, window).Err(); err != nil {
			slog.Warn("Rate counter expiry not set", "key", key, "error", err)
		}
	}
	return count, nil
}

// ScanAndClear deletes every key matching prefix*. Used as an administrative
// sweep for stale lock keys on service startup and shutdown.
func (s *Store) ScanAndClear(ctx context.Context, prefix string) (int, error) {
	var deleted int
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Warn("Failed to delete stale key", "key", iter.Val(), "error", err)
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan %q: %w", prefix, err)
	}
	return deleted, nil
}

// Get returns the raw value at key, or "" when absent. Used by tests and the
// sweeper election probe.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

// Ping verifies store connectivity. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// LockKey builds the lock key for a tenant+platform+operation tuple.
func LockKey(source, sourceID, platform, operation string) string {
	return fmt.Sprintf("lock:%s:%s:%s:%s", source, sourceID, platform, operation)
}

// RateKey builds the rate-counter key for a tenant+platform+operation tuple.
func RateKey(source, sourceID, platform, operation string) string {
	return fmt.Sprintf("rate_limit:%s:%s:%s:%s", source, sourceID, platform, operation)
}
