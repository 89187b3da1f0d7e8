// Package storage defines the Redis-shaped key-space contract every reward
// module is written against: plain keys, hashes, lists, sets and sorted sets,
// all with optional per-key expiry. Two engines are provided: an in-process
// memory store and a Redis-backed store.
package storage

import (
	"context"
	"errors"
	"time"
)

// Engine errors
var (
	// ErrNotConnected is returned when an operation runs before Connect or
	// after Disconnect.
	ErrNotConnected = errors.New("storage: not connected")

	// ErrWrongType is returned when a key holds a value of another kind.
	ErrWrongType = errors.New("storage: operation against a key holding the wrong kind of value")

	// ErrValueNotInteger is returned by Incr on a non-numeric value.
	ErrValueNotInteger = errors.New("storage: value is not an integer")

	// ErrHashValueNotInteger is returned by HIncrBy on a non-numeric field.
	ErrHashValueNotInteger = errors.New("storage: hash value is not an integer")
)

// Member is a sorted-set entry returned by the with-scores range queries.
// The shape is fixed and portable across engines.
type Member struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// Store is the capability set shared by all engines.
//
// TTL is observable on read: expired entries return absence and the engine
// may delete them lazily. Negative indices in list and sorted-set ranges
// count from the end, inclusive on both sides, with -1 denoting the last
// element. Behavior of any operation after Disconnect is undefined beyond
// returning ErrNotConnected.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool

	// Key/value
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Keys returns all live keys matching a wildcard pattern with the same
	// `*`/`?` grammar used for event subscriptions.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Hash
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// List
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LPop(ctx context.Context, key string) (string, bool, error)
	RPop(ctx context.Context, key string) (string, bool, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	// Set
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	// Sorted set. ZAdd returns 1 when the member is new and 0 on a score
	// update (plain upsert; no nx/xx variants). ZRank is the ascending
	// 0-based rank, ZRevRank the descending one; both report absence for
	// unknown members.
	ZAdd(ctx context.Context, key string, score float64, member string) (int64, error)
	ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)
	ZRank(ctx context.Context, key, member string) (int64, bool, error)
	ZRevRank(ctx context.Context, key, member string) (int64, bool, error)
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error)
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Multi starts a transaction builder. Queued operations execute in order
	// and atomically where the backend supports it; the memory engine runs
	// them under a single lock.
	Multi() Tx
}

// Tx collects operations for atomic execution. Builder calls queue work and
// never fail; Exec applies the batch.
type Tx interface {
	Set(key, value string, ttl time.Duration) Tx
	Delete(keys ...string) Tx
	Incr(key string, delta int64) Tx
	Expire(key string, ttl time.Duration) Tx
	HSet(key, field, value string) Tx
	HIncrBy(key, field string, delta int64) Tx
	LPush(key string, values ...string) Tx
	LTrim(key string, start, stop int64) Tx
	SAdd(key string, members ...string) Tx
	ZAdd(key string, score float64, member string) Tx
	ZIncrBy(key string, delta float64, member string) Tx

	Exec(ctx context.Context) error
}

// normalizeRange maps possibly-negative inclusive [start, stop] onto concrete
// slice bounds for a collection of length n. ok is false when the window is
// empty.
func normalizeRange(start, stop, n int64) (int64, int64, bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
