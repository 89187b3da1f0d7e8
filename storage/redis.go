package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoCodeAlone/gamify/internal/wildcard"
)

// RedisConfig holds Redis engine configuration.
type RedisConfig struct {
	// URL is the connection URL, redis://[user:pass@]host:port[/db].
	// Takes precedence over Addr when set.
	URL      string `json:"url" yaml:"url" env:"REDIS_URL"`
	Addr     string `json:"addr" yaml:"addr" env:"REDIS_ADDR" default:"localhost:6379"`
	Username string `json:"username" yaml:"username" env:"REDIS_USERNAME"`
	Password string `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"REDIS_DB"`
	PoolSize int    `json:"poolSize" yaml:"poolSize" env:"REDIS_POOL_SIZE"`
}

// RedisStore is the Redis-backed Store engine.
type RedisStore struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisStore creates a Redis engine. The connection is established by
// Connect.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	return &RedisStore{cfg: cfg}
}

// Connect establishes and verifies the Redis connection.
func (s *RedisStore) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}
	var opts *redis.Options
	if s.cfg.URL != "" {
		parsed, err := redis.ParseURL(s.cfg.URL)
		if err != nil {
			return fmt.Errorf("storage: invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		addr := s.cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		opts = &redis.Options{
			Addr:     addr,
			Username: s.cfg.Username,
			Password: s.cfg.Password,
			DB:       s.cfg.DB,
		}
	}
	if s.cfg.PoolSize > 0 {
		opts.PoolSize = s.cfg.PoolSize
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("storage: redis ping: %w", err)
	}
	s.client = client
	return nil
}

// Disconnect closes the client.
func (s *RedisStore) Disconnect(_ context.Context) error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return fmt.Errorf("storage: redis close: %w", err)
	}
	return nil
}

// Connected reports whether Connect succeeded and Disconnect has not run.
func (s *RedisStore) Connected() bool {
	return s.client != nil
}

func (s *RedisStore) guard() (*redis.Client, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// mapIntegerErr normalizes Redis "not an integer" replies onto the typed
// storage errors.
func mapIntegerErr(err error, typed error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "not an integer") {
		return typed
	}
	return err
}

// --- Key/value ---

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	client, err := s.guard()
	if err != nil {
		return "", false, err
	}
	value, err := client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	client, err := s.guard()
	if err != nil {
		return err
	}
	return client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	client, err := s.guard()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	client, err := s.guard()
	if err != nil {
		return false, err
	}
	n, err := client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	n, err := client.IncrBy(ctx, key, delta).Result()
	return n, mapIntegerErr(err, ErrValueNotInteger)
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	client, err := s.guard()
	if err != nil {
		return false, err
	}
	if ttl <= 0 {
		return client.Persist(ctx, key).Result()
	}
	return client.Expire(ctx, key, ttl).Result()
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	client, err := s.guard()
	if err != nil {
		return 0, false, err
	}
	d, err := client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	if d < 0 {
		// -2 missing key, -1 no expiry
		return 0, false, nil
	}
	return d, true, nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	client, err := s.guard()
	if err != nil {
		return nil, err
	}
	if err := wildcard.Validate(pattern); err != nil {
		return nil, err
	}
	return client.Keys(ctx, redisGlob(pattern)).Result()
}

// redisGlob escapes the Redis glob metacharacters our grammar treats as
// literal, leaving `*` and `?` active.
func redisGlob(pattern string) string {
	pattern = wildcard.Normalize(pattern)
	var b strings.Builder
	b.Grow(len(pattern))
	for _, r := range pattern {
		switch r {
		case '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// --- Hash ---

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	client, err := s.guard()
	if err != nil {
		return "", false, err
	}
	value, err := client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	client, err := s.guard()
	if err != nil {
		return err
	}
	return client.HSet(ctx, key, field, value).Err()
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	client, err := s.guard()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	return client.HDel(ctx, key, fields...).Err()
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	client, err := s.guard()
	if err != nil {
		return nil, err
	}
	return client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	n, err := client.HIncrBy(ctx, key, field, delta).Result()
	return n, mapIntegerErr(err, ErrHashValueNotInteger)
}

// --- List ---

func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	return client.LPush(ctx, key, stringsToAny(values)...).Result()
}

func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	return client.RPush(ctx, key, stringsToAny(values)...).Result()
}

func (s *RedisStore) LPop(ctx context.Context, key string) (string, bool, error) {
	client, err := s.guard()
	if err != nil {
		return "", false, err
	}
	value, err := client.LPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return value, err == nil, err
}

func (s *RedisStore) RPop(ctx context.Context, key string) (string, bool, error) {
	client, err := s.guard()
	if err != nil {
		return "", false, err
	}
	value, err := client.RPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return value, err == nil, err
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	client, err := s.guard()
	if err != nil {
		return nil, err
	}
	return client.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	return client.LLen(ctx, key).Result()
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	client, err := s.guard()
	if err != nil {
		return err
	}
	return client.LTrim(ctx, key, start, stop).Err()
}

// --- Set ---

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	return client.SAdd(ctx, key, stringsToAny(members)...).Result()
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	return client.SRem(ctx, key, stringsToAny(members)...).Result()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	client, err := s.guard()
	if err != nil {
		return nil, err
	}
	return client.SMembers(ctx, key).Result()
}

func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	client, err := s.guard()
	if err != nil {
		return false, err
	}
	return client.SIsMember(ctx, key, member).Result()
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	return client.SCard(ctx, key).Result()
}

// --- Sorted set ---

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	return client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Result()
}

func (s *RedisStore) ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	return client.ZIncrBy(ctx, key, delta, member).Result()
}

func (s *RedisStore) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	client, err := s.guard()
	if err != nil {
		return 0, false, err
	}
	score, err := client.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	return score, err == nil, err
}

func (s *RedisStore) ZRank(ctx context.Context, key, member string) (int64, bool, error) {
	client, err := s.guard()
	if err != nil {
		return 0, false, err
	}
	rank, err := client.ZRank(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	return rank, err == nil, err
}

func (s *RedisStore) ZRevRank(ctx context.Context, key, member string) (int64, bool, error) {
	client, err := s.guard()
	if err != nil {
		return 0, false, err
	}
	rank, err := client.ZRevRank(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	return rank, err == nil, err
}

func (s *RedisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	client, err := s.guard()
	if err != nil {
		return nil, err
	}
	return client.ZRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	client, err := s.guard()
	if err != nil {
		return nil, err
	}
	zs, err := client.ZRangeWithScores(ctx, key, start, stop).Result()
	return fromRedisZ(zs), err
}

func (s *RedisStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	client, err := s.guard()
	if err != nil {
		return nil, err
	}
	return client.ZRevRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	client, err := s.guard()
	if err != nil {
		return nil, err
	}
	zs, err := client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	return fromRedisZ(zs), err
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	return client.ZRem(ctx, key, stringsToAny(members)...).Result()
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	client, err := s.guard()
	if err != nil {
		return 0, err
	}
	return client.ZCard(ctx, key).Result()
}

func fromRedisZ(zs []redis.Z) []Member {
	if zs == nil {
		return nil
	}
	members := make([]Member, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		members[i] = Member{Member: member, Score: z.Score}
	}
	return members
}

func stringsToAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// Multi returns a transaction builder backed by a Redis TxPipeline.
func (s *RedisStore) Multi() Tx {
	return &redisTx{store: s}
}

type redisTx struct {
	store *RedisStore
	ops   []func(ctx context.Context, pipe redis.Pipeliner)
}

func (t *redisTx) queue(op func(ctx context.Context, pipe redis.Pipeliner)) Tx {
	t.ops = append(t.ops, op)
	return t
}

func (t *redisTx) Set(key, value string, ttl time.Duration) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.Set(ctx, key, value, ttl) })
}

func (t *redisTx) Delete(keys ...string) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.Del(ctx, keys...) })
}

func (t *redisTx) Incr(key string, delta int64) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.IncrBy(ctx, key, delta) })
}

func (t *redisTx) Expire(key string, ttl time.Duration) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.Expire(ctx, key, ttl) })
}

func (t *redisTx) HSet(key, field, value string) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.HSet(ctx, key, field, value) })
}

func (t *redisTx) HIncrBy(key, field string, delta int64) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.HIncrBy(ctx, key, field, delta) })
}

func (t *redisTx) LPush(key string, values ...string) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.LPush(ctx, key, stringsToAny(values)...)
	})
}

func (t *redisTx) LTrim(key string, start, stop int64) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.LTrim(ctx, key, start, stop) })
}

func (t *redisTx) SAdd(key string, members ...string) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.SAdd(ctx, key, stringsToAny(members)...)
	})
}

func (t *redisTx) ZAdd(key string, score float64, member string) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	})
}

func (t *redisTx) ZIncrBy(key string, delta float64, member string) Tx {
	return t.queue(func(ctx context.Context, pipe redis.Pipeliner) { pipe.ZIncrBy(ctx, key, delta, member) })
}

func (t *redisTx) Exec(ctx context.Context) error {
	client, err := t.store.guard()
	if err != nil {
		return err
	}
	pipe := client.TxPipeline()
	for _, op := range t.ops {
		op(ctx, pipe)
	}
	_, err = pipe.Exec(ctx)
	return err
}
