package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/GoCodeAlone/gamify/internal/wildcard"
)

// MemoryConfig tunes the in-process engine.
type MemoryConfig struct {
	// CleanupInterval is how often expired keys are swept. Expiry is also
	// observed lazily on every read.
	CleanupInterval time.Duration `json:"cleanupInterval" yaml:"cleanupInterval" default:"60s"`
}

type kind int

const (
	kindString kind = iota
	kindHash
	kindList
	kindSet
	kindZSet
)

type entry struct {
	kind     kind
	str      string
	hash     map[string]string
	list     []string
	set      map[string]struct{}
	zset     map[string]float64
	expireAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemoryStore is the in-process Store engine. A single mutex guards the whole
// key space, which also gives Multi its atomicity.
type MemoryStore struct {
	cfg       MemoryConfig
	mu        sync.Mutex
	items     map[string]*entry
	connected bool
	cancel    context.CancelFunc
}

// NewMemoryStore creates a memory engine.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	return &MemoryStore{cfg: cfg, items: make(map[string]*entry)}
}

// Connect starts the expiry sweeper.
func (s *MemoryStore) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	s.connected = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.sweep(ctx)
	return nil
}

// Disconnect stops the sweeper and rejects further operations.
func (s *MemoryStore) Disconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Connected reports whether the store accepts operations.
func (s *MemoryStore) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *MemoryStore) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.items {
				if e.expired(now) {
					delete(s.items, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// lookup returns the live entry for key, observing expiry lazily.
// Caller holds the lock.
func (s *MemoryStore) lookup(key string) (*entry, bool) {
	e, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(s.items, key)
		return nil, false
	}
	return e, true
}

// typed returns the live entry for key if it holds the wanted kind.
// Caller holds the lock.
func (s *MemoryStore) typed(key string, k kind) (*entry, bool, error) {
	e, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	if e.kind != k {
		return nil, false, ErrWrongType
	}
	return e, true, nil
}

// ensure returns the live entry for key of the wanted kind, creating it if
// absent. Caller holds the lock.
func (s *MemoryStore) ensure(key string, k kind) (*entry, error) {
	e, ok, err := s.typed(key, k)
	if err != nil {
		return nil, err
	}
	if ok {
		return e, nil
	}
	e = &entry{kind: k}
	switch k {
	case kindHash:
		e.hash = make(map[string]string)
	case kindSet:
		e.set = make(map[string]struct{})
	case kindZSet:
		e.zset = make(map[string]float64)
	case kindString, kindList:
	}
	s.items[key] = e
	return e, nil
}

func (s *MemoryStore) guard() error {
	if !s.connected {
		return ErrNotConnected
	}
	return nil
}

// --- Key/value ---

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return "", false, err
	}
	e, ok, err := s.typed(key, kindString)
	if err != nil || !ok {
		return "", false, err
	}
	return e.str, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	return s.setLocked(key, value, ttl)
}

func (s *MemoryStore) setLocked(key, value string, ttl time.Duration) error {
	e := &entry{kind: kindString, str: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	s.items[key] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	return s.deleteLocked(keys...)
}

func (s *MemoryStore) deleteLocked(keys ...string) error {
	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return false, err
	}
	_, ok := s.lookup(key)
	return ok, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.incrLocked(key, delta)
}

func (s *MemoryStore) incrLocked(key string, delta int64) (int64, error) {
	e, ok, err := s.typed(key, kindString)
	if err != nil {
		return 0, err
	}
	var current int64
	if ok {
		current, err = strconv.ParseInt(e.str, 10, 64)
		if err != nil {
			return 0, ErrValueNotInteger
		}
	} else {
		e = &entry{kind: kindString}
		s.items[key] = e
	}
	current += delta
	e.str = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return false, err
	}
	return s.expireLocked(key, ttl)
}

func (s *MemoryStore) expireLocked(key string, ttl time.Duration) (bool, error) {
	e, ok := s.lookup(key)
	if !ok {
		return false, nil
	}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	} else {
		e.expireAt = time.Time{}
	}
	return true, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, false, err
	}
	e, ok := s.lookup(key)
	if !ok || e.expireAt.IsZero() {
		return 0, false, nil
	}
	return time.Until(e.expireAt), true, nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	re, err := wildcard.Compile(pattern)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	now := time.Now()
	var keys []string
	for key, e := range s.items {
		if e.expired(now) {
			delete(s.items, key)
			continue
		}
		if re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// --- Hash ---

func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return "", false, err
	}
	e, ok, err := s.typed(key, kindHash)
	if err != nil || !ok {
		return "", false, err
	}
	value, ok := e.hash[field]
	return value, ok, nil
}

func (s *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	return s.hsetLocked(key, field, value)
}

func (s *MemoryStore) hsetLocked(key, field, value string) error {
	e, err := s.ensure(key, kindHash)
	if err != nil {
		return err
	}
	e.hash[field] = value
	return nil
}

func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	e, ok, err := s.typed(key, kindHash)
	if err != nil || !ok {
		return err
	}
	for _, field := range fields {
		delete(e.hash, field)
	}
	if len(e.hash) == 0 {
		delete(s.items, key)
	}
	return nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	e, ok, err := s.typed(key, kindHash)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if ok {
		for field, value := range e.hash {
			out[field] = value
		}
	}
	return out, nil
}

func (s *MemoryStore) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.hincrByLocked(key, field, delta)
}

func (s *MemoryStore) hincrByLocked(key, field string, delta int64) (int64, error) {
	e, err := s.ensure(key, kindHash)
	if err != nil {
		return 0, err
	}
	var current int64
	if raw, ok := e.hash[field]; ok {
		current, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, ErrHashValueNotInteger
		}
	}
	current += delta
	e.hash[field] = strconv.FormatInt(current, 10)
	return current, nil
}

// --- List ---

func (s *MemoryStore) LPush(_ context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.lpushLocked(key, values...)
}

func (s *MemoryStore) lpushLocked(key string, values ...string) (int64, error) {
	e, err := s.ensure(key, kindList)
	if err != nil {
		return 0, err
	}
	for _, value := range values {
		e.list = append([]string{value}, e.list...)
	}
	return int64(len(e.list)), nil
}

func (s *MemoryStore) RPush(_ context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	e, err := s.ensure(key, kindList)
	if err != nil {
		return 0, err
	}
	e.list = append(e.list, values...)
	return int64(len(e.list)), nil
}

func (s *MemoryStore) LPop(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return "", false, err
	}
	e, ok, err := s.typed(key, kindList)
	if err != nil || !ok || len(e.list) == 0 {
		return "", false, err
	}
	value := e.list[0]
	e.list = e.list[1:]
	if len(e.list) == 0 {
		delete(s.items, key)
	}
	return value, true, nil
}

func (s *MemoryStore) RPop(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return "", false, err
	}
	e, ok, err := s.typed(key, kindList)
	if err != nil || !ok || len(e.list) == 0 {
		return "", false, err
	}
	value := e.list[len(e.list)-1]
	e.list = e.list[:len(e.list)-1]
	if len(e.list) == 0 {
		delete(s.items, key)
	}
	return value, true, nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	e, ok, err := s.typed(key, kindList)
	if err != nil || !ok {
		return nil, err
	}
	lo, hi, ok := normalizeRange(start, stop, int64(len(e.list)))
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, e.list[lo:hi+1])
	return out, nil
}

func (s *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	e, ok, err := s.typed(key, kindList)
	if err != nil || !ok {
		return 0, err
	}
	return int64(len(e.list)), nil
}

func (s *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}
	return s.ltrimLocked(key, start, stop)
}

func (s *MemoryStore) ltrimLocked(key string, start, stop int64) error {
	e, ok, err := s.typed(key, kindList)
	if err != nil || !ok {
		return err
	}
	lo, hi, ok := normalizeRange(start, stop, int64(len(e.list)))
	if !ok {
		delete(s.items, key)
		return nil
	}
	e.list = append([]string(nil), e.list[lo:hi+1]...)
	return nil
}

// --- Set ---

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.saddLocked(key, members...)
}

func (s *MemoryStore) saddLocked(key string, members ...string) (int64, error) {
	e, err := s.ensure(key, kindSet)
	if err != nil {
		return 0, err
	}
	var added int64
	for _, member := range members {
		if _, ok := e.set[member]; !ok {
			e.set[member] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	e, ok, err := s.typed(key, kindSet)
	if err != nil || !ok {
		return 0, err
	}
	var removed int64
	for _, member := range members {
		if _, ok := e.set[member]; ok {
			delete(e.set, member)
			removed++
		}
	}
	if len(e.set) == 0 {
		delete(s.items, key)
	}
	return removed, nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	e, ok, err := s.typed(key, kindSet)
	if err != nil || !ok {
		return nil, err
	}
	members := make([]string, 0, len(e.set))
	for member := range e.set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (s *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return false, err
	}
	e, ok, err := s.typed(key, kindSet)
	if err != nil || !ok {
		return false, err
	}
	_, ok = e.set[member]
	return ok, nil
}

func (s *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	e, ok, err := s.typed(key, kindSet)
	if err != nil || !ok {
		return 0, err
	}
	return int64(len(e.set)), nil
}

// --- Sorted set ---

// sortedMembers returns the zset entries ordered by score ascending, ties
// broken by member, matching Redis rank semantics.
func sortedMembers(zset map[string]float64) []Member {
	members := make([]Member, 0, len(zset))
	for member, score := range zset {
		members = append(members, Member{Member: member, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	return members
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.zaddLocked(key, score, member)
}

func (s *MemoryStore) zaddLocked(key string, score float64, member string) (int64, error) {
	e, err := s.ensure(key, kindZSet)
	if err != nil {
		return 0, err
	}
	_, existed := e.zset[member]
	e.zset[member] = score
	if existed {
		return 0, nil
	}
	return 1, nil
}

func (s *MemoryStore) ZIncrBy(_ context.Context, key string, delta float64, member string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	return s.zincrByLocked(key, delta, member)
}

func (s *MemoryStore) zincrByLocked(key string, delta float64, member string) (float64, error) {
	e, err := s.ensure(key, kindZSet)
	if err != nil {
		return 0, err
	}
	e.zset[member] += delta
	return e.zset[member], nil
}

func (s *MemoryStore) ZScore(_ context.Context, key, member string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, false, err
	}
	e, ok, err := s.typed(key, kindZSet)
	if err != nil || !ok {
		return 0, false, err
	}
	score, ok := e.zset[member]
	return score, ok, nil
}

func (s *MemoryStore) ZRank(_ context.Context, key, member string) (int64, bool, error) {
	return s.zrank(key, member, false)
}

func (s *MemoryStore) ZRevRank(_ context.Context, key, member string) (int64, bool, error) {
	return s.zrank(key, member, true)
}

func (s *MemoryStore) zrank(key, member string, reverse bool) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, false, err
	}
	e, ok, err := s.typed(key, kindZSet)
	if err != nil || !ok {
		return 0, false, err
	}
	if _, ok := e.zset[member]; !ok {
		return 0, false, nil
	}
	members := sortedMembers(e.zset)
	for i, m := range members {
		if m.Member == member {
			if reverse {
				return int64(len(members) - 1 - i), true, nil
			}
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) zrange(key string, start, stop int64, reverse bool) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	e, ok, err := s.typed(key, kindZSet)
	if err != nil || !ok {
		return nil, err
	}
	members := sortedMembers(e.zset)
	if reverse {
		for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
			members[i], members[j] = members[j], members[i]
		}
	}
	lo, hi, ok := normalizeRange(start, stop, int64(len(members)))
	if !ok {
		return nil, nil
	}
	return members[lo : hi+1], nil
}

func (s *MemoryStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := s.zrange(key, start, stop, false)
	return bareMembers(members), err
}

func (s *MemoryStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	return s.zrange(key, start, stop, false)
}

func (s *MemoryStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := s.zrange(key, start, stop, true)
	return bareMembers(members), err
}

func (s *MemoryStore) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	return s.zrange(key, start, stop, true)
}

func bareMembers(members []Member) []string {
	if members == nil {
		return nil
	}
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Member
	}
	return out
}

func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	e, ok, err := s.typed(key, kindZSet)
	if err != nil || !ok {
		return 0, err
	}
	var removed int64
	for _, member := range members {
		if _, ok := e.zset[member]; ok {
			delete(e.zset, member)
			removed++
		}
	}
	if len(e.zset) == 0 {
		delete(s.items, key)
	}
	return removed, nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return 0, err
	}
	e, ok, err := s.typed(key, kindZSet)
	if err != nil || !ok {
		return 0, err
	}
	return int64(len(e.zset)), nil
}

// Multi returns a transaction builder executed in order under the store lock.
func (s *MemoryStore) Multi() Tx {
	return &memoryTx{store: s}
}

type memoryTx struct {
	store *MemoryStore
	ops   []func() error
}

func (t *memoryTx) queue(op func() error) Tx {
	t.ops = append(t.ops, op)
	return t
}

func (t *memoryTx) Set(key, value string, ttl time.Duration) Tx {
	return t.queue(func() error { return t.store.setLocked(key, value, ttl) })
}

func (t *memoryTx) Delete(keys ...string) Tx {
	return t.queue(func() error { return t.store.deleteLocked(keys...) })
}

func (t *memoryTx) Incr(key string, delta int64) Tx {
	return t.queue(func() error { _, err := t.store.incrLocked(key, delta); return err })
}

func (t *memoryTx) Expire(key string, ttl time.Duration) Tx {
	return t.queue(func() error { _, err := t.store.expireLocked(key, ttl); return err })
}

func (t *memoryTx) HSet(key, field, value string) Tx {
	return t.queue(func() error { return t.store.hsetLocked(key, field, value) })
}

func (t *memoryTx) HIncrBy(key, field string, delta int64) Tx {
	return t.queue(func() error { _, err := t.store.hincrByLocked(key, field, delta); return err })
}

func (t *memoryTx) LPush(key string, values ...string) Tx {
	return t.queue(func() error { _, err := t.store.lpushLocked(key, values...); return err })
}

func (t *memoryTx) LTrim(key string, start, stop int64) Tx {
	return t.queue(func() error { return t.store.ltrimLocked(key, start, stop) })
}

func (t *memoryTx) SAdd(key string, members ...string) Tx {
	return t.queue(func() error { _, err := t.store.saddLocked(key, members...); return err })
}

func (t *memoryTx) ZAdd(key string, score float64, member string) Tx {
	return t.queue(func() error { _, err := t.store.zaddLocked(key, score, member); return err })
}

func (t *memoryTx) ZIncrBy(key string, delta float64, member string) Tx {
	return t.queue(func() error { _, err := t.store.zincrByLocked(key, delta, member); return err })
}

// Exec runs the queued operations in order under a single lock.
func (t *memoryTx) Exec(_ context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.guard(); err != nil {
		return err
	}
	for _, op := range t.ops {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}
