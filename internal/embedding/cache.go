package embedding

import (
	"container/list"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/opencortex/memex/internal/circuitbreaker"
	"github.com/redis/go-redis/v9"
)

// Cache is the embedding cache contract (C2): LRU over (text, model) →
// vector with byte and entry-count budgets. Eviction is LRU on access; both
// Get and Set touch recency.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration)
	Stats() Stats
}

// MakeKey derives the EmbeddingKey for (model, text): a hash of text paired
// with the model id, per spec.md §3. xxhash is used for speed since this key
// is computed on every embed call, cache hit or not.
func MakeKey(model, text string) string {
	h := xxhash.Sum64String(text)
	return fmt.Sprintf("emb:%s:%016x", model, h)
}

// LocalLRU is the L1, in-process embedding cache: LRU eviction bounded by
// both entry count and total vector bytes, per spec.md §4.1's "fixed maxima
// on both entry count and total bytes."
type LocalLRU struct {
	mu         sync.Mutex
	capEntries int
	capBytes   int64
	usedBytes  int64
	list       *list.List
	m          map[string]*list.Element
	hits       int64
	misses     int64
}

type lruEntry struct {
	key   string
	vec   []float32
	exp   time.Time
	bytes int64
}

// NewLocalLRU creates an L1 cache bounded by capEntries and capBytes. A zero
// or negative value selects the default for that bound (4096 entries or
// 64 MiB); the cache is never unbounded.
func NewLocalLRU(capEntries int, capBytes int64) *LocalLRU {
	if capEntries <= 0 {
		capEntries = 4096
	}
	if capBytes <= 0 {
		capBytes = 64 << 20
	}
	return &LocalLRU{
		capEntries: capEntries,
		capBytes:   capBytes,
		list:       list.New(),
		m:          make(map[string]*list.Element, capEntries),
	}
}

func (l *LocalLRU) Get(_ context.Context, key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		ent := el.Value.(lruEntry)
		if ent.exp.After(time.Now()) {
			l.list.MoveToFront(el)
			l.hits++
			return ent.vec, true
		}
		l.removeElement(el)
	}
	l.misses++
	return nil, false
}

func (l *LocalLRU) Set(_ context.Context, key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entryBytes := int64(len(v) * 4)
	if el, ok := l.m[key]; ok {
		old := el.Value.(lruEntry)
		l.usedBytes -= old.bytes
		el.Value = lruEntry{key: key, vec: v, exp: time.Now().Add(ttl), bytes: entryBytes}
		l.usedBytes += entryBytes
		l.list.MoveToFront(el)
	} else {
		el := l.list.PushFront(lruEntry{key: key, vec: v, exp: time.Now().Add(ttl), bytes: entryBytes})
		l.m[key] = el
		l.usedBytes += entryBytes
	}

	for (l.list.Len() > l.capEntries || l.usedBytes > l.capBytes) && l.list.Len() > 0 {
		back := l.list.Back()
		if back == nil {
			break
		}
		l.removeElement(back)
	}
}

// removeElement must be called with l.mu held.
func (l *LocalLRU) removeElement(el *list.Element) {
	ent := el.Value.(lruEntry)
	delete(l.m, ent.key)
	l.list.Remove(el)
	l.usedBytes -= ent.bytes
}

func (l *LocalLRU) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Hits:    l.hits,
		Misses:  l.misses,
		Bytes:   l.usedBytes,
		Entries: l.list.Len(),
	}
}

// RedisCache is the L2, process-shared embedding cache, used so repeated
// embeddings of the same text across actor restarts still hit cache.
type RedisCache struct {
	cli    *circuitbreaker.RedisWrapper
	hits   int64
	misses int64
}

// NewRedisCache dials addr and wraps the client in a circuitbreaker.RedisWrapper,
// whose own Redis circuit breaker lets a degraded Redis fall back to L1-only
// transparently.
func NewRedisCache(addr string) (*RedisCache, error) {
	rc := redis.NewClient(&redis.Options{Addr: addr})
	wrapper := circuitbreaker.NewRedisWrapper(rc, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wrapper.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{cli: wrapper}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := r.cli.Get(ctx, key).Bytes()
	if err != nil {
		r.misses++
		return nil, false
	}
	if len(b)%4 != 0 {
		r.misses++
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		u := binary.LittleEndian.Uint32(b[i*4:])
		out[i] = math.Float32frombits(u)
	}
	r.hits++
	return out, true
}

func (r *RedisCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	_ = r.cli.Set(ctx, key, b, ttl).Err()
}

func (r *RedisCache) Stats() Stats {
	return Stats{Hits: r.hits, Misses: r.misses}
}

// TieredCache consults an L1 LocalLRU before an optional L2 cache (normally
// a *RedisCache), promoting L2 hits back into L1. l2 is a plain Cache
// interface rather than *RedisCache so tests can substitute a fake.
type TieredCache struct {
	l1 *LocalLRU
	l2 Cache
}

func NewTieredCache(l1 *LocalLRU, l2 *RedisCache) *TieredCache {
	if l2 == nil {
		return &TieredCache{l1: l1}
	}
	return &TieredCache{l1: l1, l2: l2}
}

func (t *TieredCache) Get(ctx context.Context, key string) ([]float32, bool) {
	if v, ok := t.l1.Get(ctx, key); ok {
		return v, true
	}
	if t.l2 == nil {
		return nil, false
	}
	if v, ok := t.l2.Get(ctx, key); ok {
		t.l1.Set(ctx, key, v, 30*time.Minute)
		return v, true
	}
	return nil, false
}

func (t *TieredCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	t.l1.Set(ctx, key, v, ttl)
	if t.l2 != nil {
		t.l2.Set(ctx, key, v, ttl)
	}
}

func (t *TieredCache) Stats() Stats {
	s := t.l1.Stats()
	if t.l2 != nil {
		l2 := t.l2.Stats()
		s.Hits += l2.Hits
		s.Misses += l2.Misses
	}
	return s
}
