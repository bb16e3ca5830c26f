package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const hotSetKey = "signalops:cache:hot"

// Cache is a Redis-backed Response Cache. Entries live in Redis with their
// own TTL so expiry is enforced by the store itself; the "hot" set used by
// Save/Load is tracked separately so a restart can warm only entries that
// earned it (spec.md §4.6: hitCount >= 5).
type Cache struct {
	rdb   *redis.Client
	ttl   TTLConfig
	log   *zap.Logger
	hits        atomic.Int64
	misses      atomic.Int64
	tokensSaved atomic.Int64

	mu sync.Mutex // serializes hitCount/feedback mutations (spec.md §5)
}

// NewCache wires a Response Cache on top of an already-connected redis
// client (either a real server or, in tests, a miniredis instance).
func NewCache(rdb *redis.Client, ttl TTLConfig, log *zap.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, log: log}
}

func entryKey(fingerprint string) string {
	return "signalops:cache:entry:" + fingerprint
}

// Get returns the cached payload if present, unexpired, and not marked
// incorrect, incrementing hitCount and lastHitAt on success.
func (c *Cache) Get(ctx context.Context, k KeyComponents) (string, bool, error) {
	fp := Fingerprint(k)
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.rdb.Get(ctx, entryKey(fp)).Result()
	if err == redis.Nil {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return "", false, fmt.Errorf("cache decode: %w", err)
	}
	if e.absent(time.Now()) {
		c.misses.Add(1)
		return "", false, nil
	}

	e.HitCount++
	now := time.Now()
	e.LastHitAt = &now
	if err := c.storeEntry(ctx, fp, e); err != nil {
		return "", false, err
	}
	if e.hot() {
		c.rdb.SAdd(ctx, hotSetKey, fp)
	}

	c.hits.Add(1)
	c.tokensSaved.Add(int64(e.EstimatedPromptTokens + e.EstimatedCompletionTokens))
	return e.Payload, true, nil
}

// Put writes a new entry with the TTL for responseType, or ttlOverride when
// positive.
func (c *Cache) Put(ctx context.Context, k KeyComponents, payload string, responseType ResponseType, ttlOverride time.Duration, source string, promptTokens, completionTokens int) error {
	fp := Fingerprint(k)
	ttl := c.ttl.forType(responseType)
	if ttlOverride > 0 {
		ttl = ttlOverride
	}
	now := time.Now()
	e := Entry{
		Fingerprint:               fp,
		Payload:                   payload,
		CreatedAt:                 now,
		ExpiresAt:                 now.Add(ttl),
		ResponseType:              responseType,
		Source:                    source,
		Feedback:                  FeedbackUnset,
		EstimatedPromptTokens:     promptTokens,
		EstimatedCompletionTokens: completionTokens,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storeEntryWithTTL(ctx, fp, e, ttl)
}

// MarkFeedback records correct (a no-op on retention) or incorrect
// (immediate invalidation) for the entry matching k.
func (c *Cache) MarkFeedback(ctx context.Context, k KeyComponents, fb Feedback) error {
	fp := Fingerprint(k)
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.rdb.Get(ctx, entryKey(fp)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache feedback get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return fmt.Errorf("cache feedback decode: %w", err)
	}
	e.Feedback = fb
	if fb == FeedbackIncorrect {
		c.rdb.SRem(ctx, hotSetKey, fp)
		return c.rdb.Del(ctx, entryKey(fp)).Err()
	}
	return c.storeEntry(ctx, fp, e)
}

// InvalidateBySource removes every entry whose Source matches source,
// returning the count removed.
func (c *Cache) InvalidateBySource(ctx context.Context, source string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, "signalops:cache:entry:*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("cache scan: %w", err)
		}
		for _, key := range keys {
			raw, err := c.rdb.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			var e Entry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				continue
			}
			if e.Source == source {
				c.rdb.Del(ctx, key)
				c.rdb.SRem(ctx, hotSetKey, e.Fingerprint)
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return removed, nil
}

// WarmCache installs precomputed patterns directly, bypassing the provider
// call they would otherwise have required.
func (c *Cache) WarmCache(ctx context.Context, patterns []WarmPattern) (int, error) {
	installed := 0
	for _, p := range patterns {
		k := KeyComponents{PromptText: p.PromptTemplate, Model: p.Model, Temperature: p.Temperature}
		if err := c.Put(ctx, k, p.PrecomputedResponse, ResponseOther, 0, "warm", 0, 0); err != nil {
			return installed, err
		}
		installed++
	}
	return installed, nil
}

// Save persists every hot entry (hitCount >= 5) to path as a JSON warm set
// (spec.md §6: "Response-cache warm set").
func (c *Cache) Save(ctx context.Context, path string) error {
	fps, err := c.rdb.SMembers(ctx, hotSetKey).Result()
	if err != nil {
		return fmt.Errorf("cache save: list hot set: %w", err)
	}
	entries := make([]Entry, 0, len(fps))
	for _, fp := range fps {
		raw, err := c.rdb.Get(ctx, entryKey(fp)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return fmt.Errorf("cache save: get entry: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}

	warmSet := struct {
		Entries    []Entry   `json:"entries"`
		LastSaved  time.Time `json:"lastSaved"`
		Counters   Stats     `json:"counters"`
	}{
		Entries:   entries,
		LastSaved: time.Now(),
		Counters:  c.Stats(ctx),
	}
	return writeWarmSet(path, warmSet)
}

// Load restores a warm set written by Save, re-seeding Redis with its hot
// entries (their own TTLs are preserved relative to expiresAt).
func (c *Cache) Load(ctx context.Context, path string) (int, error) {
	var warmSet struct {
		Entries []Entry `json:"entries"`
	}
	if err := readWarmSet(path, &warmSet); err != nil {
		return 0, err
	}
	now := time.Now()
	loaded := 0
	for _, e := range warmSet.Entries {
		if e.absent(now) {
			continue
		}
		ttl := e.ExpiresAt.Sub(now)
		if err := c.storeEntryWithTTL(ctx, e.Fingerprint, e, ttl); err != nil {
			return loaded, err
		}
		if e.hot() {
			c.rdb.SAdd(ctx, hotSetKey, e.Fingerprint)
		}
		loaded++
	}
	return loaded, nil
}

// Stats reports cumulative hit/miss counters and point-in-time totals.
func (c *Cache) Stats(ctx context.Context) Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}

	hotCount, _ := c.rdb.SCard(ctx, hotSetKey).Result()

	return Stats{
		Total:      int(total),
		Hits:       int(hits),
		Misses:     int(misses),
		HitRate:    rate,
		HotEntries: int(hotCount),
		// EstimatedCostSaved needs a per-entry model/price lookup the
		// cache does not retain; left 0 here, computed by callers that
		// still have the pricing table (pkg/llm) if needed.
		TokensSaved: int(c.tokensSaved.Load()),
	}
}

func (c *Cache) storeEntry(ctx context.Context, fp string, e Entry) error {
	ttl := time.Until(e.ExpiresAt)
	return c.storeEntryWithTTL(ctx, fp, e, ttl)
}

func (c *Cache) storeEntryWithTTL(ctx context.Context, fp string, e Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	return c.rdb.Set(ctx, entryKey(fp), raw, ttl).Err()
}
