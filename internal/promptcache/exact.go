// Package promptcache implements the two optional cache hooks ahead of
// the dispatcher: an exact canonical-hash cache and a semantic
// similarity cache. Neither is load-bearing for correctness — a miss
// simply falls through to the upstream call.
package promptcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/lynkr/lynkr/internal/canonical"
)

// cacheKeyFields mirrors spec's exact-cache key definition: {model,
// system, messages, tools, temperature, top_p, max_tokens}. stream and
// tool_choice are intentionally excluded — they don't change what
// response would be cached, only how it's delivered.
type cacheKeyFields struct {
	Model       string          `json:"model"`
	System      string          `json:"system"`
	Messages    []canonical.Turn `json:"messages"`
	Tools       []canonical.Tool `json:"tools"`
	Temperature *float64        `json:"temperature"`
	TopP        *float64        `json:"top_p"`
	MaxTokens   int             `json:"max_tokens"`
}

// ExactKey computes the exact-cache key for req.
func ExactKey(req *canonical.Request) (string, error) {
	fields := cacheKeyFields{
		Model: req.Model, System: req.System, Messages: req.Messages,
		Tools: req.Tools, Temperature: req.Temperature, TopP: req.TopP, MaxTokens: req.MaxTokens,
	}
	enc, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(enc)
	return hex.EncodeToString(sum[:]), nil
}

// exactEntry is a stored upstream response plus the time it was cached.
type exactEntry struct {
	response *canonical.Response
	cachedAt time.Time
}

// ExactCache is a simple in-memory map keyed by ExactKey. Hits return the
// stored response with Usage.CacheReadInputTokens set to the original
// input token count so callers can surface a cache-read signal without
// re-deriving it.
type ExactCache struct {
	mu      sync.RWMutex
	entries map[string]exactEntry
	ttl     time.Duration
}

func NewExactCache(ttl time.Duration) *ExactCache {
	return &ExactCache{entries: make(map[string]exactEntry), ttl: ttl}
}

// Get returns a copy of the cached response for key, or (nil, false) on a
// miss or an expired entry.
func (c *ExactCache) Get(key string) (*canonical.Response, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.cachedAt) > c.ttl {
		return nil, false
	}

	resp := *entry.response
	resp.Usage.CacheReadInputTokens = entry.response.Usage.InputTokens
	return &resp, true
}

// Put stores resp under key. Only non-tool_use, non-error responses
// should ever be stored — the agent loop checks that before calling Put.
func (c *ExactCache) Put(key string, resp *canonical.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = exactEntry{response: resp, cachedAt: time.Now()}
}
