package promptcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lynkr/lynkr/internal/canonical"
)

// DefaultSimilarityThreshold is the minimum cosine similarity between a
// candidate embedding and a cached one for the semantic cache to count
// it as a hit.
const DefaultSimilarityThreshold = 0.92

// Embedding is a dense vector representation of a piece of text.
type Embedding []float32

// EmbeddingProvider produces an embedding for the last user-turn text of
// a request. Implementations typically call out to an embeddings API;
// the cache itself never calls a model.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) (Embedding, error)
}

// StateHash hashes the system prompt plus the serialized conversation
// state (every turn except the trailing user turn, which is compared by
// embedding instead of by hash).
func StateHash(system string, priorTurns []canonical.Turn) string {
	h := sha256.New()
	h.Write([]byte(system))
	for _, t := range priorTurns {
		h.Write([]byte(t.Role))
		for _, b := range t.Content {
			if tb, ok := b.(canonical.TextBlock); ok {
				h.Write([]byte(tb.Text))
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

type semanticEntry struct {
	embedding Embedding
	response  *canonical.Response
	cachedAt  time.Time
}

// SemanticCache groups candidate entries by state hash so a lookup only
// needs to compare embeddings within the matching conversation state,
// never across unrelated conversations.
type SemanticCache struct {
	mu         sync.Mutex
	byState    *lru.Cache[string, []semanticEntry]
	threshold  float64
	ttl        time.Duration
}

func NewSemanticCache(capacity int, threshold float64, ttl time.Duration) (*SemanticCache, error) {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	cache, err := lru.New[string, []semanticEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &SemanticCache{byState: cache, threshold: threshold, ttl: ttl}, nil
}

// Lookup returns the cached response for stateHash whose stored embedding
// has cosine similarity >= threshold against candidate, or (nil, false)
// on a miss. A miss is not an error — the caller should fall through to
// the upstream call and, on success, call Store with the embedding it
// already computed for the lookup.
func (c *SemanticCache) Lookup(stateHash string, candidate Embedding) (*canonical.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.byState.Get(stateHash)
	if !ok {
		return nil, false
	}

	var best *semanticEntry
	var bestScore float64
	now := time.Now()
	kept := entries[:0]
	for i := range entries {
		e := entries[i]
		if c.ttl > 0 && now.Sub(e.cachedAt) > c.ttl {
			continue
		}
		kept = append(kept, e)
		score := cosineSimilarity(candidate, e.embedding)
		if score > bestScore {
			bestScore = score
			best = &kept[len(kept)-1]
		}
	}
	if len(kept) != len(entries) {
		c.byState.Add(stateHash, kept)
	}

	if best == nil || bestScore < c.threshold {
		return nil, false
	}
	resp := *best.response
	resp.Usage.CacheReadInputTokens = best.response.Usage.InputTokens
	return &resp, true
}

// Store records resp under stateHash, keyed by the embedding the caller
// already computed during Lookup. Only non-tool_use, successful
// responses should ever reach Store; Store itself does not check the
// response's stop reason.
func (c *SemanticCache) Store(stateHash string, embedding Embedding, resp *canonical.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, _ := c.byState.Get(stateHash)
	entries = append(entries, semanticEntry{embedding: embedding, response: resp, cachedAt: time.Now()})
	c.byState.Add(stateHash, entries)
}

func cosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
