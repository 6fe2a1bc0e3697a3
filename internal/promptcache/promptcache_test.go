package promptcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lynkr/lynkr/internal/canonical"
)

func sampleRequest() *canonical.Request {
	return &canonical.Request{
		Model:  "claude-3-opus",
		System: "be helpful",
		Messages: []canonical.Turn{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "hi"}}},
		},
		MaxTokens: 1024,
	}
}

func TestExactKeyStableAcrossEquivalentRequests(t *testing.T) {
	k1, err := ExactKey(sampleRequest())
	require.NoError(t, err)
	k2, err := ExactKey(sampleRequest())
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestExactKeyDiffersOnContentChange(t *testing.T) {
	req := sampleRequest()
	k1, err := ExactKey(req)
	require.NoError(t, err)

	req.Messages[0].Content = []canonical.ContentBlock{canonical.TextBlock{Text: "bye"}}
	k2, err := ExactKey(req)
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}

func TestExactCacheMissThenHit(t *testing.T) {
	c := NewExactCache(0)
	key, err := ExactKey(sampleRequest())
	require.NoError(t, err)

	_, ok := c.Get(key)
	require.False(t, ok)

	resp := &canonical.Response{ID: "r1", Usage: canonical.Usage{InputTokens: 42}}
	c.Put(key, resp)

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, "r1", got.ID)
	require.Equal(t, 42, got.Usage.CacheReadInputTokens)
}

func TestExactCacheExpiresAfterTTL(t *testing.T) {
	c := NewExactCache(time.Millisecond)
	key := "k"
	c.Put(key, &canonical.Response{ID: "r1"})
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get(key)
	require.False(t, ok)
}

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	v := Embedding{1, 2, 3}
	require.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOrthogonalVectors(t *testing.T) {
	a := Embedding{1, 0}
	b := Embedding{0, 1}
	require.InDelta(t, 0.0, cosineSimilarity(a, b), 1e-9)
}

func TestSemanticCacheMissOnEmptyState(t *testing.T) {
	c, err := NewSemanticCache(16, 0, 0)
	require.NoError(t, err)

	_, ok := c.Lookup("state", Embedding{1, 0, 0})
	require.False(t, ok)
}

func TestSemanticCacheHitAboveThreshold(t *testing.T) {
	c, err := NewSemanticCache(16, 0.9, 0)
	require.NoError(t, err)

	resp := &canonical.Response{ID: "cached", Usage: canonical.Usage{InputTokens: 10}}
	c.Store("state-a", Embedding{1, 0, 0}, resp)

	got, ok := c.Lookup("state-a", Embedding{1, 0, 0})
	require.True(t, ok)
	require.Equal(t, "cached", got.ID)
	require.Equal(t, 10, got.Usage.CacheReadInputTokens)
}

func TestSemanticCacheMissBelowThreshold(t *testing.T) {
	c, err := NewSemanticCache(16, 0.99, 0)
	require.NoError(t, err)

	c.Store("state-b", Embedding{1, 0, 0}, &canonical.Response{ID: "cached"})

	_, ok := c.Lookup("state-b", Embedding{0, 1, 0})
	require.False(t, ok)
}

func TestSemanticCacheIsolatesDistinctStates(t *testing.T) {
	c, err := NewSemanticCache(16, 0.9, 0)
	require.NoError(t, err)

	c.Store("state-a", Embedding{1, 0, 0}, &canonical.Response{ID: "a"})

	_, ok := c.Lookup("state-c", Embedding{1, 0, 0})
	require.False(t, ok)
}

func TestStateHashStableForSamePriorTurns(t *testing.T) {
	turns := []canonical.Turn{
		{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "first"}}},
	}
	h1 := StateHash("sys", turns)
	h2 := StateHash("sys", turns)
	require.Equal(t, h1, h2)
}

func TestStateHashDiffersOnSystemChange(t *testing.T) {
	turns := []canonical.Turn{
		{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock{Text: "first"}}},
	}
	h1 := StateHash("sys-a", turns)
	h2 := StateHash("sys-b", turns)
	require.NotEqual(t, h1, h2)
}
