package audit

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Restorer resolves {"$ref": hash} entries back to content, backed by an
// LRU so repeatedly-referenced hashes don't re-walk the dictionary's
// in-memory index on every lookup.
type Restorer struct {
	dict  *Dictionary
	cache *lru.Cache[string, string]
}

func NewRestorer(dict *Dictionary, size int) (*Restorer, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("audit: create restore cache: %w", err)
	}
	return &Restorer{dict: dict, cache: cache}, nil
}

// Resolve returns the content for a Ref, or an error if the dictionary has
// no full entry recorded for that hash.
func (r *Restorer) Resolve(ref Ref) (string, error) {
	if content, ok := r.cache.Get(ref.Hash); ok {
		return content, nil
	}

	content, ok := r.dict.Resolve(ref.Hash)
	if !ok {
		return "", fmt.Errorf("audit: no dictionary entry for hash %q", ref.Hash)
	}
	r.cache.Add(ref.Hash, content)
	return content, nil
}
