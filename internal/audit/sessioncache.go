package audit

import "sync"

// Ref is the wire shape emitted in place of full content on a within-session
// repeat sighting.
type Ref struct {
	Hash string `json:"$ref"`
	Size int    `json:"size"`
}

// SessionCache tracks which hashes have already been emitted in full
// within one process's conversation session; a later occurrence of the
// same hash in that session emits only a Ref.
type SessionCache struct {
	dict *Dictionary

	mu   sync.Mutex
	seen map[string]bool
}

func NewSessionCache(dict *Dictionary) *SessionCache {
	return &SessionCache{dict: dict, seen: make(map[string]bool)}
}

// Emit returns either the full content (first sighting this session) or a
// Ref (repeat sighting), recording content in the durable dictionary
// either way.
func (c *SessionCache) Emit(content string) (full string, ref *Ref, err error) {
	hash, _, err := c.dict.Record(content)
	if err != nil {
		return "", nil, err
	}

	c.mu.Lock()
	firstInSession := !c.seen[hash]
	c.seen[hash] = true
	c.mu.Unlock()

	if firstInSession {
		return content, nil, nil
	}
	return "", &Ref{Hash: hash, Size: len(content)}, nil
}
