package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lynkr/lynkr/internal/logger"
)

// Entry is one line of the dictionary's append-only JSONL file. A first
// sighting of a hash writes a full entry (FirstSeen set, Content
// populated); every later sighting writes an update entry (FirstSeen
// nil, Content nil) that only advances LastSeen/UseCount.
type Entry struct {
	Hash      string     `json:"hash"`
	FirstSeen *time.Time `json:"firstSeen"`
	LastSeen  time.Time  `json:"lastSeen"`
	UseCount  int        `json:"useCount"`
	Content   *string    `json:"content"`
}

// Dictionary is the append-only content-addressable JSONL file plus the
// in-memory bookkeeping needed to decide full-entry vs. update-entry on
// each Record call.
type Dictionary struct {
	path string

	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	known    map[string]*Entry // hash -> current use-count/content snapshot
	fastSeen *lru.Cache[uint64, string]
}

// Open opens (creating if necessary) the dictionary file at path and
// replays it to rebuild the in-memory use-count index.
func Open(path string) (*Dictionary, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open dictionary %s: %w", path, err)
	}

	fastSeen, err := lru.New[uint64, string](4096)
	if err != nil {
		return nil, fmt.Errorf("audit: create fast-path lru: %w", err)
	}

	d := &Dictionary{
		path:     path,
		file:     f,
		writer:   bufio.NewWriter(f),
		known:    make(map[string]*Entry),
		fastSeen: fastSeen,
	}

	if err := d.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dictionary) replay() error {
	if _, err := d.file.Seek(0, 0); err != nil {
		return fmt.Errorf("audit: seek dictionary: %w", err)
	}
	scanner := bufio.NewScanner(d.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			logger.WithPrefix("audit").Warn("skipping malformed dictionary line: %v", err)
			continue
		}
		d.applyReplayed(&e)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("audit: scan dictionary: %w", err)
	}
	if _, err := d.file.Seek(0, 2); err != nil {
		return fmt.Errorf("audit: seek dictionary to end: %w", err)
	}
	return nil
}

func (d *Dictionary) applyReplayed(e *Entry) {
	existing, ok := d.known[e.Hash]
	if !ok {
		clone := *e
		d.known[e.Hash] = &clone
		return
	}
	existing.LastSeen = e.LastSeen
	existing.UseCount = e.UseCount
	if e.Content != nil {
		existing.Content = e.Content
	}
	if e.FirstSeen != nil {
		existing.FirstSeen = e.FirstSeen
	}
}

// Seen reports whether content's sha256 key already has a dictionary
// entry. The key is always computed and the authoritative map is always
// consulted; the in-process xxhash LRU only records fast→key pairs.
func (d *Dictionary) Seen(content string) (hash string, alreadySeen bool) {
	hash = Hash(content)
	fast := fastHash(content)

	d.mu.Lock()
	defer d.mu.Unlock()

	if cached, ok := d.fastSeen.Get(fast); ok && cached == hash {
		_, known := d.known[hash]
		return hash, known
	}
	_, known := d.known[hash]
	return hash, known
}

// Record appends the dictionary entry for content (full on first sighting,
// update-only thereafter) and returns the hash plus the new use count.
func (d *Dictionary) Record(content string) (hash string, useCount int, err error) {
	hash = Hash(content)
	fast := fastHash(content)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.fastSeen.Add(fast, hash)

	existing, ok := d.known[hash]
	var entry Entry
	if !ok {
		c := content
		entry = Entry{Hash: hash, FirstSeen: &now, LastSeen: now, UseCount: 1, Content: &c}
		d.known[hash] = &Entry{Hash: hash, FirstSeen: &now, LastSeen: now, UseCount: 1, Content: &c}
	} else {
		existing.UseCount++
		existing.LastSeen = now
		entry = Entry{Hash: hash, FirstSeen: nil, LastSeen: now, UseCount: existing.UseCount, Content: nil}
	}

	if err := d.appendLocked(&entry); err != nil {
		return hash, 0, err
	}
	return hash, d.known[hash].UseCount, nil
}

func (d *Dictionary) appendLocked(e *Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode dictionary entry: %w", err)
	}
	if _, err := d.writer.Write(line); err != nil {
		return fmt.Errorf("audit: write dictionary entry: %w", err)
	}
	if err := d.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("audit: write dictionary newline: %w", err)
	}
	return d.writer.Flush()
}

// Resolve returns the stored content for hash, or ("", false) if the
// dictionary has no full entry recorded for it (e.g. the file was
// truncated before the first sighting's line).
func (d *Dictionary) Resolve(hash string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.known[hash]
	if !ok || e.Content == nil {
		return "", false
	}
	return *e.Content, true
}

// Close flushes and closes the underlying file.
func (d *Dictionary) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		return err
	}
	return d.file.Close()
}
