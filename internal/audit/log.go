package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record is one line of the main audit log: an LLM request/response pair
// (or a retrieval-query/response pair) with its large fields routed
// through the content-addressable dictionary. SystemPrompt/UserMessages/
// Response hold either the raw JSON-encoded string (first sighting this
// session) or a Ref object (repeat sighting) — either way the field
// round-trips through Resolve/Restorer without the reader needing to
// know which case it is ahead of time.
type Record struct {
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId"`
	SessionID     string          `json:"sessionId"`
	Provider      string          `json:"provider"`
	SystemPrompt  json.RawMessage `json:"systemPrompt,omitempty"`
	UserMessages  json.RawMessage `json:"userMessages,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
}

// Logger appends Records to the main audit log, deduplicating each large
// field against the shared SessionCache before it ever hits disk.
type Logger struct {
	cache *SessionCache

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// OpenLogger opens (creating if necessary) the audit log file at path,
// appending subsequent records after anything already there.
func OpenLogger(path string, cache *SessionCache) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open audit log %s: %w", path, err)
	}
	return &Logger{cache: cache, file: f, writer: bufio.NewWriter(f)}, nil
}

// Record appends one request/response audit entry. Any of systemPrompt,
// userMessages, response may be empty, in which case the corresponding
// field is omitted rather than deduplicated as an empty string.
func (l *Logger) Record(correlationID, sessionID, provider, systemPrompt, userMessages, response string) error {
	sys, err := l.emitField(systemPrompt)
	if err != nil {
		return fmt.Errorf("audit: dedup system prompt: %w", err)
	}
	user, err := l.emitField(userMessages)
	if err != nil {
		return fmt.Errorf("audit: dedup user messages: %w", err)
	}
	resp, err := l.emitField(response)
	if err != nil {
		return fmt.Errorf("audit: dedup response: %w", err)
	}

	rec := Record{
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		SessionID:     sessionID,
		Provider:      provider,
		SystemPrompt:  sys,
		UserMessages:  user,
		Response:      resp,
	}

	line, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("audit: encode record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(line); err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("audit: write record newline: %w", err)
	}
	return l.writer.Flush()
}

func (l *Logger) emitField(content string) (json.RawMessage, error) {
	if content == "" {
		return nil, nil
	}
	full, ref, err := l.cache.Emit(content)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		return json.Marshal(ref)
	}
	return json.Marshal(full)
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}
