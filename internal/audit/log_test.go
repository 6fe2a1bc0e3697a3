package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, *Dictionary, string) {
	t.Helper()
	dir := t.TempDir()
	dictPath := filepath.Join(dir, "dictionary.jsonl")
	dict, err := Open(dictPath)
	require.NoError(t, err)
	t.Cleanup(func() { dict.Close() })

	cache := NewSessionCache(dict)
	logPath := filepath.Join(dir, "audit.jsonl")
	logger, err := OpenLogger(logPath, cache)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })

	return logger, dict, logPath
}

func TestLoggerRecordsFirstSightingInFull(t *testing.T) {
	logger, _, logPath := newTestLogger(t)

	require.NoError(t, logger.Record("corr-1", "sess-1", "anthropic", "a system prompt", "hello", "hi there"))
	require.NoError(t, logger.Close())

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	records, err := ReadRecords(f)
	require.NoError(t, err)
	require.Len(t, records, 1)

	text, ref, isRef, err := DecodeField(records[0].SystemPrompt)
	require.NoError(t, err)
	require.False(t, isRef)
	require.Nil(t, ref)
	require.Equal(t, "a system prompt", text)
}

func TestLoggerEmitsRefOnRepeatSighting(t *testing.T) {
	logger, dict, logPath := newTestLogger(t)

	sharedPrompt := strings.Repeat("x", 5000)
	require.NoError(t, logger.Record("corr-1", "sess-1", "anthropic", sharedPrompt, "first", "resp-1"))
	require.NoError(t, logger.Record("corr-2", "sess-1", "anthropic", sharedPrompt, "second", "resp-2"))
	require.NoError(t, logger.Close())

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	records, err := ReadRecords(f)
	require.NoError(t, err)
	require.Len(t, records, 2)

	_, _, firstIsRef, err := DecodeField(records[0].SystemPrompt)
	require.NoError(t, err)
	require.False(t, firstIsRef)

	_, ref, secondIsRef, err := DecodeField(records[1].SystemPrompt)
	require.NoError(t, err)
	require.True(t, secondIsRef)
	require.Equal(t, 5000, ref.Size)

	restorer, err := NewRestorer(dict, 16)
	require.NoError(t, err)
	resolved, err := restorer.Resolve(*ref)
	require.NoError(t, err)
	require.Equal(t, sharedPrompt, resolved)
}

func TestLoggerOmitsEmptyFields(t *testing.T) {
	logger, _, logPath := newTestLogger(t)

	require.NoError(t, logger.Record("corr-1", "sess-1", "ollama", "", "only user text", ""))
	require.NoError(t, logger.Close())

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	records, err := ReadRecords(f)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Empty(t, records[0].SystemPrompt)
	require.Empty(t, records[0].Response)
	require.NotEmpty(t, records[0].UserMessages)
}
