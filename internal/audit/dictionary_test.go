package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDictionary(t *testing.T) *Dictionary {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dictionary.jsonl")
	d, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRecordFirstSightingWritesFullEntry(t *testing.T) {
	d := openTestDictionary(t)
	hash, count, err := d.Record("hello world")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	require.Equal(t, 1, count)

	content, ok := d.Resolve(hash)
	require.True(t, ok)
	require.Equal(t, "hello world", content)
}

func TestRecordSubsequentSightingsIncrementUseCount(t *testing.T) {
	d := openTestDictionary(t)
	hash1, _, err := d.Record("same content")
	require.NoError(t, err)

	hash2, count, err := d.Record("same content")
	require.NoError(t, err)
	require.Equal(t, hash1, hash2)
	require.Equal(t, 2, count)
}

func TestSeenReportsFalseForUnknownContent(t *testing.T) {
	d := openTestDictionary(t)
	_, seen := d.Seen("never recorded")
	require.False(t, seen)
}

func TestSeenReportsTrueAfterRecord(t *testing.T) {
	d := openTestDictionary(t)
	hash, _, err := d.Record("content")
	require.NoError(t, err)

	gotHash, seen := d.Seen("content")
	require.True(t, seen)
	require.Equal(t, hash, gotHash)
}

func TestOpenReplaysExistingDictionaryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictionary.jsonl")
	d1, err := Open(path)
	require.NoError(t, err)
	hash, _, err := d1.Record("persisted content")
	require.NoError(t, err)
	require.NoError(t, d1.Close())

	d2, err := Open(path)
	require.NoError(t, err)
	defer d2.Close()

	content, ok := d2.Resolve(hash)
	require.True(t, ok)
	require.Equal(t, "persisted content", content)

	_, count, err := d2.Record("persisted content")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestSessionCacheEmitsFullThenRef(t *testing.T) {
	d := openTestDictionary(t)
	sc := NewSessionCache(d)

	full, ref, err := sc.Emit("hello")
	require.NoError(t, err)
	require.Equal(t, "hello", full)
	require.Nil(t, ref)

	full2, ref2, err := sc.Emit("hello")
	require.NoError(t, err)
	require.Empty(t, full2)
	require.NotNil(t, ref2)
	require.Equal(t, len("hello"), ref2.Size)
}

func TestRestorerResolvesRef(t *testing.T) {
	d := openTestDictionary(t)
	hash, _, err := d.Record("restorable content")
	require.NoError(t, err)

	r, err := NewRestorer(d, 16)
	require.NoError(t, err)

	content, err := r.Resolve(Ref{Hash: hash})
	require.NoError(t, err)
	require.Equal(t, "restorable content", content)
}

func TestRestorerErrorsOnUnknownHash(t *testing.T) {
	d := openTestDictionary(t)
	r, err := NewRestorer(d, 16)
	require.NoError(t, err)

	_, err = r.Resolve(Ref{Hash: "deadbeef"})
	require.Error(t, err)
}
